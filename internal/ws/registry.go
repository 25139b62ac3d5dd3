package ws

import (
	"errors"
	"net"
	"sync"
	"time"

	"thermoscope/internal/model"
)

// ErrCapacity is returned by Admit when the registry is full. The caller
// answers with 503 and closes the transport instead of admitting.
var ErrCapacity = errors.New("ws: maximum client count reached")

// Conn is one admitted client. The registry owns the transport from
// admission until removal; all writes go through Write so concurrent
// broadcast, heartbeat and pong-reply writers never interleave a frame.
type Conn struct {
	ID          uint64
	RemoteAddr  string
	ConnectedAt time.Time

	transport net.Conn

	mu            sync.Mutex
	lastActivity  time.Time
	bytesSent     uint64
	bytesReceived uint64
}

const writeWait = 10 * time.Second

// Write sends raw frame bytes to the client under a per-connection lock.
func (c *Conn) Write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.transport.SetWriteDeadline(time.Now().Add(writeWait))
	n, err := c.transport.Write(frame)
	c.bytesSent += uint64(n)
	return err
}

// Touch records client activity; the liveness monitor evicts connections
// whose last activity is older than the configured timeout.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Conn) addReceived(n int) {
	c.mu.Lock()
	c.bytesReceived += uint64(n)
	c.mu.Unlock()
}

func (c *Conn) Info() model.ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ConnectionInfo{
		ID:            c.ID,
		RemoteAddr:    c.RemoteAddr,
		ConnectedAt:   c.ConnectedAt,
		LastActivity:  c.lastActivity,
		BytesSent:     c.bytesSent,
		BytesReceived: c.bytesReceived,
	}
}

// Registry tracks the live set of admitted connections under a capacity
// bound. All mutation is mutex-guarded; iteration works on snapshots.
type Registry struct {
	mu     sync.Mutex
	max    int
	nextID uint64
	conns  map[uint64]*Conn
}

func NewRegistry(maxClients int) *Registry {
	return &Registry{
		max:   maxClients,
		conns: make(map[uint64]*Conn),
	}
}

// Admit registers a transport as a new connection, or fails with
// ErrCapacity. Identifiers are a monotonic counter.
func (r *Registry) Admit(transport net.Conn) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.max {
		return nil, ErrCapacity
	}

	r.nextID++
	now := time.Now()
	conn := &Conn{
		ID:           r.nextID,
		RemoteAddr:   transport.RemoteAddr().String(),
		ConnectedAt:  now,
		transport:    transport,
		lastActivity: now,
	}
	r.conns[conn.ID] = conn
	return conn, nil
}

// Remove deletes a connection and closes its transport. Idempotent; close
// errors are swallowed.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if ok {
		_ = conn.transport.Close()
	}
}

// EvictOldest removes the earliest-admitted connection. Oldest-first, not
// least-recently-used: a deliberate simplification for a small fixed-capacity
// server under memory pressure.
func (r *Registry) EvictOldest() (uint64, bool) {
	r.mu.Lock()
	var oldest *Conn
	for _, conn := range r.conns {
		if oldest == nil || conn.ConnectedAt.Before(oldest.ConnectedAt) {
			oldest = conn
		}
	}
	if oldest != nil {
		delete(r.conns, oldest.ID)
	}
	r.mu.Unlock()

	if oldest == nil {
		return 0, false
	}
	_ = oldest.transport.Close()
	return oldest.ID, true
}

// Snapshot returns the current connections; safe to iterate while other
// goroutines add or remove.
func (r *Registry) Snapshot() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out
}

// Max is the configured capacity bound.
func (r *Registry) Max() int {
	return r.max
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) Get(id uint64) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *Registry) Infos() []model.ConnectionInfo {
	snapshot := r.Snapshot()
	out := make([]model.ConnectionInfo, 0, len(snapshot))
	for _, conn := range snapshot {
		out = append(out, conn.Info())
	}
	return out
}

// CloseAll removes every connection; used at server shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.Snapshot() {
		r.Remove(conn.ID)
	}
}
