package ws

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"thermoscope/internal/logging"
	"thermoscope/internal/model"
	"thermoscope/internal/wire"
)

const memoryCheckInterval = 10 * time.Second

// LivenessConfig tunes the heartbeat/eviction cycle.
type LivenessConfig struct {
	Heartbeat time.Duration
	Timeout   time.Duration
	// Grace delays timeout eviction for fresh connections so nobody is
	// evicted before the first heartbeat round-trip can complete.
	Grace time.Duration

	KeepaliveEnabled  bool
	KeepaliveInterval time.Duration

	// MinFreeMemory, when non-zero, triggers eviction of the oldest
	// connection once available memory drops below it.
	MinFreeMemory uint64
}

// Liveness pings every registered connection on a fixed interval and evicts
// connections that stayed silent past the timeout. It optionally pushes a
// keepalive data payload to defeat intermediary idle-connection teardown.
type Liveness struct {
	cfg      LivenessConfig
	registry *Registry
	hub      *Hub
}

func NewLiveness(cfg LivenessConfig, registry *Registry, hub *Hub) *Liveness {
	return &Liveness{cfg: cfg, registry: registry, hub: hub}
}

// Run blocks until ctx is cancelled.
func (l *Liveness) Run(ctx context.Context) {
	heartbeat := time.NewTicker(l.cfg.Heartbeat)
	defer heartbeat.Stop()

	memCheck := time.NewTicker(memoryCheckInterval)
	defer memCheck.Stop()

	var keepaliveC <-chan time.Time
	if l.cfg.KeepaliveEnabled {
		keepalive := time.NewTicker(l.cfg.KeepaliveInterval)
		defer keepalive.Stop()
		keepaliveC = keepalive.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			l.heartbeatRound()
		case <-keepaliveC:
			l.keepaliveRound()
		case <-memCheck.C:
			l.memoryRound()
		}
	}
}

// heartbeatRound sends a Ping to every connection that is not overdue and
// evicts the ones that are. Eviction happens after iteration so the registry
// is never mutated while being walked.
func (l *Liveness) heartbeatRound() {
	now := time.Now()
	ping := wire.Encode(wire.OpPing, nil)

	var evict []uint64
	for _, conn := range l.registry.Snapshot() {
		idle := now.Sub(conn.LastActivity())
		age := now.Sub(conn.ConnectedAt)

		if idle > l.cfg.Timeout && age > l.cfg.Grace {
			logging.L().Infof("client %d timed out (idle %.1fs, connected %.1fs)",
				conn.ID, idle.Seconds(), age.Seconds())
			evict = append(evict, conn.ID)
			continue
		}

		if err := conn.Write(ping); err != nil {
			logging.L().Warnf("heartbeat: client %d write failed: %v", conn.ID, err)
			evict = append(evict, conn.ID)
		}
	}

	for _, id := range evict {
		l.registry.Remove(id)
	}
}

func (l *Liveness) keepaliveRound() {
	count := l.registry.Len()
	if count == 0 {
		return
	}
	l.hub.Broadcast(model.KeepaliveMessage{
		Type:      "keepalive",
		Timestamp: time.Now().Unix(),
		Memory:    availableMemory(),
		Clients:   count,
	})
}

// memoryRound applies the resource-pressure policy: shed the single oldest
// connection rather than refusing all new work.
func (l *Liveness) memoryRound() {
	if l.cfg.MinFreeMemory == 0 || l.registry.Len() == 0 {
		return
	}
	available := availableMemory()
	if available >= l.cfg.MinFreeMemory {
		return
	}
	if id, ok := l.registry.EvictOldest(); ok {
		logging.L().Warnf("memory pressure (%d bytes available): evicted oldest client %d", available, id)
	}
}

func availableMemory() uint64 {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return stat.Available
}
