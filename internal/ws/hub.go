package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"thermoscope/internal/logging"
	"thermoscope/internal/model"
	"thermoscope/internal/wire"
)

// ErrConnClosed is returned by HandleFrame once the peer has initiated a
// close; the connection is already removed when it is returned.
var ErrConnClosed = errors.New("ws: connection closed by peer")

// Hub serializes application payloads and fans them out to every registered
// connection, and dispatches inbound frames by opcode.
type Hub struct {
	registry *Registry
}

func NewHub(registry *Registry) *Hub {
	return &Hub{registry: registry}
}

// Broadcast sends one text frame with the JSON form of payload to every
// connection. A write failure on one connection never blocks delivery to the
// others: failures are collected during iteration and removed afterwards, so
// the registry is not mutated mid-iteration.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.L().Errorf("broadcast: marshal payload: %v", err)
		return
	}
	frame := wire.EncodeText(data)

	var failed []uint64
	for _, conn := range h.registry.Snapshot() {
		if err := conn.Write(frame); err != nil {
			logging.L().Warnf("broadcast: client %d write failed: %v", conn.ID, err)
			failed = append(failed, conn.ID)
		}
	}

	for _, id := range failed {
		h.registry.Remove(id)
	}
	if len(failed) > 0 {
		logging.L().Infof("broadcast: pruned %d client(s), %d remaining", len(failed), h.registry.Len())
	}
}

// SendWelcome pushes the greeting frame to a freshly admitted connection.
func (h *Hub) SendWelcome(conn *Conn) error {
	msg := model.WelcomeMessage{
		Type:      "welcome",
		Message:   "connection established",
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(wire.EncodeText(data))
}

// HandleFrame dispatches one complete inbound frame. It returns ErrConnClosed
// after a close frame (the connection is removed before returning) and a
// non-nil error for connection-fatal protocol or transport failures; the
// caller drops the connection on any error.
func (h *Hub) HandleFrame(conn *Conn, frame wire.Frame) error {
	switch frame.Opcode {
	case wire.OpClose:
		logging.L().Infof("client %d sent close frame", conn.ID)
		h.registry.Remove(conn.ID)
		return ErrConnClosed

	case wire.OpPing:
		// Echo the payload back in a pong, per RFC 6455.
		conn.Touch()
		if err := conn.Write(wire.Encode(wire.OpPong, frame.Payload)); err != nil {
			return fmt.Errorf("pong reply: %w", err)
		}
		return nil

	case wire.OpPong:
		conn.Touch()
		return nil

	case wire.OpText:
		if !utf8.Valid(frame.Payload) {
			return fmt.Errorf("client %d: text frame is not valid UTF-8", conn.ID)
		}
		conn.Touch()
		return h.handleText(conn, string(frame.Payload))

	case wire.OpBinary, wire.OpContinuation:
		// Accepted but unused by this protocol; still counts as liveness.
		conn.Touch()
		return nil

	default:
		return fmt.Errorf("client %d: unsupported %v", conn.ID, frame.Opcode)
	}
}

// handleText implements the application-level text protocol: the single
// keyword "ping" gets a "pong" text reply, a heartbeat alternative for
// clients that cannot send binary control frames.
func (h *Hub) handleText(conn *Conn, message string) error {
	if message == "ping" {
		if err := conn.Write(wire.EncodeText([]byte("pong"))); err != nil {
			return fmt.Errorf("keep-alive reply: %w", err)
		}
		return nil
	}
	logging.L().Debugf("client %d text: %.50s", conn.ID, message)
	return nil
}
