package ws

import (
	"encoding/json"
	"testing"
	"time"

	"thermoscope/internal/model"
	"thermoscope/internal/wire"
)

func livenessForTest(registry *Registry, hub *Hub, timeout, grace time.Duration) *Liveness {
	return NewLiveness(LivenessConfig{
		Heartbeat: 10 * time.Millisecond,
		Timeout:   timeout,
		Grace:     grace,
	}, registry, hub)
}

func TestHeartbeatRoundPingsHealthyClients(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	transport := &fakeTransport{}
	if _, err := registry.Admit(transport); err != nil {
		t.Fatalf("admit: %v", err)
	}

	liveness := livenessForTest(registry, hub, time.Minute, 0)
	liveness.heartbeatRound()

	frames := decodeAllFrames(t, transport.bytesWritten())
	if len(frames) != 1 {
		t.Fatalf("got %d frames want 1 ping", len(frames))
	}
	if frames[0].Opcode != wire.OpPing {
		t.Fatalf("opcode: got %v want ping", frames[0].Opcode)
	}
	if registry.Len() != 1 {
		t.Fatalf("healthy client was removed")
	}
}

func TestHeartbeatRoundEvictsSilentClientPastTimeout(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	transport := &fakeTransport{}
	conn, err := registry.Admit(transport)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	// Backdate both admission and activity past timeout and grace.
	conn.ConnectedAt = conn.ConnectedAt.Add(-time.Minute)
	conn.mu.Lock()
	conn.lastActivity = time.Now().Add(-time.Minute)
	conn.mu.Unlock()

	liveness := livenessForTest(registry, hub, 15*time.Second, 10*time.Second)
	liveness.heartbeatRound()

	if registry.Len() != 0 {
		t.Fatalf("silent client not evicted")
	}
	if !transport.isClosed() {
		t.Fatalf("evicted transport not closed")
	}
}

func TestHeartbeatRoundSparesFreshConnectionsDuringGrace(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	conn, err := registry.Admit(&fakeTransport{})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	// Idle past the timeout, but the connection itself is brand new.
	conn.mu.Lock()
	conn.lastActivity = time.Now().Add(-time.Minute)
	conn.mu.Unlock()

	liveness := livenessForTest(registry, hub, 15*time.Second, 10*time.Second)
	liveness.heartbeatRound()

	if registry.Len() != 1 {
		t.Fatalf("fresh connection evicted during grace period")
	}
}

func TestHeartbeatRoundKeepsRespondingClientIndefinitely(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	transport := &fakeTransport{}
	conn, err := registry.Admit(transport)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	conn.ConnectedAt = conn.ConnectedAt.Add(-time.Hour)

	liveness := livenessForTest(registry, hub, 30*time.Millisecond, 0)
	for round := 0; round < 10; round++ {
		// The client answers every heartbeat within the timeout.
		conn.Touch()
		liveness.heartbeatRound()
		if registry.Len() != 1 {
			t.Fatalf("responsive client evicted on round %d", round)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHeartbeatRoundDropsClientOnWriteFailure(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	transport := &fakeTransport{}
	if _, err := registry.Admit(transport); err != nil {
		t.Fatalf("admit: %v", err)
	}
	transport.fail()

	liveness := livenessForTest(registry, hub, time.Minute, 0)
	liveness.heartbeatRound()

	if registry.Len() != 0 {
		t.Fatalf("client with failing transport not removed")
	}
}

func TestKeepaliveRoundBroadcastsDiagnostics(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	transport := &fakeTransport{}
	if _, err := registry.Admit(transport); err != nil {
		t.Fatalf("admit: %v", err)
	}

	liveness := NewLiveness(LivenessConfig{
		Heartbeat:         time.Second,
		Timeout:           time.Minute,
		KeepaliveEnabled:  true,
		KeepaliveInterval: time.Second,
	}, registry, hub)
	liveness.keepaliveRound()

	frames := decodeAllFrames(t, transport.bytesWritten())
	if len(frames) != 1 {
		t.Fatalf("got %d frames want 1", len(frames))
	}
	var msg model.KeepaliveMessage
	if err := json.Unmarshal(frames[0].Payload, &msg); err != nil {
		t.Fatalf("keepalive payload: %v", err)
	}
	if msg.Type != "keepalive" {
		t.Fatalf("type: got %q", msg.Type)
	}
	if msg.Clients != 1 {
		t.Fatalf("clients: got %d want 1", msg.Clients)
	}
}

func TestKeepaliveRoundSkipsEmptyRegistry(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)
	liveness := NewLiveness(LivenessConfig{
		Heartbeat:         time.Second,
		Timeout:           time.Minute,
		KeepaliveEnabled:  true,
		KeepaliveInterval: time.Second,
	}, registry, hub)

	// Nothing to assert beyond not panicking on zero clients.
	liveness.keepaliveRound()
}

func TestMemoryRoundEvictsOldestUnderPressure(t *testing.T) {
	registry := NewRegistry(3)
	hub := NewHub(registry)

	oldest, err := registry.Admit(&fakeTransport{})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	oldest.ConnectedAt = oldest.ConnectedAt.Add(-time.Minute)
	if _, err := registry.Admit(&fakeTransport{}); err != nil {
		t.Fatalf("admit: %v", err)
	}

	// A floor far above any realistic host forces the pressure path.
	liveness := NewLiveness(LivenessConfig{
		Heartbeat:     time.Second,
		Timeout:       time.Minute,
		MinFreeMemory: ^uint64(0),
	}, registry, hub)
	liveness.memoryRound()

	if registry.Len() != 1 {
		t.Fatalf("registry size: got %d want 1 after pressure eviction", registry.Len())
	}
	if _, ok := registry.Get(oldest.ID); ok {
		t.Fatalf("oldest connection survived pressure eviction")
	}
}
