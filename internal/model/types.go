package model

import "time"

// Reading is one temperature/humidity sample from the sensor source.
type Reading struct {
	Temperature float64
	Humidity    float64
	Timestamp   time.Time
}

// SensorMessage is the broadcast payload pushed to every WebSocket client on
// each sampling round. Timestamp is Unix seconds to stay wire-compatible with
// existing dashboard clients; consumers treat unknown fields as ignorable.
type SensorMessage struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   int64   `json:"timestamp"`
}

// SensorErrorMessage replaces SensorMessage on a failed sampling round.
type SensorErrorMessage struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// WelcomeMessage is sent once, right after a client is admitted.
type WelcomeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// KeepaliveMessage is the low-frequency diagnostic push that keeps
// intermediary network equipment from tearing down idle connections.
type KeepaliveMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Memory    uint64 `json:"memory"`
	Clients   int    `json:"clients"`
}

// StoredReading is a Reading as persisted in the history store.
type StoredReading struct {
	ID          int64     `json:"id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// ConnectionInfo describes one admitted WebSocket client for the admin API.
type ConnectionInfo struct {
	ID            uint64    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	BytesSent     uint64    `json:"bytes_sent"`
	BytesReceived uint64    `json:"bytes_received"`
}

// StatusReport is the admin API status snapshot.
type StatusReport struct {
	Clients        int       `json:"clients"`
	MaxClients     int       `json:"max_clients"`
	MonitorRunning bool      `json:"monitor_running"`
	FreeMemory     uint64    `json:"free_memory"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSec      int64     `json:"uptime_sec"`
}
