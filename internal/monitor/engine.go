// Package monitor runs the periodic sampling rounds: read the sensor,
// broadcast to WebSocket clients, persist, and forward to the report client.
package monitor

import (
	"context"
	"sync"
	"time"

	"thermoscope/internal/logging"
	"thermoscope/internal/model"
	"thermoscope/internal/sensor"
)

// Broadcaster fans a payload out to all connected clients.
type Broadcaster interface {
	Broadcast(payload any)
}

// Recorder persists good readings; nil disables persistence.
type Recorder interface {
	RecordReading(ctx context.Context, reading model.Reading) error
}

// Reporter uploads readings to the cloud service; nil disables reporting.
type Reporter interface {
	Send(ctx context.Context, reading model.Reading) error
}

type Engine struct {
	source   sensor.Source
	hub      Broadcaster
	recorder Recorder
	reporter Reporter
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewEngine(source sensor.Source, hub Broadcaster, recorder Recorder, reporter Reporter, interval time.Duration) *Engine {
	return &Engine{
		source:   source,
		hub:      hub,
		recorder: recorder,
		reporter: reporter,
		interval: interval,
	}
}

// Start launches the sampling loop; a second Start restarts it.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.cancel()
		<-e.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	logging.L().Infof("monitor started, interval %s", e.interval)
	go e.loop(ctx, e.done)
}

func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return false
	}
	e.cancel()
	<-e.done
	e.running = false
	logging.L().Infof("monitor stopped")
	return true
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// One round right away; clients connecting at boot should not wait a
	// full interval for their first datapoint.
	e.runRound(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runRound(ctx)
		}
	}
}

func (e *Engine) runRound(ctx context.Context) {
	reading, err := e.source.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.L().Warnf("sampling round failed: %v", err)
		e.hub.Broadcast(model.SensorErrorMessage{
			Type:      "sensor_error",
			Error:     err.Error(),
			Timestamp: time.Now().Unix(),
		})
		return
	}

	logging.L().Infof("reading: %.1f°C %.1f%%", reading.Temperature, reading.Humidity)
	e.hub.Broadcast(model.SensorMessage{
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		Timestamp:   reading.Timestamp.Unix(),
	})

	if e.recorder != nil {
		if err := e.recorder.RecordReading(ctx, reading); err != nil {
			logging.L().Warnf("persist reading: %v", err)
		}
	}
	if e.reporter != nil {
		if err := e.reporter.Send(ctx, reading); err != nil {
			logging.L().Warnf("report reading: %v", err)
		}
	}
}
