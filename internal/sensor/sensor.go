// Package sensor provides the reading source the monitor samples from.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"thermoscope/internal/model"
)

// Source is the collaborator interface the monitor consumes.
type Source interface {
	Read(ctx context.Context) (model.Reading, error)
}

// Probe performs one raw acquisition from the underlying hardware.
type Probe func(ctx context.Context) (temperature, humidity float64, err error)

// ErrNotReady reports a read attempted before the minimum spacing between
// acquisitions has elapsed; DHT-class sensors return garbage when polled
// faster than every 2 seconds.
var ErrNotReady = errors.New("sensor: minimum read interval not elapsed")

// DriverConfig tunes the retry wrapper around a Probe.
type DriverConfig struct {
	Retries     int
	MinInterval time.Duration
	RetryDelay  time.Duration
}

// Driver wraps a Probe with retry, minimum read spacing and validity bounds.
type Driver struct {
	cfg   DriverConfig
	probe Probe

	mu       sync.Mutex
	lastRead time.Time
	cached   model.Reading
	hasCache bool
}

func NewDriver(cfg DriverConfig, probe Probe) *Driver {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Driver{cfg: cfg, probe: probe}
}

// Read acquires a validated reading, retrying transient probe failures.
// Within the minimum interval it serves the cached reading instead of
// touching the hardware again.
func (d *Driver) Read(ctx context.Context) (model.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasCache && time.Since(d.lastRead) < d.cfg.MinInterval {
		return d.cached, nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return model.Reading{}, err
		}

		temperature, humidity, err := d.probe(ctx)
		if err == nil {
			if err := validate(temperature, humidity); err != nil {
				return model.Reading{}, err
			}
			reading := model.Reading{
				Temperature: temperature,
				Humidity:    humidity,
				Timestamp:   time.Now().UTC(),
			}
			d.cached = reading
			d.hasCache = true
			d.lastRead = time.Now()
			return reading, nil
		}

		lastErr = err
		if attempt < d.cfg.Retries {
			select {
			case <-ctx.Done():
				return model.Reading{}, ctx.Err()
			case <-time.After(d.cfg.RetryDelay):
			}
		}
	}

	return model.Reading{}, fmt.Errorf("sensor read failed after %d attempts: %w", d.cfg.Retries, lastErr)
}

// validate applies the DHT22 plausibility bounds.
func validate(temperature, humidity float64) error {
	if temperature < -40 || temperature > 80 {
		return fmt.Errorf("sensor: temperature %.1f°C out of range", temperature)
	}
	if humidity < 0 || humidity > 100 {
		return fmt.Errorf("sensor: humidity %.1f%% out of range", humidity)
	}
	return nil
}

// SimulatedProbe produces a slow sine-wave climate for hardware-less runs.
func SimulatedProbe() Probe {
	start := time.Now()
	rng := rand.New(rand.NewSource(start.UnixNano()))
	var mu sync.Mutex

	return func(_ context.Context) (float64, float64, error) {
		mu.Lock()
		defer mu.Unlock()

		phase := time.Since(start).Seconds() / 900
		temperature := 22 + 4*math.Sin(phase) + rng.Float64()*0.4 - 0.2
		humidity := 55 + 10*math.Cos(phase/2) + rng.Float64()*1.0 - 0.5
		return temperature, humidity, nil
	}
}
