// Package report uploads readings to a ThingSpeak-compatible channel.
package report

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"thermoscope/internal/logging"
	"thermoscope/internal/model"
)

type Config struct {
	APIURL   string
	APIKey   string
	Interval time.Duration
}

// Client posts field1=temperature, field2=humidity updates, at most one per
// interval slot so retried rounds never double-submit.
type Client struct {
	cfg  Config
	http *http.Client

	mu       sync.Mutex
	lastSlot int64
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send uploads one reading. A send inside the same interval slot as the
// previous successful one is skipped silently.
func (c *Client) Send(ctx context.Context, reading model.Reading) error {
	slot := time.Now().Unix() / int64(c.cfg.Interval.Seconds())

	c.mu.Lock()
	if c.lastSlot == slot {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	form := url.Values{}
	form.Set("api_key", c.cfg.APIKey)
	form.Set("field1", fmt.Sprintf("%.2f", reading.Temperature))
	form.Set("field2", fmt.Sprintf("%.2f", reading.Humidity))

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/update"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("report upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report upload: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.mu.Lock()
	c.lastSlot = slot
	c.mu.Unlock()

	logging.L().Infof("report sent: T=%.1f H=%.1f entry=%s",
		reading.Temperature, reading.Humidity, strings.TrimSpace(string(body)))
	return nil
}
