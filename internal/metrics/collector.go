package metrics

import (
	"context"
	"time"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
)

// StatusCounter reports how many cameras are in each status.
type StatusCounter interface {
	CountByStatus() map[directory.Status]int
}

// SessionCounter reports how many dashboard sessions are connected.
type SessionCounter interface {
	SessionCount() int
}

// Collector periodically updates gauge metrics from relay state
type Collector struct {
	cameras  StatusCounter
	sessions SessionCounter
	interval time.Duration
}

// NewCollector creates a new metrics collector
func NewCollector(cameras StatusCounter, sessions SessionCounter, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		cameras:  cameras,
		sessions: sessions,
		interval: interval,
	}
}

// Start collects until ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect refreshes the gauges once.
func (c *Collector) Collect() {
	counts := c.cameras.CountByStatus()
	for _, status := range []directory.Status{directory.StatusOnline, directory.StatusOffline, directory.StatusPending} {
		CamerasTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	if c.sessions != nil {
		DashboardSessionsActive.Set(float64(c.sessions.SessionCount()))
	}
}
