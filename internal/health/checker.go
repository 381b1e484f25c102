package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rowwatch/rowwatch/internal/config"
)

// Status represents the health status of the watched database.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DBHealth holds the latest probe results.
type DBHealth struct {
	Status              Status        `json:"status"`
	LastCheck           time.Time     `json:"last_check"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
}

// DefaultCheckInterval is used when the configured interval is not positive.
const DefaultCheckInterval = 15 * time.Second

// Pinger is anything that can prove the database answers queries.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reporter receives probe outcomes; *metrics.Collector satisfies it.
type Reporter interface {
	SetDBHealth(healthy bool)
	HealthCheckCompleted(d time.Duration, healthy bool)
}

// Checker performs periodic health checks on the database.
type Checker struct {
	mu      sync.RWMutex
	state   DBHealth
	db      Pinger
	metrics Reporter

	interval         time.Duration
	timeout          time.Duration
	failureThreshold int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker with configurable parameters.
// m may be nil.
func NewChecker(db Pinger, m Reporter, hcCfg config.HealthCheckConfig) *Checker {
	threshold := hcCfg.FailureThreshold
	if threshold <= 0 {
		threshold = 1
	}
	interval := hcCfg.Interval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Checker{
		db:               db,
		metrics:          m,
		interval:         interval,
		timeout:          hcCfg.Timeout,
		failureThreshold: threshold,
		stopCh:           make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.Check()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Check()
		case <-c.stopCh:
			return
		}
	}
}

// Check probes the database once and records the outcome.
func (c *Checker) Check() {
	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.db.Ping(ctx)
	elapsed := time.Since(start)

	if c.metrics != nil {
		c.metrics.HealthCheckCompleted(elapsed, err == nil)
	}
	c.updateStatus(err, elapsed)
}

func (c *Checker) updateStatus(err error, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &c.state
	st.LastCheck = time.Now()
	st.LastLatency = latency

	if err == nil {
		if st.ConsecutiveFailures > 0 {
			slog.Info("database recovered", "failures", st.ConsecutiveFailures)
		}
		st.Status = StatusHealthy
		st.ConsecutiveFailures = 0
		st.LastError = ""
	} else {
		st.ConsecutiveFailures++
		st.LastError = err.Error()
		if st.ConsecutiveFailures >= c.failureThreshold {
			if st.Status != StatusUnhealthy {
				slog.Warn("database marked unhealthy", "failures", st.ConsecutiveFailures, "err", err)
			}
			st.Status = StatusUnhealthy
		}
	}

	if c.metrics != nil {
		c.metrics.SetDBHealth(st.Status != StatusUnhealthy)
	}
}

// Healthy reports whether the database is healthy; unknown counts as healthy.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status != StatusUnhealthy
}

// Status returns a copy of the latest health state.
func (c *Checker) Status() DBHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
