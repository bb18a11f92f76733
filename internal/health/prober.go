package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/af-corp/oss-relay/internal/telemetry"
	"github.com/robfig/cron/v3"
)

// Checker probes the upstream health endpoint.
type Checker interface {
	Health(ctx context.Context) (int, error)
}

// Status is the result of the most recent upstream probe.
type Status struct {
	Reachable  bool      `json:"reachable"`
	StatusCode int       `json:"status_code,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
	Error      string    `json:"error,omitempty"`
}

// Prober checks upstream health at startup and then on a cron schedule.
// It only reports; relaying never waits on it.
type Prober struct {
	checker  Checker
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	mu      sync.RWMutex
	last    Status
	checked bool

	cron *cron.Cron
}

func NewProber(checker Checker, interval time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Prober {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	return &Prober{
		checker:  checker,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Probe runs one health check and stores the result.
func (p *Prober) Probe(ctx context.Context) Status {
	st := Status{CheckedAt: time.Now().UTC()}
	code, err := p.checker.Health(ctx)
	st.StatusCode = code
	switch {
	case err != nil:
		st.Error = err.Error()
	case code != http.StatusOK:
		st.Error = fmt.Sprintf("unexpected status %d", code)
	default:
		st.Reachable = true
	}

	p.mu.Lock()
	wasReachable, hadResult := p.last.Reachable, p.checked
	p.last = st
	p.checked = true
	p.mu.Unlock()

	p.metrics.SetUpstreamUp(st.Reachable)
	if !hadResult || wasReachable != st.Reachable {
		if st.Reachable {
			p.logger.Info("upstream reachable", "status_code", code)
		} else {
			p.logger.Warn("upstream unreachable", "status_code", code, "error", st.Error)
		}
	}
	return st
}

// Start runs a probe immediately and then schedules one every interval.
func (p *Prober) Start(ctx context.Context) error {
	p.Probe(ctx)

	p.cron = cron.New()
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), func() {
		probeCtx, cancel := context.WithTimeout(ctx, p.interval)
		defer cancel()
		p.Probe(probeCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule upstream probe: %w", err)
	}
	p.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running probe to finish.
func (p *Prober) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// Last returns the most recent result and whether any probe has run yet.
func (p *Prober) Last() (Status, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.checked
}
