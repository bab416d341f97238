// Package poller keeps a fresh copy of the backend's dashboard status.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/scoreslip/internal/apperr"
	"github.com/example/scoreslip/internal/backend"
)

// DefaultInterval matches the dashboard's refresh cadence.
const DefaultInterval = 15 * time.Second

// Fetcher loads one dashboard status.
type Fetcher interface {
	DashboardStatus(ctx context.Context) (*backend.DashboardStatus, error)
}

// Snapshot is the most recent view of the dashboard. Status survives
// failed fetches; LastError describes the latest one.
type Snapshot struct {
	Status      *backend.DashboardStatus `json:"status"`
	FetchedAt   time.Time                `json:"fetchedAt"`
	LastError   string                   `json:"lastError,omitempty"`
	LastErrorAt *time.Time               `json:"lastErrorAt,omitempty"`
	Fetches     int                      `json:"fetches"`
}

// DashboardPoller refetches the dashboard status on a fixed interval.
// Fetches may overlap when the backend is slow; the last one to complete
// wins.
type DashboardPoller struct {
	fetcher  Fetcher
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

func NewDashboardPoller(fetcher Fetcher, interval time.Duration, logger *zap.Logger) *DashboardPoller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &DashboardPoller{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger.Named("dashboard_poller"),
	}
}

// Run fetches immediately and then on every tick until ctx is done. It
// returns once every fetch it started has finished.
func (p *DashboardPoller) Run(ctx context.Context) {
	p.logger.Info("starting dashboard poller", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	launch := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Refresh(ctx)
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping dashboard poller")
			return
		case <-ticker.C:
			launch()
		}
	}
}

// Start runs the poller in the background. The returned stop function
// cancels it and waits for it to exit; calling it more than once is safe.
func (p *DashboardPoller) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Refresh performs one fetch and records its outcome.
func (p *DashboardPoller) Refresh(ctx context.Context) {
	status, err := p.fetcher.DashboardStatus(ctx)
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot.Fetches++
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.snapshot.LastError = apperr.UserMessage(err, apperr.GenericBackendMessage)
		p.snapshot.LastErrorAt = &now
		p.logger.Warn("dashboard status fetch failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return
	}
	p.snapshot.Status = status
	p.snapshot.FetchedAt = now
	p.snapshot.LastError = ""
	p.snapshot.LastErrorAt = nil
}

// Snapshot returns a copy of the latest state.
func (p *DashboardPoller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}
