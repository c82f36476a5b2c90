/*
sweeper.go - Periodic maturity sweep

PURPOSE:
  Runs waqf.Service.Sweep on an interval so matured tranches with a stored
  expiration preference resolve without a donor call, and records every run.

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - A sweep in progress finishes before Stop returns
  - Failures are logged and recorded; the next tick tries again

USAGE:
  sweeper := NewSweeper(svc, store, time.Hour)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - waqf/preference.go: ApplyExpirationPreferences
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/waqf-engine/waqf"
)

// Sweeper drives the periodic maturity sweep.
type Sweeper struct {
	Service  *waqf.Service
	Runs     SweepRunStore
	Interval time.Duration

	log    *logrus.Entry
	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSweeper(svc *waqf.Service, runs SweepRunStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		Service:  svc,
		Runs:     runs,
		Interval: interval,
		log:      logrus.WithField("component", "sweeper"),
	}
}

// Start begins the loop. Calling it twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run(ctx)

	s.log.WithField("interval", s.Interval).Info("sweeper started")
}

// Stop cancels the loop and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	s.RunOnce(ctx)
	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce sweeps every endowment and records the report. It returns the
// report even when the sweep stopped early.
func (s *Sweeper) RunOnce(ctx context.Context) (waqf.SweepReport, error) {
	report, err := s.Service.Sweep(ctx)
	if err != nil {
		s.log.WithError(err).Error("sweep failed")
		if report.StartedAt.IsZero() {
			return report, err
		}
		report.FinishedAt = s.Service.Now()
	}

	if s.Runs != nil {
		if serr := s.Runs.SaveSweepRun(ctx, report); serr != nil {
			s.log.WithError(serr).Warn("failed to record sweep run")
		}
	}

	if report.Applied > 0 || report.Failed > 0 || len(report.Errors) > 0 {
		s.log.WithFields(logrus.Fields{
			"endowments": report.Endowments,
			"applied":    report.Applied,
			"failed":     report.Failed,
			"errors":     len(report.Errors),
		}).Info("sweep completed")
	}
	return report, err
}

// NextRun is when the next scheduled sweep will start.
func (s *Sweeper) NextRun() time.Time {
	return time.Now().Add(s.Interval)
}
