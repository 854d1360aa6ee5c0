/*
scheduler.go - Background processing of queued bill runs

PURPOSE:
  Two-part tariff bill runs can be created as queued and left for the
  scheduler. It periodically picks up every queued two-part tariff bill
  run, oldest first, and processes it.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Processes queued two-part tariff bill runs only; supplementary runs
    need their generated candidates and are processed on request
  - A failing bill run is marked errored by the processor and does not
    stop the rest of the check

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewScheduler(processor)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - processor.go: TwoPartTariff
  - api/handlers.go: CreateBillRun (queued when async)
*/
package billrun

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/abstraction-billing/billing"
	"github.com/warp/abstraction-billing/config"
	"github.com/warp/abstraction-billing/generic"
)

// Scheduler processes queued bill runs in the background.
type Scheduler struct {
	Processor     *Processor
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler for processor.
func NewScheduler(processor *Processor) *Scheduler {
	return &Scheduler{
		Processor:     processor,
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Processor.Log.Info("bill run scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Processor.Log.WithField("interval", s.CheckInterval.String()).Info("bill run scheduler started")
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Processor.Log.Info("bill run scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunNow processes every queued two-part tariff bill run and returns how many
// were processed and how many failed.
func (s *Scheduler) RunNow(ctx context.Context) (processed, failed int) {
	const funcName = "Scheduler.RunNow"
	log := s.Processor.Log

	queued, err := s.Processor.Store.BillRunsByStatus(ctx, billing.BillRunQueued)
	if err != nil {
		config.LogError(log, moduleName, funcName, "listing queued bill runs", nil, err)
		return 0, 0
	}

	for _, billRun := range queued {
		if billRun.BatchType != billing.BatchTwoPartTariff {
			continue
		}
		if _, err := s.Processor.TwoPartTariff(ctx, billRun); err != nil {
			// Picked up elsewhere since it was listed.
			if errors.Is(err, generic.ErrInvalidTransition) {
				continue
			}
			failed++
			continue
		}
		processed++
	}

	if processed > 0 || failed > 0 {
		log.WithFields(logrus.Fields{
			"processed": processed,
			"failed":    failed,
		}).Info("bill run scheduler check completed")
	}
	return processed, failed
}
