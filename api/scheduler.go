/*
scheduler.go - Background expiry sweeper

PURPOSE:
  Periodically moves activated subscriptions whose end date has passed to
  "expired". Expiry is also enforced lazily when a subscription is read, so
  the sweeper only keeps stored statuses and metrics current.

DESIGN:
  - Runs one sweep immediately, then one per Interval
  - Stops when the context is cancelled (Run) or on Stop()
  - A failed sweep is logged and retried on the next tick

USAGE:
  sweeper := NewExpirySweeper(handler.Service, time.Hour, logger)
  sweeper.Start()
  defer sweeper.Stop()

SEE ALSO:
  - handlers.go: TriggerSweep endpoint (manual sweep)
  - studio/ledger.go: SubscriptionLedger.ExpireOverdue
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Expirer is the slice of studio.Service the sweeper needs.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// ExpirySweeper runs Expirer.ExpireOverdue on a fixed interval.
type ExpirySweeper struct {
	expirer  Expirer
	Interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewExpirySweeper(e Expirer, interval time.Duration, log *slog.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExpirySweeper{expirer: e, Interval: interval, log: log}
}

// Run sweeps until ctx is cancelled. It always returns nil so it can be used
// directly with errgroup.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper started", "interval", s.Interval.String())
	s.sweep(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return nil
		}
	}
}

// Start runs the sweeper in its own goroutine until Stop.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stop halts a sweeper started with Start and waits for it to exit.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("expiry sweep failed", "error", err)
		}
		return
	}
	s.log.Debug("expiry sweep done", "expired", n)
}
