package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mvtorres/groupwatch/internal/status"
	"go.uber.org/zap"
)

// Scheduler fires observation passes on a fixed interval. Passes run in
// parallel across groups but never concurrently for one group; a group
// whose previous pass is still in flight is simply skipped for the tick.
type Scheduler struct {
	registry *Registry
	engine   *Engine
	machine  *status.Machine
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewScheduler creates a scheduler with the given tick interval.
func NewScheduler(registry *Registry, engine *Engine, machine *status.Machine, logger *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{
		registry: registry,
		engine:   engine,
		machine:  machine,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the ticker goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the ticker. In-flight passes finish on their own.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one scheduling round: a pass for every monitored group that
// has none in flight. Exported so tests drive the scheduler manually.
// Ticks are suppressed entirely while the source is unavailable; polling
// resumes once the daemon is back in WATCHING.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.machine != nil && s.machine.Current() != status.Watching {
		return
	}

	groups := s.registry.List()
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := s.engine.Sync(ctx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrPassInFlight):
				s.logger.Info("pass still in flight, skipping tick", zap.String("group_id", id))
			case errors.Is(err, ErrGroupNotFound):
				// Removed between List and Sync; nothing to do.
			default:
				// Pass failures are isolated; the next tick retries.
				s.logger.Error("pass failed", zap.String("group_id", id), zap.Error(err))
			}
		}(g.ID)
	}
	wg.Wait()
}
