// Package scheduler triggers periodic sync rounds.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"calsync/internal/sync"
)

// Syncer runs one full sync round over all configured sources.
type Syncer interface {
	SyncAll(ctx context.Context) ([]sync.Result, error)
}

// Scheduler runs sync rounds on a cron schedule.
type Scheduler struct {
	engine Syncer
	spec   string
	log    *slog.Logger
}

// New creates a Scheduler. spec is a standard 5-field cron expression,
// e.g. "*/5 * * * *".
func New(engine Syncer, spec string, log *slog.Logger) *Scheduler {
	return &Scheduler{engine: engine, spec: spec, log: log}
}

// Run performs an immediate round, then follows the cron schedule
// until ctx is cancelled. An in-flight round is let finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.round(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.spec, err)
	}

	s.round(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) round(ctx context.Context) {
	results, err := s.engine.SyncAll(ctx)
	if err != nil {
		s.log.Error("sync round", "error", err)
		return
	}

	changed, failed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else if r.Changed {
			changed++
		}
	}
	s.log.Info("sync round complete", "sources", len(results), "changed", changed, "failed", failed)
}
