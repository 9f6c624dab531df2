package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruning deletes entries older than a cutoff.
type Pruning interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner enforces the retention window on a cron schedule.
type Pruner struct {
	store     Pruning
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
	logger    *slog.Logger
}

func NewPruner(log *slog.Logger, store Pruning, retention time.Duration, schedule string) *Pruner {
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		store:     store,
		retention: retention,
		schedule:  schedule,
		cron:      cron.New(),
		now:       time.Now,
		logger:    log.With(slog.String("component", "eventlog_pruner")),
	}
}

// Start registers the prune job and starts the scheduler. A non-positive
// retention disables pruning.
func (p *Pruner) Start() error {
	if p.retention <= 0 {
		p.logger.Info("event log pruning disabled")
		return nil
	}
	if _, err := p.cron.AddFunc(p.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = p.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.logger.Info("event log pruner started", slog.String("schedule", p.schedule), slog.Duration("retention", p.retention))
	return nil
}

// RunOnce prunes everything older than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	removed, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("event log prune failed", slog.Any("error", err))
		return 0, err
	}
	p.logger.Info("event log pruned", slog.Int64("removed", removed), slog.Time("cutoff", cutoff))
	return removed, nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (p *Pruner) Stop(ctx context.Context) error {
	done := p.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
