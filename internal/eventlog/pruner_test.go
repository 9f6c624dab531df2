package eventlog

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePruning struct {
	cutoff time.Time
	err    error
}

func (f *fakePruning) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 7, f.err
}

func TestPrunerRunOnceUsesRetention(t *testing.T) {
	t.Parallel()

	store := &fakePruning{}
	p := NewPruner(nil, store, 48*time.Hour, "@daily")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	removed, err := p.RunOnce(context.Background())
	if err != nil || removed != 7 {
		t.Fatalf("RunOnce = (%d, %v)", removed, err)
	}
	if want := now.Add(-48 * time.Hour); !store.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, store.cutoff)
	}
}

func TestPrunerRunOnceReportsError(t *testing.T) {
	t.Parallel()

	p := NewPruner(nil, &fakePruning{err: errors.New("db down")}, time.Hour, "@daily")
	if _, err := p.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPrunerStartValidatesSchedule(t *testing.T) {
	t.Parallel()

	p := NewPruner(nil, &fakePruning{}, time.Hour, "not a schedule")
	if err := p.Start(); err == nil {
		t.Fatalf("expected invalid schedule error")
	}

	disabled := NewPruner(nil, &fakePruning{}, 0, "not a schedule")
	if err := disabled.Start(); err != nil {
		t.Fatalf("zero retention should disable pruning, got %v", err)
	}

	ok := NewPruner(nil, &fakePruning{}, time.Hour, "@every 1h")
	if err := ok.Start(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ok.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
