package channelchecker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/healthcheck"
)

type staticObserver []channel.ConnectionStatus

func (s staticObserver) ConnectionStatuses() []channel.ConnectionStatus { return s }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGradesConnections(t *testing.T) {
	t.Parallel()

	now := time.Now()
	checker := NewChecker(quietLogger(), staticObserver{
		{ChannelID: "ch-3", ChannelType: channel.TypeSession, Status: channel.StatusError, LastError: " connect timeout "},
		{ChannelID: "ch-1", ChannelType: channel.TypeSession, Status: channel.StatusActive, Running: true, UpdatedAt: now},
		{ChannelID: "ch-2", ChannelType: channel.TypeSession, Status: channel.StatusQRReady, Running: true},
	})

	items := checker.ListChecks(context.Background())
	want := []struct{ id, status string }{
		{"channel.connection.ch-1", healthcheck.StatusOK},
		{"channel.connection.ch-2", healthcheck.StatusWarn},
		{"channel.connection.ch-3", healthcheck.StatusError},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d checks, got %d", len(want), len(items))
	}
	for i, w := range want {
		if items[i].ID != w.id || items[i].Status != w.status {
			t.Fatalf("item %d: got %s/%s, want %s/%s", i, items[i].ID, items[i].Status, w.id, w.status)
		}
	}
	if items[2].Detail != "connect timeout" {
		t.Fatalf("unexpected detail: %q", items[2].Detail)
	}
	if _, ok := items[0].Metadata["updated_at"]; !ok {
		t.Fatalf("expected updated_at on ch-1")
	}
	if _, ok := items[1].Metadata["updated_at"]; ok {
		t.Fatalf("zero timestamps should be omitted")
	}
}

func TestMissingObserverWarns(t *testing.T) {
	t.Parallel()

	items := NewChecker(quietLogger(), nil).ListChecks(context.Background())
	if len(items) != 1 || items[0].Status != healthcheck.StatusWarn {
		t.Fatalf("expected a single warn item, got %+v", items)
	}
	if report := healthcheck.Run(context.Background(), NewChecker(quietLogger(), staticObserver{})); report.Status != healthcheck.StatusOK {
		t.Fatalf("no connections should be ok, got %s", report.Status)
	}
}

func TestShortID(t *testing.T) {
	t.Parallel()

	if got := shortID("0123456789"); got != "01234567" {
		t.Fatalf("unexpected short id %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("unexpected short id %q", got)
	}
}
