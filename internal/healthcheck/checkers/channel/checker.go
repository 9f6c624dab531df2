// Package channelchecker turns the connection manager's live view into
// healthcheck items, one per held channel.
package channelchecker

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/healthcheck"
)

const kind = "channel.connection"

// ConnectionObserver reads runtime channel connection statuses.
type ConnectionObserver interface {
	ConnectionStatuses() []channel.ConnectionStatus
}

type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
}

func NewChecker(log *slog.Logger, observer ConnectionObserver) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{logger: log.With(slog.String("checker", "channels")), observer: observer}
}

// ListChecks grades every connection the manager holds: a running active
// session is ok, one still pairing or connecting warns, the rest fail.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx.Err() != nil {
		return nil
	}
	if c.observer == nil {
		c.logger.Warn("no connection observer wired")
		return []healthcheck.CheckResult{{
			ID:      kind + ".service",
			Type:    kind,
			Status:  healthcheck.StatusWarn,
			Summary: "Connection manager is not available.",
		}}
	}

	statuses := slices.Clone(c.observer.ConnectionStatuses())
	slices.SortFunc(statuses, func(a, b channel.ConnectionStatus) int {
		return cmp.Or(cmp.Compare(a.ChannelType, b.ChannelType), cmp.Compare(a.ChannelID, b.ChannelID))
	})
	out := make([]healthcheck.CheckResult, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toResult(st))
	}
	return out
}

func toResult(st channel.ConnectionStatus) healthcheck.CheckResult {
	label := string(st.ChannelType)
	if label == "" {
		label = "unknown"
	}
	res := healthcheck.CheckResult{
		ID:       kind + "." + st.ChannelID,
		Type:     kind,
		Subtitle: fmt.Sprintf("%s (%s)", label, shortID(st.ChannelID)),
		Metadata: map[string]any{
			"channel_id":   st.ChannelID,
			"channel_type": label,
			"status":       string(st.Status),
			"running":      st.Running,
		},
	}
	if !st.UpdatedAt.IsZero() {
		res.Metadata["updated_at"] = st.UpdatedAt.UTC().Format(time.RFC3339)
	}
	res.Status = grade(st)
	switch res.Status {
	case healthcheck.StatusOK:
		res.Summary = "Connected."
	case healthcheck.StatusWarn:
		res.Summary = "Waiting: " + string(st.Status) + "."
	default:
		res.Summary = "Connection is down."
		res.Detail = strings.TrimSpace(st.LastError)
	}
	return res
}

func grade(st channel.ConnectionStatus) string {
	if st.Running && st.Status == channel.StatusActive {
		return healthcheck.StatusOK
	}
	if st.Status.Live() {
		return healthcheck.StatusWarn
	}
	return healthcheck.StatusError
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
