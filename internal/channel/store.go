package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/db"
	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

// Store persists channel records.
type Store interface {
	CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error)
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	ListChannelsByStatus(ctx context.Context, statuses []Status) ([]Channel, error)
	UpdateStatus(ctx context.Context, channelID string, status Status) error
	UpdateSessionConfig(ctx context.Context, channelID string, patch SessionConfigPatch) error
	SetActive(ctx context.Context, channelID string, active bool) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// PgStore is the PostgreSQL-backed channel and webhook store.
type PgStore struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPgStore creates a channel store over conn.
func NewPgStore(log *slog.Logger, conn db.DBTX) *PgStore {
	if log == nil {
		log = slog.Default()
	}
	return &PgStore{db: conn, logger: log.With(slog.String("service", "channel_store"))}
}

const channelColumns = `id, type, name, config, status, last_status_update, is_active, created_at, updated_at`

func scanChannel(row pgx.Row) (Channel, error) {
	var (
		ch     Channel
		chType string
		status string
		raw    []byte
	)
	if err := row.Scan(&ch.ID, &chType, &ch.Name, &raw, &status, &ch.LastStatusUpdate, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return Channel{}, err
	}
	ch.Type = ChannelType(chType)
	ch.Status = Status(status)
	cfg, err := DecodeConfig(ch.Type, raw)
	if err != nil {
		return Channel{}, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	ch.Config = cfg
	return ch, nil
}

func (s *PgStore) CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	raw, err := json.Marshal(req.Config)
	if err != nil {
		return Channel{}, fmt.Errorf("encode config: %w", err)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO channels (id, type, name, config, status, is_active)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6)
		RETURNING `+channelColumns,
		id, req.Type.String(), strings.TrimSpace(req.Name), raw, StatusInactive.String(), active,
	)
	ch, err := scanChannel(row)
	if err != nil {
		return Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	ch.Webhooks = []webhook.Subscription{}
	s.logger.Info("channel created", slog.String("channel_id", ch.ID), slog.String("type", ch.Type.String()))
	return ch, nil
}

func (s *PgStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	row := s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, channelID)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel: %w", err)
	}
	hooks, err := s.ListWebhooks(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	ch.Webhooks = hooks
	return ch, nil
}

func (s *PgStore) ListChannels(ctx context.Context) ([]Channel, error) {
	return s.queryChannels(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY created_at`)
}

func (s *PgStore) ListChannelsByStatus(ctx context.Context, statuses []Status) ([]Channel, error) {
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, st.String())
	}
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE is_active AND status = ANY($1) ORDER BY created_at`,
		values,
	)
}

func (s *PgStore) queryChannels(ctx context.Context, query string, args ...any) ([]Channel, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	items := []Channel{}
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, channelID string, status Status) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE channels SET status = $2, last_status_update = now(), updated_at = now() WHERE id = $1`,
		channelID, status.String(),
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

func (s *PgStore) UpdateSessionConfig(ctx context.Context, channelID string, patch SessionConfigPatch) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode config patch: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE channels SET config = config || $2::jsonb, updated_at = now() WHERE id = $1`,
		channelID, raw,
	)
	if err != nil {
		return fmt.Errorf("update session config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

func (s *PgStore) SetActive(ctx context.Context, channelID string, active bool) (Channel, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE channels SET is_active = $2, updated_at = now() WHERE id = $1 RETURNING `+channelColumns,
		channelID, active,
	)
	ch, err := scanChannel(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("set active: %w", err)
	}
	return ch, nil
}

func (s *PgStore) DeleteChannel(ctx context.Context, channelID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	s.logger.Info("channel deleted", slog.String("channel_id", channelID))
	return nil
}

const webhookColumns = `id, channel_id, url, events, is_active, created_at, updated_at`

func scanWebhook(row pgx.Row) (webhook.Subscription, error) {
	var (
		sub    webhook.Subscription
		id     uuid.UUID
		events []string
	)
	if err := row.Scan(&id, &sub.ChannelID, &sub.URL, &events, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return webhook.Subscription{}, err
	}
	sub.ID = id.String()
	sub.Events = make([]webhook.EventKind, 0, len(events))
	for _, e := range events {
		sub.Events = append(sub.Events, webhook.EventKind(e))
	}
	return sub, nil
}

func eventStrings(kinds []webhook.EventKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k.String())
	}
	return out
}

// ListWebhooks returns all subscriptions of a channel, active or not.
func (s *PgStore) ListWebhooks(ctx context.Context, channelID string) ([]webhook.Subscription, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+webhookColumns+` FROM channel_webhooks WHERE channel_id = $1 ORDER BY created_at`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	items := []webhook.Subscription{}
	for rows.Next() {
		sub, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return items, nil
}

// AddWebhook registers a new subscription on a channel.
func (s *PgStore) AddWebhook(ctx context.Context, channelID string, req webhook.UpsertRequest) (webhook.Subscription, error) {
	kinds, err := req.Normalize(true)
	if err != nil {
		return webhook.Subscription{}, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO channel_webhooks (id, channel_id, url, events, is_active)
		SELECT $1, id, $3, $4, $5 FROM channels WHERE id = $2
		RETURNING `+webhookColumns,
		uuid.New(), channelID, strings.TrimSpace(*req.URL), eventStrings(kinds), active,
	)
	sub, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Subscription{}, ErrChannelNotFound
	}
	if err != nil {
		return webhook.Subscription{}, fmt.Errorf("insert webhook: %w", err)
	}
	return sub, nil
}

// UpdateWebhook applies the non-nil fields of req to one subscription.
func (s *PgStore) UpdateWebhook(ctx context.Context, channelID, webhookID string, req webhook.UpsertRequest) (webhook.Subscription, error) {
	kinds, err := req.Normalize(false)
	if err != nil {
		return webhook.Subscription{}, err
	}
	id, err := uuid.Parse(webhookID)
	if err != nil {
		return webhook.Subscription{}, webhook.ErrSubscriptionNotFound
	}
	var url *string
	if req.URL != nil {
		trimmed := strings.TrimSpace(*req.URL)
		url = &trimmed
	}
	var events []string
	if kinds != nil {
		events = eventStrings(kinds)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE channel_webhooks SET
			url = COALESCE($3, url),
			events = COALESCE($4, events),
			is_active = COALESCE($5, is_active),
			updated_at = now()
		WHERE id = $1 AND channel_id = $2
		RETURNING `+webhookColumns,
		id, channelID, url, events, req.IsActive,
	)
	sub, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return webhook.Subscription{}, webhook.ErrSubscriptionNotFound
	}
	if err != nil {
		return webhook.Subscription{}, fmt.Errorf("update webhook: %w", err)
	}
	return sub, nil
}

// RemoveWebhook deletes one subscription.
func (s *PgStore) RemoveWebhook(ctx context.Context, channelID, webhookID string) error {
	id, err := uuid.Parse(webhookID)
	if err != nil {
		return webhook.ErrSubscriptionNotFound
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM channel_webhooks WHERE id = $1 AND channel_id = $2`, id, channelID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhook.ErrSubscriptionNotFound
	}
	return nil
}
