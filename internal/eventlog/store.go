// Package eventlog keeps an append-only record of normalized events per
// channel, used to resolve quoted replies and for auditing.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/db"
)

// ErrEntryNotFound indicates no logged event matches the lookup.
var ErrEntryNotFound = errors.New("event log entry not found")

// Direction of a logged event relative to the gateway.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Entry is one logged event.
type Entry struct {
	ID        int64           `json:"id"`
	ChannelID string          `json:"channel_id"`
	MessageID string          `json:"original_message_id"`
	Kind      string          `json:"kind"`
	Direction Direction       `json:"direction"`
	Sender    string          `json:"sender,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the PostgreSQL-backed event log.
type Store struct {
	db     db.DBTX
	logger *slog.Logger
}

func NewStore(log *slog.Logger, conn db.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: conn, logger: log.With(slog.String("service", "eventlog"))}
}

// Append writes an entry.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.ChannelID) == "" {
		return fmt.Errorf("channel id is required")
	}
	if entry.Direction == "" {
		entry.Direction = DirectionInbound
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO event_log (channel_id, original_message_id, kind, direction, sender, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ChannelID, entry.MessageID, entry.Kind, string(entry.Direction), entry.Sender, []byte(payload))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// FindSender returns the sender of the earliest logged message with messageID.
func (s *Store) FindSender(ctx context.Context, channelID, messageID string) (string, error) {
	var sender string
	err := s.db.QueryRow(ctx, `
		SELECT sender FROM event_log
		WHERE channel_id = $1 AND original_message_id = $2 AND sender <> ''
		ORDER BY id ASC LIMIT 1`, channelID, messageID).Scan(&sender)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrEntryNotFound
		}
		return "", fmt.Errorf("find sender: %w", err)
	}
	return sender, nil
}

// List returns the newest entries of a channel, optionally filtered by message id.
func (s *Store) List(ctx context.Context, channelID, messageID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, channel_id, original_message_id, kind, direction, sender, payload, created_at
		FROM event_log
		WHERE channel_id = $1 AND ($2 = '' OR original_message_id = $2)
		ORDER BY id DESC LIMIT $3`, channelID, messageID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var (
			entry     Entry
			direction string
			payload   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ChannelID, &entry.MessageID, &entry.Kind, &direction, &entry.Sender, &payload, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Direction = Direction(direction)
		entry.Payload = payload
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PruneBefore deletes entries older than cutoff and returns the number removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM event_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteChannel removes every entry of a channel.
func (s *Store) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM event_log WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("delete channel events: %w", err)
	}
	return nil
}
