package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/db"
)

// PgStore is the PostgreSQL-backed credential store.
type PgStore struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewPgStore creates a credential store over db.
func NewPgStore(log *slog.Logger, conn db.DBTX) *PgStore {
	if log == nil {
		log = slog.Default()
	}
	return &PgStore{db: conn, logger: log.With(slog.String("service", "credentials"))}
}

func (s *PgStore) LoadOrInit(ctx context.Context, channelID string) (State, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return State{}, fmt.Errorf("channel id is required")
	}
	state := State{ChannelID: channelID, Keys: map[string][]byte{}}

	var credsText string
	err := s.db.QueryRow(ctx, `SELECT creds FROM channel_credentials WHERE channel_id = $1`, channelID).Scan(&credsText)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := s.db.Exec(ctx,
			`INSERT INTO channel_credentials (channel_id, creds) VALUES ($1, '') ON CONFLICT (channel_id) DO NOTHING`,
			channelID,
		); err != nil {
			return State{}, fmt.Errorf("init credential record: %w", err)
		}
		state.Fresh = true
		s.logger.Info("credential record initialized", slog.String("channel_id", channelID))
		return state, nil
	case err != nil:
		return State{}, fmt.Errorf("load creds: %w", err)
	}
	if state.Creds, err = Decode(credsText); err != nil {
		return State{}, err
	}

	rows, err := s.db.Query(ctx, `SELECT key_id, data FROM channel_keys WHERE channel_id = $1`, channelID)
	if err != nil {
		return State{}, fmt.Errorf("load keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var keyID, text string
		if err := rows.Scan(&keyID, &text); err != nil {
			return State{}, fmt.Errorf("scan key: %w", err)
		}
		data, err := Decode(text)
		if err != nil {
			return State{}, fmt.Errorf("key %s: %w", keyID, err)
		}
		state.Keys[keyID] = data
	}
	if err := rows.Err(); err != nil {
		return State{}, fmt.Errorf("iterate keys: %w", err)
	}
	return state, nil
}

func (s *PgStore) SaveCreds(ctx context.Context, channelID string, creds []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO channel_credentials (channel_id, creds, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (channel_id) DO UPDATE SET creds = EXCLUDED.creds, updated_at = now()`,
		channelID, Encode(creds),
	)
	if err != nil {
		return fmt.Errorf("save creds: %w", err)
	}
	return nil
}

func (s *PgStore) SaveKeys(ctx context.Context, channelID string, update KeyUpdate) error {
	if len(update) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for keyID, data := range update {
		if data == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM channel_keys WHERE channel_id = $1 AND key_id = $2`, channelID, keyID); err != nil {
				return fmt.Errorf("delete key %s: %w", keyID, err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO channel_keys (channel_id, key_id, data, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (channel_id, key_id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			channelID, keyID, Encode(data),
		); err != nil {
			return fmt.Errorf("save key %s: %w", keyID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit keys: %w", err)
	}
	return nil
}

func (s *PgStore) Purge(ctx context.Context, channelID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `DELETE FROM channel_keys WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("purge keys: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM channel_credentials WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("purge creds: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit purge: %w", err)
	}
	s.logger.Info("credential record purged", slog.String("channel_id", channelID))
	return nil
}
