package channel

import (
	"context"
	"errors"
	"fmt"
)

// LifecycleStore persists channel records for lifecycle orchestration.
type LifecycleStore interface {
	CreateChannel(ctx context.Context, req CreateChannelRequest) (Channel, error)
	GetChannel(ctx context.Context, channelID string) (Channel, error)
	SetActive(ctx context.Context, channelID string, active bool) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

// ConnectionController controls runtime channel connections.
type ConnectionController interface {
	Connect(ctx context.Context, channelID string, opts ConnectOptions) error
	Disconnect(ctx context.Context, channelID string) error
	Remove(ctx context.Context, channelID string) error
}

// ErrEnableChannelFailed indicates that enabling the channel (e.g. Connect) failed.
var ErrEnableChannelFailed = errors.New("enable channel failed")

// ErrPurgeIncomplete indicates a deleted channel whose auxiliary state could
// not be fully removed.
var ErrPurgeIncomplete = errors.New("channel state purge incomplete")

// PurgeFunc removes state a channel left outside its record, such as stored
// media or logged events.
type PurgeFunc func(ctx context.Context, channelID string) error

// Lifecycle coordinates persisted channel records and runtime connection state.
type Lifecycle struct {
	store      LifecycleStore
	controller ConnectionController
	registry   *Registry
	purgers    []PurgeFunc
}

// NewLifecycle creates a lifecycle coordinator from storage and connection controller.
func NewLifecycle(store LifecycleStore, controller ConnectionController, registry *Registry) *Lifecycle {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Lifecycle{
		store:      store,
		controller: controller,
		registry:   registry,
	}
}

// CreateChannel validates and stores a channel. When connect is set and the
// type is connection-backed, it connects immediately and deletes the record
// again if the connect fails.
func (s *Lifecycle) CreateChannel(ctx context.Context, req CreateChannelRequest, connect bool, opts ConnectOptions) (Channel, error) {
	if s.store == nil {
		return Channel{}, fmt.Errorf("channel lifecycle store not configured")
	}
	ct, err := s.registry.ParseChannelType(req.Type.String())
	if err != nil {
		return Channel{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	req.Type = ct
	if req.Config.variant(ct) == nil && ct == TypeSession {
		req.Config.Session = &SessionConfig{}
	}
	if err := req.Config.Validate(ct); err != nil {
		return Channel{}, err
	}

	created, err := s.store.CreateChannel(ctx, req)
	if err != nil {
		return Channel{}, err
	}
	if !connect || !created.IsActive || !s.registry.IsConnectionBacked(ct) {
		return created, nil
	}
	if s.controller == nil {
		return Channel{}, fmt.Errorf("channel connection controller not configured")
	}
	if err := s.controller.Connect(ctx, created.ID, opts); err != nil {
		if rollbackErr := s.rollbackCreate(ctx, created.ID); rollbackErr != nil {
			return Channel{}, fmt.Errorf("%w (rollback failed: %v): %w", ErrEnableChannelFailed, rollbackErr, err)
		}
		return Channel{}, fmt.Errorf("%w: %w", ErrEnableChannelFailed, err)
	}
	return s.store.GetChannel(ctx, created.ID)
}

// AddPurger registers fn to run after a channel record is deleted.
func (s *Lifecycle) AddPurger(fn PurgeFunc) {
	if fn != nil {
		s.purgers = append(s.purgers, fn)
	}
}

// DeleteChannel tears the connection down, removes the record, then purges
// the remaining state. Purge failures do not restore the record; they are
// reported wrapped in ErrPurgeIncomplete.
func (s *Lifecycle) DeleteChannel(ctx context.Context, channelID string) error {
	if s.store == nil {
		return fmt.Errorf("channel lifecycle store not configured")
	}
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return err
	}
	if s.controller != nil {
		if err := s.controller.Remove(ctx, channelID); err != nil {
			return err
		}
	}
	if err := s.store.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	var errs []error
	for _, purge := range s.purgers {
		if err := purge(ctx, channelID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrPurgeIncomplete, errors.Join(errs...))
	}
	return nil
}

// SetActive toggles the administrative flag and applies the runtime lifecycle.
// Enabling a connection-backed channel connects it; on failure the flag is
// rolled back.
func (s *Lifecycle) SetActive(ctx context.Context, channelID string, active bool) (Channel, error) {
	if s.store == nil {
		return Channel{}, fmt.Errorf("channel lifecycle store not configured")
	}
	if s.controller == nil {
		return Channel{}, fmt.Errorf("channel connection controller not configured")
	}
	updated, err := s.store.SetActive(ctx, channelID, active)
	if err != nil {
		return Channel{}, err
	}
	if !s.registry.IsConnectionBacked(updated.Type) {
		return updated, nil
	}
	if !active {
		if err := s.controller.Disconnect(ctx, channelID); err != nil {
			return Channel{}, err
		}
		return s.store.GetChannel(ctx, channelID)
	}
	if err := s.controller.Connect(ctx, channelID, ConnectOptions{}); err != nil {
		if _, rollbackErr := s.store.SetActive(ctx, channelID, false); rollbackErr != nil {
			return Channel{}, fmt.Errorf("%w (status rollback failed: %v): %w", ErrEnableChannelFailed, rollbackErr, err)
		}
		return Channel{}, fmt.Errorf("%w: %w", ErrEnableChannelFailed, err)
	}
	return s.store.GetChannel(ctx, channelID)
}

func (s *Lifecycle) rollbackCreate(ctx context.Context, channelID string) error {
	if s.controller != nil {
		if err := s.controller.Remove(ctx, channelID); err != nil {
			return err
		}
	}
	return s.store.DeleteChannel(ctx, channelID)
}
