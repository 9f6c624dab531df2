package channel

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnsupportedChannelType is returned for a type no adapter was registered for.
var ErrUnsupportedChannelType = errors.New("unsupported channel type")

// registration is what the registry learns about an adapter when it is added.
// Descriptors are captured once; adapters return them by value.
type registration struct {
	adapter  Adapter
	desc     Descriptor
	sender   Sender
	receiver Receiver
}

// Registry maps channel types to their adapters. The gateway builds one at
// startup and hands it to the manager, lifecycle and provider service.
type Registry struct {
	mu      sync.RWMutex
	entries map[ChannelType]registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[ChannelType]registration)}
}

// Register adds adapter under its own type. A type can be claimed once.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("channel registry: nil adapter")
	}
	ct := canonicalType(string(adapter.Type()))
	if ct == "" {
		return errors.New("channel registry: adapter reports an empty type")
	}
	entry := registration{adapter: adapter, desc: adapter.Descriptor()}
	entry.desc.Type = ct
	entry.sender, _ = adapter.(Sender)
	entry.receiver, _ = adapter.(Receiver)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.entries[ct]; taken {
		return fmt.Errorf("channel registry: %s registered twice", ct)
	}
	r.entries[ct] = entry
	return nil
}

// MustRegister is Register for wiring code that cannot recover.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

func (r *Registry) lookup(ct ChannelType) (registration, bool) {
	r.mu.RLock()
	entry, ok := r.entries[canonicalType(string(ct))]
	r.mu.RUnlock()
	return entry, ok
}

func (r *Registry) Get(ct ChannelType) (Adapter, bool) {
	entry, ok := r.lookup(ct)
	return entry.adapter, ok
}

// Types lists the registered types in lexical order.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	out := make([]ChannelType, 0, len(r.entries))
	for ct := range r.entries {
		out = append(out, ct)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (r *Registry) GetDescriptor(ct ChannelType) (Descriptor, bool) {
	entry, ok := r.lookup(ct)
	return entry.desc, ok
}

// ListDescriptors returns one descriptor per registered type, ordered by type.
func (r *Registry) ListDescriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.desc)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Descriptor) int { return strings.Compare(string(a.Type), string(b.Type)) })
	return out
}

// ParseChannelType canonicalizes raw (trim, lower-case) and checks that an
// adapter exists for it.
func (r *Registry) ParseChannelType(raw string) (ChannelType, error) {
	ct := canonicalType(raw)
	if _, ok := r.lookup(ct); ct == "" || !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannelType, raw)
	}
	return ct, nil
}

func (r *Registry) IsConnectionBacked(ct ChannelType) bool {
	entry, ok := r.lookup(ct)
	return ok && entry.desc.ConnectionBacked
}

// GetSender reports false for unknown types and for receive-only adapters.
func (r *Registry) GetSender(ct ChannelType) (Sender, bool) {
	entry, _ := r.lookup(ct)
	return entry.sender, entry.sender != nil
}

func (r *Registry) GetReceiver(ct ChannelType) (Receiver, bool) {
	entry, _ := r.lookup(ct)
	return entry.receiver, entry.receiver != nil
}

func canonicalType(raw string) ChannelType {
	return ChannelType(strings.ToLower(strings.TrimSpace(raw)))
}
