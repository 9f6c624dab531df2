package cache

import (
	"context"
	"strings"
	"time"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// GroupCache caches group/roster metadata per channel. It is filled only when
// a caller asks for a group or the transport pushes a delta for one already
// cached; it is never bulk-loaded on connect.
type GroupCache struct {
	*TTLCache[channel.GroupMetadata]
}

// Metadata returns cached metadata for groupID, fetching it on a miss.
func (c *GroupCache) Metadata(ctx context.Context, channelID, groupID string, fetch func(ctx context.Context) (channel.GroupMetadata, error)) (channel.GroupMetadata, error) {
	meta, _, err := c.GetOrLoad(ctx, channelID, groupID, fetch)
	return meta, err
}

// ApplyUpdate merges a pushed delta into an already cached group. Deltas for
// groups that are not cached are ignored so a push never triggers a fetch.
func (c *GroupCache) ApplyUpdate(channelID string, update channel.GroupUpdate) bool {
	meta, ok := c.Get(channelID, update.ID)
	if !ok {
		return false
	}
	if update.Subject != nil {
		meta.Subject = *update.Subject
	}
	if update.Description != nil {
		meta.Description = *update.Description
	}
	if update.Announce != nil {
		meta.Announce = *update.Announce
	}
	if update.Restrict != nil {
		meta.Restrict = *update.Restrict
	}
	c.Set(channelID, update.ID, meta)
	return true
}

// AddressCache caches whether a destination address is registered, keyed by
// channel and address.
type AddressCache struct {
	*TTLCache[bool]
}

// Check returns the cached registration flag or runs lookup on a miss.
func (c *AddressCache) Check(ctx context.Context, channelID, address string, lookup func(ctx context.Context) (bool, error)) (bool, error) {
	registered, _, err := c.GetOrLoad(ctx, channelID, normalizeAddress(address), lookup)
	return registered, err
}

// HiddenIDCache caches hidden-identifier to address resolutions in both directions.
type HiddenIDCache struct {
	forward *TTLCache[string]
	reverse *TTLCache[string]
}

// Resolve returns the address behind hiddenID, running lookup on a miss.
func (c *HiddenIDCache) Resolve(ctx context.Context, channelID, hiddenID string, lookup func(ctx context.Context) (string, error)) (string, error) {
	if address, ok := c.forward.Get(channelID, hiddenID); ok {
		return address, nil
	}
	address, err := lookup(ctx)
	if err != nil {
		return "", err
	}
	if address != "" {
		c.Store(channelID, hiddenID, address)
	}
	return address, nil
}

// HiddenID returns the hidden identifier for address, running lookup on a miss.
func (c *HiddenIDCache) HiddenID(ctx context.Context, channelID, address string, lookup func(ctx context.Context) (string, error)) (string, error) {
	if hiddenID, ok := c.reverse.Get(channelID, normalizeAddress(address)); ok {
		return hiddenID, nil
	}
	hiddenID, err := lookup(ctx)
	if err != nil {
		return "", err
	}
	if hiddenID != "" {
		c.Store(channelID, hiddenID, address)
	}
	return hiddenID, nil
}

// Store records a resolved mapping in both directions.
func (c *HiddenIDCache) Store(channelID, hiddenID, address string) {
	c.forward.Set(channelID, hiddenID, address)
	c.reverse.Set(channelID, normalizeAddress(address), hiddenID)
}

func (c *HiddenIDCache) Invalidate(channelID, hiddenID string) {
	if address, ok := c.forward.Get(channelID, hiddenID); ok {
		c.reverse.Invalidate(channelID, normalizeAddress(address))
	}
	c.forward.Invalidate(channelID, hiddenID)
}

func (c *HiddenIDCache) Flush() {
	c.forward.Flush()
	c.reverse.Flush()
}

func (c *HiddenIDCache) FlushChannel(channelID string) int {
	return c.forward.FlushChannel(channelID) + c.reverse.FlushChannel(channelID)
}

// Options configures the cache set.
type Options struct {
	Size        int
	GroupTTL    time.Duration
	AddressTTL  time.Duration
	HiddenIDTTL time.Duration
}

// Set bundles the three engine caches.
type Set struct {
	Groups    *GroupCache
	Addresses *AddressCache
	HiddenIDs *HiddenIDCache
}

// NewSet creates the three caches.
func NewSet(opts Options) *Set {
	if opts.GroupTTL <= 0 {
		opts.GroupTTL = time.Hour
	}
	if opts.AddressTTL <= 0 {
		opts.AddressTTL = 24 * time.Hour
	}
	if opts.HiddenIDTTL <= 0 {
		opts.HiddenIDTTL = 24 * time.Hour
	}
	return &Set{
		Groups:    &GroupCache{NewTTLCache[channel.GroupMetadata](opts.Size, opts.GroupTTL)},
		Addresses: &AddressCache{NewTTLCache[bool](opts.Size, opts.AddressTTL)},
		HiddenIDs: &HiddenIDCache{
			forward: NewTTLCache[string](opts.Size, opts.HiddenIDTTL),
			reverse: NewTTLCache[string](opts.Size, opts.HiddenIDTTL),
		},
	}
}

// FlushChannel drops all cached state of one channel.
func (s *Set) FlushChannel(channelID string) {
	s.Groups.FlushChannel(channelID)
	s.Addresses.FlushChannel(channelID)
	s.HiddenIDs.FlushChannel(channelID)
}

// Flush drops all cached state.
func (s *Set) Flush() {
	s.Groups.Flush()
	s.Addresses.Flush()
	s.HiddenIDs.Flush()
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
