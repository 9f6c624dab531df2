package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/channel"
)

// Contact lookups against the live session of a connection-backed channel.

// CheckAddress reports whether address is registered on the network.
func (s *Service) CheckAddress(ctx context.Context, channelID, address string) (bool, error) {
	sess, err := s.sessions.Session(channelID)
	if err != nil {
		return false, err
	}
	address = toAddress(strings.TrimSpace(address))
	if address == "" {
		return false, fmt.Errorf("%w: address is required", channel.ErrInvalidMessage)
	}
	lookup := func(ctx context.Context) (bool, error) {
		return sess.CheckAddress(ctx, address)
	}
	if s.addresses == nil {
		return lookup(ctx)
	}
	return s.addresses.Check(ctx, channelID, address, lookup)
}

// ResolveHiddenID maps a hidden identifier to its address.
func (s *Service) ResolveHiddenID(ctx context.Context, channelID, hiddenID string) (string, error) {
	hiddenID = strings.TrimSpace(hiddenID)
	if hiddenID == "" {
		return "", fmt.Errorf("%w: hidden id is required", channel.ErrInvalidMessage)
	}
	if !strings.Contains(hiddenID, "@") {
		hiddenID += lidServer
	}
	sess, err := s.sessions.Session(channelID)
	if err != nil {
		return "", err
	}
	lookup := func(ctx context.Context) (string, error) {
		return sess.ResolveHiddenID(ctx, hiddenID)
	}
	if s.hiddenIDs == nil {
		return lookup(ctx)
	}
	return s.hiddenIDs.Resolve(ctx, channelID, hiddenID, lookup)
}

// HiddenIDFor maps an address to its hidden identifier.
func (s *Service) HiddenIDFor(ctx context.Context, channelID, address string) (string, error) {
	address = toAddress(strings.TrimSpace(address))
	if address == "" {
		return "", fmt.Errorf("%w: address is required", channel.ErrInvalidMessage)
	}
	sess, err := s.sessions.Session(channelID)
	if err != nil {
		return "", err
	}
	lookup := func(ctx context.Context) (string, error) {
		return sess.HiddenIDFor(ctx, address)
	}
	if s.hiddenIDs == nil {
		return lookup(ctx)
	}
	return s.hiddenIDs.HiddenID(ctx, channelID, address, lookup)
}

// GroupMetadata returns cached metadata of a group, fetching it on a miss.
func (s *Service) GroupMetadata(ctx context.Context, channelID, groupID string) (channel.GroupMetadata, error) {
	sess, err := s.sessions.Session(channelID)
	if err != nil {
		return channel.GroupMetadata{}, err
	}
	groupID = strings.TrimSpace(groupID)
	if !strings.Contains(groupID, "@") {
		groupID += groupServer
	}
	fetch := func(ctx context.Context) (channel.GroupMetadata, error) {
		return sess.GroupMetadata(ctx, groupID)
	}
	if s.groups == nil {
		return fetch(ctx)
	}
	return s.groups.Metadata(ctx, channelID, groupID, fetch)
}

// Profile is the public profile of an address.
type Profile struct {
	Address  string `json:"address"`
	PhotoURL string `json:"photo_url,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ProfilePhoto returns the profile photo URL of address.
func (s *Service) ProfilePhoto(ctx context.Context, channelID, address string) (Profile, error) {
	sess, err := s.sessions.Session(channelID)
	if err != nil {
		return Profile{}, err
	}
	address = toAddress(strings.TrimSpace(address))
	url, err := sess.ProfilePhotoURL(ctx, address)
	if err != nil {
		return Profile{}, fmt.Errorf("profile photo: %w", err)
	}
	return Profile{Address: address, PhotoURL: url}, nil
}

// ProfileStatus returns the status text of address.
func (s *Service) ProfileStatus(ctx context.Context, channelID, address string) (Profile, error) {
	sess, err := s.sessions.Session(channelID)
	if err != nil {
		return Profile{}, err
	}
	address = toAddress(strings.TrimSpace(address))
	status, err := sess.ProfileStatus(ctx, address)
	if err != nil {
		return Profile{}, fmt.Errorf("profile status: %w", err)
	}
	return Profile{Address: address, Status: status}, nil
}
