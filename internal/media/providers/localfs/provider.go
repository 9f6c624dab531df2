// Package localfs keeps media assets in a directory tree on local disk.
// A key "<channel_id>/<rest>" lives at <root>/<channel_id>/<rest>; all file
// access goes through an os.Root so no key can leave the directory.
package localfs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/media"
)

type Provider struct {
	root *os.Root
}

// New opens (creating if needed) the data directory.
func New(dataRoot string) (*Provider, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("localfs: create %s: %w", dataRoot, err)
	}
	root, err := os.OpenRoot(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("localfs: open %s: %w", dataRoot, err)
	}
	return &Provider{root: root}, nil
}

// Close releases the directory handle.
func (p *Provider) Close() error {
	return p.root.Close()
}

// Put stages the object next to its destination and renames it in, so a
// concurrent Open never sees a partial file.
func (p *Provider) Put(_ context.Context, key string, r io.Reader) error {
	name, err := checkKey(key)
	if err != nil {
		return err
	}
	if err := p.root.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("localfs: mkdir for %s: %w", name, err)
	}
	staged := path.Join(path.Dir(name), ".put-"+randomSuffix())
	f, err := p.root.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("localfs: stage %s: %w", name, err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = p.root.Rename(staged, name)
	}
	if err != nil {
		_ = p.root.Remove(staged)
		return fmt.Errorf("localfs: write %s: %w", name, err)
	}
	return nil
}

func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	name, err := checkKey(key)
	if err != nil {
		return nil, err
	}
	f, err := p.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, media.ErrAssetNotFound
	}
	return f, err
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	name, err := checkKey(key)
	if err != nil {
		return false, err
	}
	_, err = p.root.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// DeletePrefix only accepts a whole-channel prefix ("<channel_id>/") and
// removes that channel's directory.
func (p *Provider) DeletePrefix(_ context.Context, prefix string) error {
	dir := strings.TrimSuffix(prefix, "/")
	if dir == "" || strings.Contains(dir, "/") || !fs.ValidPath(dir) {
		return fmt.Errorf("%w: prefix %q", media.ErrPathTraversal, prefix)
	}
	return p.root.RemoveAll(dir)
}

// checkKey accepts slash-separated relative keys with at least a channel
// segment and a file name.
func checkKey(key string) (string, error) {
	if !fs.ValidPath(key) || key == "." {
		return "", fmt.Errorf("%w: key %q", media.ErrPathTraversal, key)
	}
	channelID, rest, ok := strings.Cut(key, "/")
	if !ok || channelID == "" || rest == "" {
		return "", fmt.Errorf("localfs: key %q has no channel prefix", key)
	}
	return key, nil
}

func randomSuffix() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
