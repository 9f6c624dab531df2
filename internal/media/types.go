// Package media stores inbound attachments locally and exposes them under
// public URLs served by the gateway.
package media

import (
	"context"
	"io"
)

// MediaType classifies the kind of media asset.
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
	MediaTypeSticker  MediaType = "sticker"
)

// Asset is a stored media object.
type Asset struct {
	ChannelID    string    `json:"channel_id"`
	ContentHash  string    `json:"sha256"`
	MediaType    MediaType `json:"media_type"`
	Mime         string    `json:"mime_type"`
	SizeBytes    int64     `json:"file_size"`
	StorageKey   string    `json:"storage_key"`
	OriginalName string    `json:"filename,omitempty"`
	URL          string    `json:"url"`
}

// Ref points at attachment bytes, either inline or behind a URL.
type Ref struct {
	MediaType MediaType
	URL       string
	Data      []byte
	Mime      string
	FileName  string
}

// IngestInput carries the data needed to store a new asset.
type IngestInput struct {
	ChannelID    string
	MediaType    MediaType
	Mime         string
	OriginalName string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides the service limit.
	MaxBytes int64
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	Put(ctx context.Context, key string, reader io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePrefix removes every object whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
