package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const defaultDownloadTimeout = 60 * time.Second

// Options configures the media service.
type Options struct {
	// PublicBaseURL is the origin prepended to /media/<key>.
	PublicBaseURL string
	MaxBytes      int64
	Timeout       time.Duration
	Client        *http.Client
}

// Service downloads, stores, and serves media assets.
type Service struct {
	provider StorageProvider
	client   *http.Client
	baseURL  string
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates a media service with the given storage provider.
func NewService(log *slog.Logger, provider StorageProvider, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDownloadTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = MaxAssetBytes
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Service{
		provider: provider,
		client:   client,
		baseURL:  strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/"),
		maxBytes: opts.MaxBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

// Fetch stores the attachment behind ref, downloading it when it is not inline.
func (s *Service) Fetch(ctx context.Context, channelID string, ref Ref) (Asset, error) {
	input := IngestInput{
		ChannelID:    channelID,
		MediaType:    ref.MediaType,
		Mime:         ref.Mime,
		OriginalName: ref.FileName,
	}
	if len(ref.Data) > 0 {
		input.Reader = bytes.NewReader(ref.Data)
		return s.Ingest(ctx, input)
	}
	if strings.TrimSpace(ref.URL) == "" {
		return Asset{}, fmt.Errorf("%w: attachment has neither data nor url", ErrDownloadFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Asset{}, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	if input.Mime == "" {
		input.Mime = resp.Header.Get("Content-Type")
	}
	input.Reader = resp.Body
	return s.Ingest(ctx, input)
}

// Ingest stores a new asset under <channel>/<type>/<hash[:4]>/<hash><ext>.
// Identical payloads map to the same key and are written once.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (Asset, error) {
	if s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	channelID := strings.TrimSpace(input.ChannelID)
	if channelID == "" || input.Reader == nil {
		return Asset{}, errors.New("media: channel id and reader are required")
	}
	limit := input.MaxBytes
	if limit <= 0 {
		limit = s.maxBytes
	}
	sp, err := newSpool(input.Reader, limit)
	if err != nil {
		return Asset{}, err
	}
	defer sp.remove()

	mime, ext := sp.contentType(input.Mime)
	kind := input.MediaType
	if kind == "" {
		kind = classify(mime)
	}
	key := path.Join(channelID, string(kind), sp.hash[:4], sp.hash+ext)
	asset := Asset{
		ChannelID:    channelID,
		ContentHash:  sp.hash,
		MediaType:    kind,
		Mime:         mime,
		SizeBytes:    sp.size,
		StorageKey:   key,
		OriginalName: strings.TrimSpace(input.OriginalName),
		URL:          s.PublicURL(key),
	}

	if ok, err := s.provider.Exists(ctx, key); err != nil {
		return Asset{}, fmt.Errorf("media: stat %s: %w", key, err)
	} else if ok {
		return asset, nil
	}
	f, err := sp.open()
	if err != nil {
		return Asset{}, err
	}
	defer f.Close()
	if err := s.provider.Put(ctx, key, f); err != nil {
		return Asset{}, fmt.Errorf("media: put %s: %w", key, err)
	}
	s.logger.Debug("media stored", slog.String("key", key), slog.Int64("size", sp.size))
	return asset, nil
}

// Open returns a reader for a stored asset and its detected content type.
func (s *Service) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if s.provider == nil {
		return nil, "", ErrProviderUnavailable
	}
	reader, err := s.provider.Open(ctx, key)
	if err != nil {
		return nil, "", err
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = reader.Close()
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	head = head[:n]
	return readCloser{
		Reader: io.MultiReader(bytes.NewReader(head), reader),
		Closer: reader,
	}, mimetype.Detect(head).String(), nil
}

// PurgeChannel removes every asset stored for channelID.
func (s *Service) PurgeChannel(ctx context.Context, channelID string) error {
	if s.provider == nil {
		return ErrProviderUnavailable
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" || strings.ContainsAny(channelID, `/\`) {
		return fmt.Errorf("invalid channel id %q", channelID)
	}
	return s.provider.DeletePrefix(ctx, channelID+"/")
}

// PublicURL returns the externally reachable URL for a storage key.
func (s *Service) PublicURL(key string) string {
	return s.baseURL + "/media/" + key
}

type readCloser struct {
	io.Reader
	io.Closer
}
