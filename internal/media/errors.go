package media

import "errors"

// Lookup and storage failures. Handlers map these onto HTTP statuses.
var (
	ErrAssetNotFound       = errors.New("media: asset not found")
	ErrProviderUnavailable = errors.New("media: no storage backend configured")
	ErrAssetTooLarge       = errors.New("media: asset exceeds size limit")
	ErrPathTraversal       = errors.New("media: key escapes storage root")
	ErrDownloadFailed      = errors.New("media: attachment download failed")
	errEmptyPayload        = errors.New("media: empty payload")
)
