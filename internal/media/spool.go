package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const octetStream = "application/octet-stream"

// spool is an attachment copied to a temp file while being hashed, so the
// size limit is enforced before anything reaches storage.
type spool struct {
	path string
	hash string
	size int64
}

func newSpool(r io.Reader, limit int64) (*spool, error) {
	f, err := os.CreateTemp("", "gateway-media-*")
	if err != nil {
		return nil, fmt.Errorf("create spool: %w", err)
	}
	sp := &spool{path: f.Name()}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		err = fmt.Errorf("spool payload: %w", err)
	case n > limit:
		err = fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, limit)
	case n == 0:
		err = errEmptyPayload
	}
	if err != nil {
		sp.remove()
		return nil, err
	}
	sp.size = n
	sp.hash = hex.EncodeToString(h.Sum(nil))
	return sp, nil
}

func (s *spool) open() (*os.File, error) { return os.Open(s.path) }

func (s *spool) remove() { _ = os.Remove(s.path) }

// contentType trusts a specific declared type and sniffs the file otherwise.
// The returned extension always starts with a dot.
func (s *spool) contentType(declared string) (mime, ext string) {
	declared = baseMime(declared)
	if declared != "" && declared != octetStream {
		if m := mimetype.Lookup(declared); m != nil && m.Extension() != "" {
			return declared, m.Extension()
		}
	}
	sniffed, err := mimetype.DetectFile(s.path)
	if err != nil {
		if declared == "" {
			declared = octetStream
		}
		return declared, ".bin"
	}
	mime = declared
	if mime == "" || mime == octetStream {
		mime = baseMime(sniffed.String())
	}
	ext = sniffed.Extension()
	if ext == "" {
		ext = ".bin"
	}
	return mime, ext
}

func baseMime(v string) string {
	v, _, _ = strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(v))
}

func classify(mime string) MediaType {
	major, _, _ := strings.Cut(mime, "/")
	switch major {
	case "image":
		return MediaTypeImage
	case "audio":
		return MediaTypeAudio
	case "video":
		return MediaTypeVideo
	}
	return MediaTypeDocument
}
