package surface

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Strategy is one content-delivery mechanism. Strategies are attempted in
// order; the first that accepts the content wins.
type Strategy interface {
	Name() string
	// Deliver places html into the surface and returns a content reference.
	Deliver(surfaceID, html string) (ref string, err error)
	// FallbackStyle reports whether delivered content is styled distinctly so
	// a fallback rendering is diagnosable at a glance.
	FallbackStyle() bool
}

// DefaultBlobLimit bounds object-store payloads; oversized challenge pages
// fall through to the next strategy.
const DefaultBlobLimit = 2 << 20

// BlobStore holds delivered documents addressable by an opaque key, backing
// the object-URI strategy.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string]string
	limit int
}

func NewBlobStore(limit int) *BlobStore {
	if limit <= 0 {
		limit = DefaultBlobLimit
	}
	return &BlobStore{blobs: make(map[string]string), limit: limit}
}

func (s *BlobStore) Put(html string) (string, error) {
	if len(html) > s.limit {
		return "", fmt.Errorf("blob exceeds %d byte limit", s.limit)
	}
	key := uuid.NewString()
	s.mu.Lock()
	s.blobs[key] = html
	s.mu.Unlock()
	return key, nil
}

func (s *BlobStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	html, ok := s.blobs[key]
	return html, ok
}

func (s *BlobStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
}

// DefaultStrategies is the production ladder: object URI, then direct
// assignment, then the percent-encoded data URI with the distinct fallback
// style.
func DefaultStrategies(blobs *BlobStore) []Strategy {
	return []Strategy{
		&ObjectURIStrategy{Blobs: blobs},
		&DirectAssignStrategy{},
		&DataURIStrategy{},
	}
}

// ObjectURIStrategy stores the document in the blob store and references it
// by an opaque URI.
type ObjectURIStrategy struct {
	Blobs *BlobStore
}

func (s *ObjectURIStrategy) Name() string        { return "object-uri" }
func (s *ObjectURIStrategy) FallbackStyle() bool { return false }

func (s *ObjectURIStrategy) Deliver(surfaceID, html string) (string, error) {
	if s.Blobs == nil {
		return "", errors.New("blob store unavailable")
	}
	key, err := s.Blobs.Put(html)
	if err != nil {
		return "", err
	}
	return "/surface/blob/" + key, nil
}

// DirectAssignStrategy hands the document string straight to the surface.
type DirectAssignStrategy struct{}

func (s *DirectAssignStrategy) Name() string        { return "direct-assign" }
func (s *DirectAssignStrategy) FallbackStyle() bool { return false }

func (s *DirectAssignStrategy) Deliver(surfaceID, html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", errors.New("empty document")
	}
	return "inline:" + surfaceID, nil
}

// DataURIStrategy is the last resort: the whole document percent-encoded into
// a data URI, visibly styled so a fallback rendering is diagnosable.
type DataURIStrategy struct{}

func (s *DataURIStrategy) Name() string        { return "data-uri" }
func (s *DataURIStrategy) FallbackStyle() bool { return true }

func (s *DataURIStrategy) Deliver(surfaceID, html string) (string, error) {
	styled := "<style>body{border-top:4px solid #d97706}</style>" + html
	return "data:text/html," + url.PathEscape(styled), nil
}

// DecodePayload returns the challenge markup, decoding base64 payloads
// detected by charset and padding heuristics. A payload that does not decode
// to something markup-shaped is passed through untouched.
func DecodePayload(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if !looksBase64(trimmed) {
		return payload
	}
	decoded, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return payload
	}
	if !strings.Contains(string(decoded), "<") {
		return payload
	}
	return string(decoded)
}

func looksBase64(s string) bool {
	if len(s) < 8 || len(s)%4 != 0 {
		return false
	}
	// Markup starts with '<'; base64 never does.
	if strings.HasPrefix(s, "<") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=':
		default:
			return false
		}
	}
	return true
}

// InjectContinuationScript places the auto-submit continuation script into
// the document head before delivery.
func InjectContinuationScript(html string) string {
	script := "<script>" + ContinuationScript + "</script>"
	lower := strings.ToLower(html)
	if idx := strings.Index(lower, "<head>"); idx >= 0 {
		at := idx + len("<head>")
		return html[:at] + script + html[at:]
	}
	if idx := strings.Index(lower, "</html>"); idx >= 0 {
		return html[:idx] + script + html[idx:]
	}
	return script + html
}
