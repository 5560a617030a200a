package surface

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/zap"
)

var (
	// ErrCrossOrigin is returned when the surface content has navigated to a
	// foreign origin and can no longer be inspected. Callers on the
	// continuation path treat this as expected and ignore it.
	ErrCrossOrigin = errors.New("surface content is cross-origin")

	ErrClosed = errors.New("surface is closed")
)

// Action is a user-facing button in the surface header or terminal view.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Header is the chrome above the challenge content.
type Header struct {
	Title   string   `json:"title"`
	Color   string   `json:"color"`
	Actions []Action `json:"actions"`
}

// View is a terminal presentation replacing the challenge content. The
// surface never closes on its own; the view's primary action is the only way
// out.
type View struct {
	Kind          string `json:"kind"` // "success" or "failure"
	Title         string `json:"title"`
	Message       string `json:"message"`
	ErrorCode     string `json:"error_code,omitempty"`
	PrimaryAction Action `json:"primary_action"`
	TargetPath    string `json:"target_path"`
}

// Handle is one isolated rendering surface. At most one exists per manager.
type Handle struct {
	mu sync.Mutex

	id         string
	hostOrigin string

	header   Header
	doc      Document
	loaded   bool
	view     *View
	location string
	closed   bool
}

// Document is the delivered challenge content together with how it got there.
type Document struct {
	Strategy      string `json:"strategy"`
	ContentRef    string `json:"content_ref"`
	HTML          string `json:"-"`
	Injected      bool   `json:"injected"`
	FallbackStyle bool   `json:"fallback_style"`
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Header() Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.header
}

func (h *Handle) SetHeader(header Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.header = header
}

func (h *Handle) Document() (Document, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doc, h.loaded
}

func (h *Handle) View() *View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}

func (h *Handle) SetView(view View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.view = &view
}

// Location is the surface content's current address. Empty until the content
// navigates away from the delivered document.
func (h *Handle) Location() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.location
}

// Navigate records a navigation of the surface content, replacing the
// visible markup.
func (h *Handle) Navigate(location, html string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.location = location
	h.doc.HTML = html
	return nil
}

// Inspect returns the surface's visible markup for same-origin content. Once
// the content has navigated to a foreign origin (the bank domain), inspection
// fails with ErrCrossOrigin.
func (h *Handle) Inspect() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrClosed
	}
	if h.location != "" && !sameOrigin(h.location, h.hostOrigin) {
		return "", ErrCrossOrigin
	}
	return h.doc.HTML, nil
}

func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func sameOrigin(rawURL, origin string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Host == "" {
		// Relative locations stay on the host origin.
		return true
	}
	base, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Scheme, base.Scheme) && strings.EqualFold(parsed.Host, base.Host)
}

// Manager owns the single challenge surface for the process tab.
type Manager struct {
	mu     sync.Mutex
	active *Handle

	hostOrigin string
	strategies []Strategy
	log        *zap.Logger
	metrics    *obsmetrics.Metrics
}

type ManagerParams struct {
	HostOrigin string
	Strategies []Strategy
	Log        *zap.Logger
	Metrics    *obsmetrics.Metrics
}

func NewManager(p ManagerParams) *Manager {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	strategies := p.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies(NewBlobStore(DefaultBlobLimit))
	}
	return &Manager{
		hostOrigin: p.HostOrigin,
		strategies: strategies,
		log:        log.Named("checkout.surface"),
		metrics:    p.Metrics,
	}
}

// Open destroys any pre-existing surface and constructs a fresh one with the
// default header chrome.
func (m *Manager) Open() *Handle {
	m.mu.Lock()
	previous := m.active
	handle := &Handle{
		id:         uuid.NewString(),
		hostOrigin: m.hostOrigin,
		header: Header{
			Title: "Card Verification",
			Color: "#1f2937",
			Actions: []Action{
				{ID: "check-status", Label: "Check payment status"},
				{ID: "cancel", Label: "Cancel"},
			},
		},
	}
	m.active = handle
	m.mu.Unlock()

	if previous != nil {
		m.close(previous)
	}
	return handle
}

// Active returns the current surface, or nil.
func (m *Manager) Active() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// LoadChallenge decodes and delivers the gateway payload into the surface,
// trying each strategy in order. The injected variant (continuation script in
// the document head) is preferred; a strategy that rejects it is retried with
// the plain document before falling through to the next strategy.
func (m *Manager) LoadChallenge(handle *Handle, payload string) error {
	if handle == nil || handle.Closed() {
		return ErrClosed
	}

	decoded := DecodePayload(payload)
	injected := InjectContinuationScript(decoded)

	for _, strategy := range m.strategies {
		doc, err := m.deliver(strategy, handle, injected, true)
		if err != nil {
			m.log.Debug("delivery strategy rejected injected content",
				zap.String("strategy", strategy.Name()), zap.Error(err))
			doc, err = m.deliver(strategy, handle, decoded, false)
		}
		if m.metrics != nil {
			m.metrics.RecordChallengeLoad(context.Background(), strategy.Name(), err == nil)
		}
		if err != nil {
			m.log.Debug("delivery strategy failed",
				zap.String("strategy", strategy.Name()), zap.Error(err))
			continue
		}

		handle.mu.Lock()
		handle.doc = doc
		handle.loaded = true
		handle.location = ""
		handle.mu.Unlock()
		return nil
	}

	m.log.Warn("all delivery strategies failed", zap.String("surface_id", handle.id))
	return errors.New("challenge content delivery failed")
}

func (m *Manager) deliver(strategy Strategy, handle *Handle, html string, injected bool) (Document, error) {
	ref, err := strategy.Deliver(handle.id, html)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Strategy:      strategy.Name(),
		ContentRef:    ref,
		HTML:          html,
		Injected:      injected,
		FallbackStyle: strategy.FallbackStyle(),
	}, nil
}

// Close tears the surface down. Safe to call repeatedly or with a stale
// handle.
func (m *Manager) Close(handle *Handle) {
	if handle == nil {
		return
	}
	m.mu.Lock()
	if m.active == handle {
		m.active = nil
	}
	m.mu.Unlock()
	m.close(handle)
}

func (m *Manager) close(handle *Handle) {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.closed = true
	handle.view = nil
	handle.doc = Document{}
	handle.loaded = false
}
