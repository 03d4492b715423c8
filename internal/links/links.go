// Package links issues tracked short links for storefront URLs and resolves
// them back when a customer clicks.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a tracked link stays resolvable.
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrLinkNotFound is returned when a code is unknown or expired.
	ErrLinkNotFound = errors.New("link not found")
	// ErrInvalidURL is returned for destinations that are not absolute URLs.
	ErrInvalidURL = errors.New("invalid destination URL")
)

// Link is one tracked destination.
type Link struct {
	Code       string            `json:"code"`
	CustomerID string            `json:"customer_id"`
	URL        string            `json:"url"`
	Meta       map[string]string `json:"meta,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Opts holds tracker configuration.
type Opts struct {
	BaseURL string
	TTL     time.Duration
	Prefix  string
	Clock   func() time.Time
}

// Option configures a tracker.
type Option func(*Opts)

// WithBaseURL sets the public prefix of short links, e.g. https://l.example.mx.
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(base, "/") }
}

// WithTTL sets how long links stay resolvable.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithKeyPrefix sets the storage key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.Prefix = prefix }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

func buildOpts(opts []Option) Opts {
	o := Opts{TTL: DefaultTTL, Prefix: "salespipe:link:", Clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// newCode returns a short random link code.
func newCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func validDestination(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// shortURL builds the public form of a code. Without a base URL the
// destination is returned with the code as a query parameter.
func shortURL(base, code, dest string) string {
	if base != "" {
		return base + "/" + code
	}
	u, err := url.Parse(dest)
	if err != nil {
		return dest
	}
	q := u.Query()
	q.Set("ref", code)
	u.RawQuery = q.Encode()
	return u.String()
}

// MemoryTracker keeps links in process memory. Used in tests and when no
// Redis is configured.
type MemoryTracker struct {
	opts   Opts
	mu     sync.Mutex
	links  map[string]Link
	clicks map[string]int
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker(opts ...Option) *MemoryTracker {
	return &MemoryTracker{opts: buildOpts(opts), links: make(map[string]Link), clicks: make(map[string]int)}
}

// MakeTrackedLink stores the destination and returns its short link.
func (m *MemoryTracker) MakeTrackedLink(_ context.Context, customerID, dest string, meta map[string]string) (string, error) {
	if err := validDestination(dest); err != nil {
		return "", err
	}
	link := Link{Code: newCode(), CustomerID: customerID, URL: dest, Meta: meta, CreatedAt: m.opts.Clock()}
	m.mu.Lock()
	m.links[link.Code] = link
	m.mu.Unlock()
	slog.Debug("MemoryTracker.MakeTrackedLink: link created", "code", link.Code, "customerID", customerID)
	return shortURL(m.opts.BaseURL, link.Code, dest), nil
}

// Resolve returns the link for code and counts the click.
func (m *MemoryTracker) Resolve(_ context.Context, code string) (Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[code]
	if !ok || (m.opts.TTL > 0 && m.opts.Clock().Sub(link.CreatedAt) > m.opts.TTL) {
		return Link{}, ErrLinkNotFound
	}
	m.clicks[code]++
	return link, nil
}

// Clicks returns how many times code was resolved.
func (m *MemoryTracker) Clicks(_ context.Context, code string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clicks[code], nil
}
