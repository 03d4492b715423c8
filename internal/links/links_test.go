package links

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

// resolver is what the click endpoint needs from a tracker.
type resolver interface {
	MakeTrackedLink(ctx context.Context, customerID, url string, meta map[string]string) (string, error)
	Resolve(ctx context.Context, code string) (Link, error)
	Clicks(ctx context.Context, code string) (int, error)
}

func exerciseTracker(t *testing.T, tr resolver) {
	t.Helper()
	ctx := context.Background()
	short, err := tr.MakeTrackedLink(ctx, "5215550001111", "https://tienda.test/p/conf-4x5", map[string]string{"flow": "confeccionada"})
	if err != nil {
		t.Fatalf("MakeTrackedLink() error = %v", err)
	}
	if !strings.HasPrefix(short, "https://l.test/") {
		t.Fatalf("short link = %q", short)
	}
	code := strings.TrimPrefix(short, "https://l.test/")
	if len(code) != 10 {
		t.Errorf("code = %q", code)
	}

	for i := 0; i < 2; i++ {
		link, err := tr.Resolve(ctx, code)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if link.URL != "https://tienda.test/p/conf-4x5" || link.CustomerID != "5215550001111" || link.Meta["flow"] != "confeccionada" {
			t.Errorf("link = %+v", link)
		}
	}
	if n, err := tr.Clicks(ctx, code); err != nil || n != 2 {
		t.Errorf("Clicks() = %d, %v", n, err)
	}

	if _, err := tr.Resolve(ctx, "nope"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("Resolve(unknown) error = %v", err)
	}
	if _, err := tr.MakeTrackedLink(ctx, "x", "not a url", nil); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("MakeTrackedLink(invalid) error = %v", err)
	}
}

func TestMemoryTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryTracker(WithBaseURL("https://l.test/")))
}

func TestMemoryTrackerExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := NewMemoryTracker(WithBaseURL("https://l.test"), WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	short, err := tr.MakeTrackedLink(context.Background(), "c", "https://tienda.test", nil)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := tr.Resolve(context.Background(), strings.TrimPrefix(short, "https://l.test/")); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("Resolve(expired) error = %v", err)
	}
}

func TestShortURLWithoutBase(t *testing.T) {
	tr := NewMemoryTracker()
	short, err := tr.MakeTrackedLink(context.Background(), "c", "https://tienda.test/p?id=7", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(short, "https://tienda.test/p?") || !strings.Contains(short, "id=7") || !strings.Contains(short, "ref=") {
		t.Errorf("short = %q", short)
	}
}

func TestRedisTracker(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("env REDIS_URL not set")
	}
	tr, err := NewRedisTracker(context.Background(), redisURL, WithBaseURL("https://l.test"), WithKeyPrefix("salespipe-test:"+t.Name()+":"))
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer tr.Close()
	exerciseTracker(t, tr)
}
