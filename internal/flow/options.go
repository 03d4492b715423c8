package flow

import "time"

// DefaultRunTimeout is how long a lead-capture run may sit idle before it is
// abandoned.
const DefaultRunTimeout = 24 * time.Hour

// Opts holds configuration shared by the manager, executor and engine.
type Opts struct {
	Clock              func() time.Time
	StorefrontURL      string
	Notifier           Notifier
	Links              LinkTracker
	Renderer           Renderer
	FallbackClassifier Classifier
	RunTimeout         time.Duration
}

// Option configures flow components.
type Option func(*Opts)

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// WithStorefrontURL sets the general store link used in deflections.
func WithStorefrontURL(url string) Option {
	return func(o *Opts) { o.StorefrontURL = url }
}

// WithNotifier sets the operator notification sink.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithLinkTracker sets the tracked-link generator.
func WithLinkTracker(l LinkTracker) Option {
	return func(o *Opts) { o.Links = l }
}

// WithRenderer sets the renderer used for tagged replies.
func WithRenderer(r Renderer) Option {
	return func(o *Opts) { o.Renderer = r }
}

// WithFallbackClassifier sets the classifier used when the primary one fails.
func WithFallbackClassifier(c Classifier) Option {
	return func(o *Opts) { o.FallbackClassifier = c }
}

// WithRunTimeout sets how long an idle lead-capture run survives.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RunTimeout = d }
}

func resolveOpts(opts []Option) Opts {
	o := Opts{Clock: time.Now, RunTimeout: DefaultRunTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = DefaultRunTimeout
	}
	return o
}
