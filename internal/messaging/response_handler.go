package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/SalesPipe/internal/models"
)

// DefaultMaxConcurrentTurns bounds how many inbound messages are handled at once.
const DefaultMaxConcurrentTurns = 16

// InboundFunc handles one inbound customer message, typically by running a
// conversation turn.
type InboundFunc func(ctx context.Context, msg models.InboundMessage) error

// ResponseHandler reads inbound messages from a Service and hands each one to
// an InboundFunc on its own goroutine, bounded by a semaphore.
type ResponseHandler struct {
	msgService Service
	handle     InboundFunc
	sem        chan struct{}
	wg         sync.WaitGroup
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithMaxConcurrentTurns sets the concurrency bound.
func WithMaxConcurrentTurns(n int) HandlerOption {
	return func(rh *ResponseHandler) {
		if n > 0 {
			rh.sem = make(chan struct{}, n)
		}
	}
}

// NewResponseHandler creates a handler for msgService.
func NewResponseHandler(msgService Service, handle InboundFunc, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService: msgService,
		handle:     handle,
		sem:        make(chan struct{}, DefaultMaxConcurrentTurns),
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ProcessInbound canonicalizes the sender and runs the handler synchronously.
func (rh *ResponseHandler) ProcessInbound(ctx context.Context, msg models.InboundMessage) error {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Error("ResponseHandler.ProcessInbound: invalid sender", "from", msg.From, "error", err)
		return fmt.Errorf("invalid sender: %w", err)
	}
	msg.From = from
	if err := rh.handle(ctx, msg); err != nil {
		slog.Error("ResponseHandler.ProcessInbound: handler failed", "from", from, "messageID", msg.ID, "error", err)
		return fmt.Errorf("handle inbound %s: %w", msg.ID, err)
	}
	return nil
}

// Start begins processing inbound messages until ctx is cancelled or the
// service closes its channel. Receipts are drained and logged.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: processing inbound messages", "maxConcurrent", cap(rh.sem))
	go func() {
		defer slog.Info("ResponseHandler.Start: stopped")
		inbound := rh.msgService.Inbound()
		receipts := rh.msgService.Receipts()
		for inbound != nil || receipts != nil {
			select {
			case msg, ok := <-inbound:
				if !ok {
					inbound = nil
					continue
				}
				rh.dispatch(ctx, msg)
			case r, ok := <-receipts:
				if !ok {
					receipts = nil
					continue
				}
				slog.Debug("ResponseHandler: receipt", "to", r.To, "status", r.Status)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rh *ResponseHandler) dispatch(ctx context.Context, msg models.InboundMessage) {
	select {
	case rh.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer func() { <-rh.sem }()
		_ = rh.ProcessInbound(ctx, msg)
	}()
}

// Wait blocks until in-flight messages are handled.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
