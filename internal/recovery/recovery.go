// Package recovery runs the startup steps that bring durable state back in
// line after a restart: messages and jobs left claimed by a dead process are
// requeued and caches are warmed before traffic arrives.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Recoverable is a component that restores its state at startup.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// Func adapts a function to Recoverable.
type Func func(ctx context.Context) error

// RecoverState calls f.
func (f Func) RecoverState(ctx context.Context) error { return f(ctx) }

type component struct {
	name string
	r    Recoverable
}

// RecoveryManager runs registered components in registration order.
type RecoveryManager struct {
	components []component
}

// NewRecoveryManager creates an empty manager.
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// Register adds a named component.
func (rm *RecoveryManager) Register(name string, r Recoverable) {
	rm.components = append(rm.components, component{name: name, r: r})
}

// RecoverAll runs every component, including after a failure, and returns
// the joined errors. It stops early only when ctx is cancelled.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting", "components", len(rm.components))
	var errs []error
	recovered := 0
	for _, c := range rm.components {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.r.RecoverState(ctx); err != nil {
			slog.Error("RecoveryManager.RecoverAll: component failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		recovered++
	}
	slog.Info("RecoveryManager.RecoverAll: done", "recovered", recovered, "errors", len(errs))
	return errors.Join(errs...)
}
