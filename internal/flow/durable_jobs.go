package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// Job kinds owned by the flow package.
const (
	JobKindAbandonFlowRun = "abandon_flow_run"
)

// AbandonFlowRunPayload is the JSON payload for abandon_flow_run jobs.
type AbandonFlowRunPayload struct {
	CustomerID string    `json:"customer_id"`
	RunID      string    `json:"run_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RegisterJobHandlers registers the flow job handlers with the runner.
func RegisterJobHandlers(runner *store.JobRunner, engine *Engine) {
	runner.RegisterHandler(JobKindAbandonFlowRun, makeAbandonFlowRunHandler(engine))
}

func makeAbandonFlowRunHandler(e *Engine) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p AbandonFlowRunPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid abandon_flow_run payload: %w", err)
		}
		slog.Info("JobHandler.abandon_flow_run: executing", "customerID", p.CustomerID, "runID", p.RunID)

		// Idempotency: skip without taking the lock when the run has moved on.
		current, err := e.sessions.Peek(p.CustomerID)
		if err != nil {
			return err
		}
		if !p.matches(current) {
			slog.Debug("JobHandler.abandon_flow_run: run changed, skipping", "customerID", p.CustomerID, "runID", p.RunID)
			return nil
		}

		var res *StepResult
		var handoff models.HandoffInfo
		err = e.sessions.WithSession(ctx, p.CustomerID, func(sess *models.Session) error {
			if !p.matches(sess) {
				return nil
			}
			r, err := e.executor.Abandon(ctx, sess, "sin respuesta")
			if err != nil {
				return err
			}
			res = r
			handoff = sess.Handoff
			sess.UpdatedAt = e.now()
			return nil
		})
		if err != nil {
			return fmt.Errorf("abandon run %s: %w", p.RunID, err)
		}
		if res == nil {
			return nil
		}
		if res.Message != "" {
			if err := e.enqueueText(p.CustomerID, res.Message, "abandon:"+p.RunID); err != nil {
				return err
			}
		}
		if res.Handoff {
			e.manager.notify(ctx, p.CustomerID, handoff.Reason)
		}
		return nil
	}
}

func (p AbandonFlowRunPayload) matches(sess *models.Session) bool {
	return sess != nil && sess.FlowRun != nil && sess.FlowRun.ID == p.RunID && sess.FlowRun.UpdatedAt.Equal(p.UpdatedAt)
}
