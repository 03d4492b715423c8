// Package scheduler runs periodic maintenance jobs on cron expressions, such
// as reloading the product catalog.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 2 * time.Minute

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// slogCronLogger adapts slog to the cron logger interface.
type slogCronLogger struct{}

func (slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates and starts a cron scheduler. Jobs use the standard
// 5-field syntax (min, hour, dom, month, dow) and the @every/@daily
// descriptors; a job that is still running is skipped rather than stacked.
func NewScheduler() *Scheduler {
	logger := slogCronLogger{}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start()
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel, timeout: DefaultJobTimeout, jobs: make(map[string]cron.EntryID)}
}

// AddJob schedules task under name using the provided cron expression.
// Adding a name again replaces the previous schedule.
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	id, err := s.cron.AddFunc(expr, func() { s.run(name, task) })
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, expr, err)
	}
	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = id
	s.mu.Unlock()
	slog.Info("Scheduler.AddJob: job scheduled", "name", name, "expr", expr)
	return nil
}

// RunNow runs a scheduled job immediately in the caller's goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Jobs returns the scheduled job names and their next run.
func (s *Scheduler) Jobs() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for name, id := range s.jobs {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	start := time.Now()
	if err := task(ctx); err != nil {
		slog.Error("Scheduler.run: job failed", "name", name, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.Debug("Scheduler.run: job done", "name", name, "elapsed", time.Since(start))
}

// Stop cancels running jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
