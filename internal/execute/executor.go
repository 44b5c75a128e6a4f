// Package execute runs at most one background job at a time.
package execute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/franz/fpvscan/internal/report"
	"github.com/franz/fpvscan/internal/util"
)

// Job is a unit of work for the executor. Run does the work; Done, when
// set, is called afterwards with Run's error (or the recovered panic) and
// the elapsed time.
type Job struct {
	Description string
	Run         func(ctx context.Context) error
	Done        func(err error, elapsed time.Duration)
}

// Status is a snapshot of the executor slot
type Status struct {
	Running     bool
	ID          string
	Description string
	Started     time.Time
}

// Config holds executor configuration
type Config struct {
	Logger *slog.Logger
	Events *report.EventLogger
	// Context is the parent of every job context. Cancelling it does not
	// stop running jobs.
	Context context.Context
}

// Executor is a single-slot job runner. A job is accepted only while the
// slot is free; jobs are never queued or cancelled.
type Executor struct {
	logger *slog.Logger
	events *report.EventLogger
	ctx    context.Context

	mu   sync.Mutex
	slot Status
	wg   sync.WaitGroup
}

// New creates a new Executor
func New(cfg *Config) *Executor {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return &Executor{
		logger: util.OrNop(cfg.Logger),
		events: cfg.Events,
		ctx:    context.WithoutCancel(ctx),
	}
}

// TryStart runs job on its own goroutine if no job is running. When the
// slot is taken it returns false and the running job's description.
func (e *Executor) TryStart(job Job) (bool, string) {
	e.mu.Lock()
	if e.slot.Running {
		current := e.slot.Description
		e.mu.Unlock()
		return false, current
	}
	e.slot = Status{
		Running:     true,
		ID:          uuid.NewString(),
		Description: job.Description,
		Started:     time.Now(),
	}
	status := e.slot
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Info("job started", "id", status.ID, "job", status.Description)
	go e.run(job, status)
	return true, ""
}

func (e *Executor) run(job Job, status Status) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		e.slot = Status{}
		e.mu.Unlock()
	}()

	var err error
	if r := panics.Try(func() { err = job.Run(e.ctx) }); r != nil {
		err = fmt.Errorf("job panicked: %w", r.AsError())
		e.logger.Error("job panicked", "id", status.ID, "job", status.Description, "panic", r.Value, "stack", string(r.Stack))
	}
	elapsed := time.Since(status.Started)

	if err != nil {
		e.logger.Error("job failed", "id", status.ID, "job", status.Description, "duration", elapsed.Round(time.Millisecond), "error", err)
	} else {
		e.logger.Info("job finished", "id", status.ID, "job", status.Description, "duration", elapsed.Round(time.Millisecond))
	}
	e.events.LogJob(status.Description, elapsed, err)

	if job.Done != nil {
		if r := panics.Try(func() { job.Done(err, elapsed) }); r != nil {
			e.logger.Error("job completion handler panicked", "id", status.ID, "panic", r.Value)
		}
	}
}

// Status returns a snapshot of the slot
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slot
}

// Busy reports whether a job is running
func (e *Executor) Busy() bool {
	return e.Status().Running
}

// Wait blocks until the running job, if any, has finished
func (e *Executor) Wait() {
	e.wg.Wait()
}
