// Package controller sequences a submitted batch through validate, build,
// run, and finalize, enforcing that only one job is active at a time. All
// job state mutation happens here; every other component is stateless or
// holds only its own scoped state.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caetera/spectronaut-webui/internal/build"
	"github.com/caetera/spectronaut-webui/internal/logstream"
	"github.com/caetera/spectronaut-webui/internal/metadata"
	"github.com/caetera/spectronaut-webui/internal/runner"
)

// ErrJobAlreadyActive is returned by Submit while a job is building or
// running. Submissions are rejected rather than queued.
var ErrJobAlreadyActive = errors.New("a job is already active")

// DefaultGraceInterval is how long an aborted process gets to exit after the
// polite interrupt before it is forcibly killed.
const DefaultGraceInterval = 10 * time.Second

// Options configure a Controller.
type Options struct {
	// Command is the external tool command template; invocation argv is
	// appended to it.
	Command []string

	// LicenseKey activates the tool before a run. Empty skips activation.
	LicenseKey string

	// GraceInterval overrides DefaultGraceInterval when positive.
	GraceInterval time.Duration

	// LogBuffer overrides the log streamer's replay capacity when positive.
	LogBuffer int
}

// Job is the single job tracked by the controller. The batch never changes
// after creation; only status fields mutate, and only the controller
// mutates them.
type job struct {
	id    string
	batch *build.Batch

	startedAt  time.Time
	finishedAt time.Time
	exitCode   int
	err        error

	abortRequested bool

	cancel context.CancelFunc
}

// Status is a point-in-time snapshot of the current (or last) job.
type Status struct {
	ID             string         `json:"id,omitempty"`
	State          State          `json:"-"`
	StateName      string         `json:"state"`
	Workflow       build.Workflow `json:"workflow,omitempty"`
	StartedAt      time.Time      `json:"started_at,omitzero"`
	FinishedAt     time.Time      `json:"finished_at,omitzero"`
	ExitCode       int            `json:"exit_code"`
	Error          string         `json:"error,omitempty"`
	AbortRequested bool           `json:"abort_requested"`
}

// Controller owns the one-job-at-a-time state machine.
type Controller struct {
	builder *build.Builder
	logger  *slog.Logger
	opts    Options

	mu       sync.Mutex
	state    State
	job      *job
	streamer *logstream.Streamer
	handle   *runner.Handle

	events   *eventHub
	shutdown chan struct{}
}

func New(builder *build.Builder, logger *slog.Logger, opts Options) *Controller {
	if opts.GraceInterval <= 0 {
		opts.GraceInterval = DefaultGraceInterval
	}

	return &Controller{
		builder:  builder,
		logger:   logger,
		opts:     opts,
		state:    StateIdle,
		events:   newEventHub(),
		shutdown: make(chan struct{}, 1),
	}
}

// Submit creates a fresh job for the batch and starts it. It returns the
// job ID, or ErrJobAlreadyActive if a job is building or running. The
// superseded job's log streamer is closed; its artifacts remain on disk.
func (c *Controller) Submit(batch *build.Batch) (string, error) {
	c.mu.Lock()

	if c.state.active() {
		c.mu.Unlock()
		return "", ErrJobAlreadyActive
	}

	if c.streamer != nil {
		c.streamer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())

	j := &job{
		id:        uuid.NewString(),
		batch:     batch,
		startedAt: time.Now(),
		exitCode:  -1,
		cancel:    cancel,
	}

	c.job = j
	c.state = StateBuilding
	c.streamer = logstream.NewStreamer(c.opts.LogBuffer)

	// Publishing while holding the lock keeps events in state-machine
	// order: a racing terminal event of the previous job cannot land after
	// this job's Building event.
	c.events.publish(c.statusLocked())
	c.mu.Unlock()

	c.logger.Info("job submitted", "id", j.id, "workflow", batch.Workflow, "files", len(batch.Entries))

	go c.run(ctx, j)

	return j.id, nil
}

// Abort requests termination of the active job. It is idempotent and a
// no-op when no job is active.
func (c *Controller) Abort() {
	c.mu.Lock()

	if !c.state.active() || c.job.abortRequested {
		c.mu.Unlock()
		return
	}

	c.job.abortRequested = true
	c.job.cancel()
	handle := c.handle
	id := c.job.id

	c.events.publish(c.statusLocked())
	c.mu.Unlock()

	c.logger.Warn("abort requested", "id", id)

	if handle != nil {
		handle.Abort(c.opts.GraceInterval)
	}
}

// Status returns a snapshot of the current (or last) job.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := Status{
		State:     c.state,
		StateName: c.state.String(),
		ExitCode:  -1,
	}

	if c.job != nil {
		s.ID = c.job.id
		s.Workflow = c.job.batch.Workflow
		s.StartedAt = c.job.startedAt
		s.FinishedAt = c.job.finishedAt
		s.ExitCode = c.job.exitCode
		s.AbortRequested = c.job.abortRequested

		if c.job.err != nil {
			s.Error = c.job.err.Error()
		}
	}

	return s
}

// Events returns a subscription to job status changes.
func (c *Controller) Events() *EventSubscription {
	return c.events.subscribe()
}

// Logs subscribes to the current job's log stream. It returns nil when no
// job has been submitted yet.
func (c *Controller) Logs() *logstream.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streamer == nil {
		return nil
	}

	return c.streamer.Subscribe()
}

// ShutdownRequests fires after a job with the shutdown-when-done flag
// reaches Completed or Failed. An aborted run never requests shutdown: the
// operator initiated the abort and is assumed still present.
func (c *Controller) ShutdownRequests() <-chan struct{} {
	return c.shutdown
}

func (c *Controller) run(ctx context.Context, j *job) {
	entries := metadata.Assign(j.batch.Entries)

	assigned := *j.batch
	assigned.Entries = entries

	plan, err := c.builder.Build(ctx, &assigned)
	if err != nil {
		c.finish(j, err)
		return
	}

	c.mu.Lock()
	if j.abortRequested {
		c.mu.Unlock()
		c.finish(j, runner.ErrAborted)
		return
	}
	c.state = StateRunning
	c.events.publish(c.statusLocked())
	c.mu.Unlock()

	c.logger.Info("job running", "id", j.id, "runs", len(plan.Runs))

	if c.opts.LicenseKey != "" {
		c.logger.Info("activating license")

		if err := c.runInvocation(j, plan.WorkingDir, []string{"activate", c.opts.LicenseKey}); err != nil {
			c.finish(j, err)
			return
		}
	}

	// A nonzero exit does not stop the remaining invocations: for the
	// convert workflow each file is converted independently and a bad
	// file should not sink the rest. The job still finishes Failed.
	var runErr error

	for _, inv := range plan.Runs {
		err := c.runInvocation(j, plan.WorkingDir, inv.Argv)
		if errors.Is(err, runner.ErrAborted) {
			runErr = err
			break
		}
		if err != nil {
			runErr = err
		}
	}

	if c.opts.LicenseKey != "" && !errors.Is(runErr, runner.ErrAborted) {
		c.logger.Info("deactivating license")

		if err := c.runInvocation(j, plan.WorkingDir, []string{"deactivate"}); err != nil && runErr == nil {
			runErr = err
		}
	}

	c.finish(j, runErr)
}

// runInvocation executes one invocation of the external tool, binding its
// output to the job's streamer, and blocks until it exits.
func (c *Controller) runInvocation(j *job, workingDir string, argv []string) error {
	full := append(append([]string{}, c.opts.Command...), argv...)

	c.mu.Lock()
	if j.abortRequested {
		c.mu.Unlock()
		return runner.ErrAborted
	}
	streamer := c.streamer
	c.mu.Unlock()

	h, err := runner.New(full, workingDir, streamer)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.handle = nil
		c.mu.Unlock()
	}()

	if err := h.Start(); err != nil {
		return err
	}

	// An abort that raced Start aborts the live handle here instead of in
	// Abort, which may have observed a nil handle.
	c.mu.Lock()
	aborted := j.abortRequested
	c.mu.Unlock()

	if aborted {
		h.Abort(c.opts.GraceInterval)
	}

	<-h.Done()

	c.mu.Lock()
	j.exitCode = h.ExitCode()
	c.mu.Unlock()

	return h.Result()
}

// finish moves the job to its terminal state. Abort always wins over a
// concurrently-arriving failure.
func (c *Controller) finish(j *job, err error) {
	c.mu.Lock()

	j.finishedAt = time.Now()

	switch {
	case j.abortRequested || errors.Is(err, runner.ErrAborted):
		c.state = StateAborted
		j.err = runner.ErrAborted
	case err != nil:
		c.state = StateFailed
		j.err = err
	default:
		c.state = StateCompleted
	}

	state := c.state
	c.streamer.Close()
	shutdownWanted := j.batch.Params.ShutdownWhenDone &&
		(state == StateCompleted || state == StateFailed)

	c.events.publish(c.statusLocked())
	c.mu.Unlock()

	switch state {
	case StateCompleted:
		c.logger.Info("job completed", "id", j.id)
	case StateAborted:
		c.logger.Warn("job aborted", "id", j.id)
	default:
		c.logger.Error("job failed", "id", j.id, "err", err)
	}

	if shutdownWanted {
		select {
		case c.shutdown <- struct{}{}:
		default:
		}
	}
}
