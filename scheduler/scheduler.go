// Package scheduler runs one-shot jobs at a wall-clock time on top of
// robfig/cron. Every job has a small state machine so that firing and
// cancellation of the same job are linearizable: exactly one of them wins.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/logging"
	"github.com/robfig/cron/v3"
)

// Job is a unit of deferred work.
type Job struct {
	// ID identifies the job. Scheduling an ID that is still pending
	// supersedes the pending job.
	ID         string
	SenderID   string
	Name       string
	ActionName string
	At         time.Time
	Run        func(ctx context.Context) error
}

// JobInfo describes a pending job.
type JobInfo struct {
	ID         string
	SenderID   string
	Name       string
	ActionName string
	At         time.Time
}

// Options configure a Scheduler.
type Options struct {
	Logger   logging.Logger
	Location *time.Location
	// OnDone observes every job that ran, with the error it returned.
	OnDone func(info JobInfo, err error)
}

type state int

const (
	stateScheduled state = iota
	stateRunning
	stateDone
	stateCancelled
)

type entry struct {
	info    JobInfo
	run     func(ctx context.Context) error
	cronID  cron.EntryID
	mu      sync.Mutex
	state   state
	started bool
}

// transition moves the entry from one state to another and reports whether
// it was in the expected state.
func (e *entry) transition(from, to state) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

// Scheduler owns a cron instance and the pending jobs.
type Scheduler struct {
	cron   *cron.Cron
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	jobs     map[string]*entry // job id → pending entry
	running  bool
	stopped  bool
	stopOnce sync.Once
}

// New creates a stopped scheduler.
func New(optFns ...func(o *Options)) *Scheduler {
	opts := Options{Location: time.Local}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNop(opts.Logger)
	logger := cronLogger{opts.Logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}
}

// Start launches the cron loop and registers jobs scheduled before Start.
// Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.cron.Start()
	s.running = true
	for _, e := range s.jobs {
		s.register(e)
	}
	s.opts.Logger.Info("Scheduler started", "jobs", len(s.jobs))
}

// Stop cancels the context of running jobs, drops pending jobs and waits
// until running jobs return or ctx is done. Safe to call multiple times.
func (s *Scheduler) Stop(ctx context.Context) error {
	var done context.Context
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		for id, e := range s.jobs {
			e.transition(stateScheduled, stateCancelled)
			delete(s.jobs, id)
		}
		s.mu.Unlock()
		s.cancel()
		done = s.cron.Stop()
	})
	if done == nil {
		return nil
	}
	select {
	case <-done.Done():
		s.opts.Logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule registers a job. A pending job with the same ID is superseded.
func (s *Scheduler) Schedule(job Job) error {
	if job.ID == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs an id and a run function", core.ErrScheduling)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("%w: scheduler stopped", core.ErrScheduling)
	}
	if old, ok := s.jobs[job.ID]; ok {
		s.cancelLocked(old)
	}
	e := &entry{
		info: JobInfo{ID: job.ID, SenderID: job.SenderID, Name: job.Name, ActionName: job.ActionName, At: job.At},
		run:  job.Run,
	}
	s.jobs[job.ID] = e
	if s.running {
		s.register(e)
	}
	return nil
}

// register adds the entry to the running cron. Must be called with s.mu held.
func (s *Scheduler) register(e *entry) {
	if e.started {
		return
	}
	e.started = true
	e.cronID = s.cron.Schedule(&once{at: e.info.At}, cron.FuncJob(func() { s.fire(e) }))
}

func (s *Scheduler) fire(e *entry) {
	if !e.transition(stateScheduled, stateRunning) {
		return
	}
	s.mu.Lock()
	if s.jobs[e.info.ID] == e {
		delete(s.jobs, e.info.ID)
	}
	s.cron.Remove(e.cronID)
	s.mu.Unlock()

	err := e.run(s.ctx)
	e.transition(stateRunning, stateDone)
	if err != nil {
		s.opts.Logger.Error("Scheduled job failed", "job", e.info.ID, "error", err)
	}
	if s.opts.OnDone != nil {
		s.opts.OnDone(e.info, err)
	}
}

// Cancel removes a pending job. It returns false if the job is unknown or
// has already started running.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	return s.cancelLocked(e)
}

// CancelMatching cancels every pending job for which match returns true and
// returns how many were cancelled.
func (s *Scheduler) CancelMatching(match func(JobInfo) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.jobs {
		if match(e.info) && s.cancelLocked(e) {
			n++
		}
	}
	return n
}

// cancelLocked must be called with s.mu held.
func (s *Scheduler) cancelLocked(e *entry) bool {
	delete(s.jobs, e.info.ID)
	if !e.transition(stateScheduled, stateCancelled) {
		return false
	}
	if e.started {
		s.cron.Remove(e.cronID)
	}
	return true
}

// Jobs lists pending jobs ordered by trigger time.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// once is a cron.Schedule that yields a single activation. Entries are only
// added to a running cron, which asks for the first activation exactly once.
type once struct {
	mu     sync.Mutex
	at     time.Time
	issued bool
}

// Next implements cron.Schedule. A trigger time in the past activates
// immediately.
func (o *once) Next(t time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.issued {
		return time.Time{}
	}
	o.issued = true
	if t.After(o.at) {
		return t
	}
	return o.at
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct{ l logging.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) { c.l.Debug("cron: "+msg, keysAndValues...) }

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
