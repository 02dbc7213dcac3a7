// Package tasks implements the async task manager (spec §4.6): a
// bounded-concurrency FIFO queue wrapping an Executor, so a caller can
// submit a module call and poll its result instead of blocking on it.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchkit/core/internal/core"
	"github.com/dispatchkit/core/internal/core/errs"
)

// Caller is the subset of *executor.Executor the task Manager drives. A
// narrow interface keeps this package free of an import-cycle-prone
// dependency on the concrete executor type and makes it trivial to fake in
// tests.
type Caller interface {
	Call(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (core.Record, error)
}

// Status mirrors core.TaskStatus; re-exported here so callers of this
// package don't need to import core just to compare against it.
type Status = core.TaskStatus

// Info is the read-only snapshot of a task's lifecycle (spec §3 TaskInfo).
type Info struct {
	TaskID      string
	ModuleID    string
	Status      Status
	SubmittedAt time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      core.Record
	Error       error
}

type task struct {
	mu   sync.Mutex
	info Info

	inputs   core.Record
	callCtx  *core.Context
	cancel   context.CancelFunc
	queued   bool
	released bool
}

// Config bounds the Manager's resource usage.
type Config struct {
	// MaxOutstanding caps the number of tasks tracked at once (any status).
	// Submit is rejected once this many tasks are outstanding. Zero means
	// unlimited.
	MaxOutstanding int
	// MaxConcurrent caps how many tasks may be Running simultaneously.
	// Additional submissions wait in a FIFO queue for a slot. Zero means
	// unlimited (a slot is always granted immediately).
	MaxConcurrent int
}

// Manager is a bounded-concurrency FIFO queue of module calls, grounded on
// the engine's event queue: a running counter and an unbounded slice of
// waiters guarded by a mutex, where each waiter blocks on its own
// unbuffered channel that release closes to wake it.
type Manager struct {
	caller Caller
	cfg    Config

	mu      sync.Mutex
	tasks   map[string]*task
	waiters []chan struct{}
	running int
}

// New builds a Manager driving caller (typically an *executor.Executor).
func New(caller Caller, cfg Config) *Manager {
	return &Manager{
		caller: caller,
		cfg:    cfg,
		tasks:  make(map[string]*task),
	}
}

// Submit enqueues a module call for background execution and returns its
// taskId immediately (spec §4.6 "submit(moduleId, inputs, context?) →
// taskId"). The call runs on its own goroutine once a concurrency slot is
// available.
func (m *Manager) Submit(ctx context.Context, moduleID string, inputs core.Record, callCtx *core.Context) (string, error) {
	m.mu.Lock()
	if m.cfg.MaxOutstanding > 0 && len(m.tasks) >= m.cfg.MaxOutstanding {
		m.mu.Unlock()
		return "", errs.New(errs.CodeGeneralInvalidInput, fmt.Sprintf("tasks: max outstanding count %d reached", m.cfg.MaxOutstanding))
	}
	m.mu.Unlock()

	taskID := uuid.Must(uuid.NewV7()).String()
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{
		info: Info{
			TaskID:      taskID,
			ModuleID:    moduleID,
			Status:      core.TaskPending,
			SubmittedAt: time.Now(),
		},
		inputs:  inputs,
		callCtx: callCtx,
		cancel:  cancel,
		queued:  true,
	}

	m.mu.Lock()
	m.tasks[taskID] = t
	m.mu.Unlock()

	go m.run(taskCtx, t)

	return taskID, nil
}

// run acquires a concurrency slot (blocking, FIFO, cancellable by the
// task's own cancel), executes the call, and releases the slot exactly
// once regardless of outcome (spec §4.6 "must release exactly once per
// acquisition, including when the task is cancelled while queued").
func (m *Manager) run(ctx context.Context, t *task) {
	acquired, err := m.acquire(ctx)
	t.mu.Lock()
	t.queued = false
	t.mu.Unlock()

	if err != nil {
		t.mu.Lock()
		t.info.Status = core.TaskCancelled
		t.info.CompletedAt = time.Now()
		t.info.Error = err
		t.mu.Unlock()
		return
	}
	if !acquired {
		return
	}
	defer m.release()

	t.mu.Lock()
	if ctx.Err() != nil {
		t.info.Status = core.TaskCancelled
		t.info.CompletedAt = time.Now()
		t.mu.Unlock()
		return
	}
	t.info.Status = core.TaskRunning
	t.info.StartedAt = time.Now()
	t.mu.Unlock()

	result, callErr := m.caller.Call(ctx, t.info.ModuleID, t.inputs, t.callCtx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.CompletedAt = time.Now()
	if ctx.Err() != nil && t.info.Status != core.TaskCancelled {
		t.info.Status = core.TaskCancelled
		return
	}
	if callErr != nil {
		t.info.Status = core.TaskFailed
		t.info.Error = callErr
		return
	}
	t.info.Status = core.TaskCompleted
	t.info.Result = result
}

// acquire blocks until a concurrency slot is free or ctx is done. Waiters
// are served in FIFO order (spec §5 "Task-manager slot grants are FIFO
// across waiters").
func (m *Manager) acquire(ctx context.Context) (bool, error) {
	for {
		m.mu.Lock()
		if m.cfg.MaxConcurrent <= 0 || m.running < m.cfg.MaxConcurrent {
			m.running++
			m.mu.Unlock()
			return true, nil
		}
		wait := make(chan struct{})
		m.waiters = append(m.waiters, wait)
		m.mu.Unlock()

		select {
		case <-wait:
			continue
		case <-ctx.Done():
			m.mu.Lock()
			m.removeWaiter(wait)
			m.mu.Unlock()
			return false, errs.Wrap(errs.CodeExecutionCancelled, "tasks: cancelled while queued for a slot", ctx.Err())
		}
	}
}

// release frees a concurrency slot and wakes the next FIFO waiter, if any.
func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running--
	if len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		close(next)
	}
}

func (m *Manager) removeWaiter(target chan struct{}) {
	for i, w := range m.waiters {
		if w == target {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// Status returns a snapshot of a task's current Info, or false if taskID
// is unknown.
func (m *Manager) Status(taskID string) (Info, bool) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info, true
}

// Cancel marks taskID cancelled. A task still queued for a slot never
// starts; a task already running has its context cancelled and is
// observed at slot-release time and at execution completion (spec §5
// "cancel(taskId) sets a flag... observed at slot-release time and at
// execution completion"). Returns false if taskID is unknown or already
// in a terminal state.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	if isTerminal(t.info.Status) {
		t.mu.Unlock()
		return false
	}
	wasQueued := t.queued
	t.mu.Unlock()

	t.cancel()

	if wasQueued {
		t.mu.Lock()
		if t.info.Status == core.TaskPending {
			t.info.Status = core.TaskCancelled
			t.info.CompletedAt = time.Now()
		}
		t.mu.Unlock()
	}
	return true
}

// Cleanup removes every task in a terminal state whose CompletedAt is
// older than maxAge, returning the count removed (spec §4.6
// "cleanup(maxAgeSeconds) removes terminal-state tasks older than the
// threshold").
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, t := range m.tasks {
		t.mu.Lock()
		stale := isTerminal(t.info.Status) && t.info.CompletedAt.Before(cutoff)
		t.mu.Unlock()
		if stale {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func isTerminal(s core.TaskStatus) bool {
	return s == core.TaskCompleted || s == core.TaskFailed || s == core.TaskCancelled
}
