// Package eventloop provides a single-worker task loop. Tasks run one at a
// time in submission order, so state touched only from tasks needs no
// further locking.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TaskStatus represents the state of a task
type TaskStatus string

// Task status constants define the lifecycle states
const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

var (
	// ErrLoopFull is returned when the pending buffer is full.
	ErrLoopFull = errors.New("event loop is full")
	// ErrLoopClosed is returned after Shutdown.
	ErrLoopClosed = errors.New("event loop is shut down")
	// ErrTaskNotFound is returned for unknown or pruned task ids.
	ErrTaskNotFound = errors.New("task not found")
)

// Task is the record of one posted function.
type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       TaskStatus `json:"status"`
	QueuedAt     time.Time  `json:"queued_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Func is the body of a task.
type Func func(ctx context.Context) error

type entry struct {
	task *Task
	fn   Func
	done chan error
}

// Options configure a Loop.
type Options struct {
	// Buffer is how many tasks may wait. Defaults to 100.
	Buffer int
	// History is how many finished tasks are kept for lookup. Defaults to 1000.
	History int
}

// Loop runs posted tasks on a single worker goroutine.
type Loop struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	order   []string
	pending chan *entry
	history int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a loop and starts its worker.
func New(opts Options) *Loop {
	if opts.Buffer <= 0 {
		opts.Buffer = 100
	}
	if opts.History <= 0 {
		opts.History = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		tasks:   make(map[string]*Task),
		pending: make(chan *entry, opts.Buffer),
		history: opts.History,
		ctx:     ctx,
		cancel:  cancel,
	}

	l.wg.Add(1)
	go l.worker()

	return l
}

// Post queues fn and returns the task id without waiting.
func (l *Loop) Post(name string, fn Func) (string, error) {
	e, err := l.post(name, fn)
	if err != nil {
		return "", err
	}
	return e.task.ID, nil
}

// Do queues fn and waits for it to finish. It returns fn's error, or
// ctx's error if ctx ends first. fn still runs in that case.
func (l *Loop) Do(ctx context.Context, name string, fn Func) error {
	e, err := l.post(name, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLoopClosed
	}
}

// Enqueue is Post for work that must not be lost: when the buffer is full
// it waits for room instead of returning ErrLoopFull. It fails only when
// ctx ends or the loop shuts down first.
func (l *Loop) Enqueue(ctx context.Context, name string, fn Func) (string, error) {
	l.mu.Lock()
	if l.ctx.Err() != nil {
		l.mu.Unlock()
		return "", ErrLoopClosed
	}
	e := newEntry(name, fn)
	l.registerLocked(e.task)
	l.mu.Unlock()

	select {
	case l.pending <- e:
		return e.task.ID, nil
	case <-l.ctx.Done():
		l.unregister(e.task.ID)
		return "", ErrLoopClosed
	case <-ctx.Done():
		l.unregister(e.task.ID)
		return "", ctx.Err()
	}
}

func (l *Loop) post(name string, fn Func) (*entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ctx.Err() != nil {
		return nil, ErrLoopClosed
	}

	e := newEntry(name, fn)
	select {
	case l.pending <- e:
		l.registerLocked(e.task)
		return e, nil
	default:
		log.Warn().Str("task", name).Msg("Event loop full, dropping task")
		return nil, fmt.Errorf("%w: %s", ErrLoopFull, name)
	}
}

func newEntry(name string, fn Func) *entry {
	task := &Task{
		ID:       uuid.New().String(),
		Name:     name,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}
	return &entry{task: task, fn: fn, done: make(chan error, 1)}
}

func (l *Loop) registerLocked(task *Task) {
	l.tasks[task.ID] = task
	l.order = append(l.order, task.ID)
	l.pruneLocked()
}

func (l *Loop) unregister(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tasks, id)
	l.order = slices.DeleteFunc(l.order, func(o string) bool { return o == id })
}

// Task returns a copy of the task record.
func (l *Loop) Task(id string) (*Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	task, exists := l.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return copyTask(task), nil
}

// Tasks returns tasks filtered by status, newest first. An empty status
// matches every task.
func (l *Loop) Tasks(status TaskStatus, limit, offset int) []*Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []*Task
	for _, id := range slices.Backward(l.order) {
		task := l.tasks[id]
		if status == "" || task.Status == status {
			filtered = append(filtered, copyTask(task))
		}
	}

	start := offset
	if start > len(filtered) {
		return []*Task{}
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end]
}

// Stats returns task counts by status.
func (l *Loop) Stats() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := map[string]int{
		"total":      len(l.tasks),
		"queued":     0,
		"processing": 0,
		"completed":  0,
		"failed":     0,
	}
	for _, task := range l.tasks {
		stats[string(task.Status)]++
	}
	return stats
}

func (l *Loop) worker() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case e := <-l.pending:
			l.run(e)
		}
	}
}

func (l *Loop) run(e *entry) {
	l.mu.Lock()
	e.task.Status = StatusProcessing
	now := time.Now().UTC()
	e.task.StartedAt = &now
	l.mu.Unlock()

	err := l.call(e)

	l.mu.Lock()
	completedAt := time.Now().UTC()
	e.task.CompletedAt = &completedAt
	if err != nil {
		e.task.Status = StatusFailed
		e.task.ErrorMessage = err.Error()
	} else {
		e.task.Status = StatusCompleted
	}
	l.mu.Unlock()

	e.done <- err
}

// call runs the task body, turning a panic into a task failure so one bad
// task cannot stop the loop.
func (l *Loop) call(e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", e.task.Name).Interface("panic", r).Msg("Event loop task panicked")
			err = fmt.Errorf("task %s panicked: %v", e.task.Name, r)
		}
	}()
	return e.fn(l.ctx)
}

// pruneLocked drops the oldest finished tasks beyond the history limit.
func (l *Loop) pruneLocked() {
	excess := len(l.order) - l.history
	if excess <= 0 {
		return
	}
	kept := l.order[:0]
	for _, id := range l.order {
		task := l.tasks[id]
		if excess > 0 && (task.Status == StatusCompleted || task.Status == StatusFailed) {
			delete(l.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
}

// Shutdown stops the worker. Queued tasks are not run.
func (l *Loop) Shutdown(timeout time.Duration) error {
	l.mu.Lock()
	l.cancel()
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func copyTask(task *Task) *Task {
	c := *task
	if task.StartedAt != nil {
		startedCopy := *task.StartedAt
		c.StartedAt = &startedCopy
	}
	if task.CompletedAt != nil {
		completedCopy := *task.CompletedAt
		c.CompletedAt = &completedCopy
	}
	return &c
}
