// Package task runs the in-process task queue and the automation rules
// that feed it.
//
// Tasks live in memory only: the queue starts empty on every boot and
// finished tasks stay queryable for the process lifetime.
package task

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/qihaolou/Foxel/fs"
)

// Task statuses. A task only ever moves forward along
// pending, running, success or failed.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Task is one queued unit of work.
type Task struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Status   string                 `json:"status"`
	Result   interface{}            `json:"result"`
	Error    string                 `json:"error,omitempty"`
	TaskInfo map[string]interface{} `json:"task_info"`
}

// Handler executes one named task kind. The returned value lands in
// Task.Result.
type Handler func(ctx context.Context, info map[string]interface{}) (interface{}, error)

// Queue is a single-worker FIFO queue bounded only by memory.
type Queue struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string
	pending  []*Task
	handlers map[string]Handler
	observer func(status string)

	workMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	wake chan struct{}
}

// New returns an empty queue with no handlers and no worker.
func New() *Queue {
	return &Queue{
		tasks:    map[string]*Task{},
		handlers: map[string]Handler{},
		wake:     make(chan struct{}, 1),
	}
}

// String converts this Queue to a string for logging.
func (q *Queue) String() string { return "task queue" }

// RegisterHandler binds a task name to its executor. Handlers are wired
// before Start.
func (q *Queue) RegisterHandler(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Observe registers a callback fired on every status transition, for
// metrics. Wired before Start.
func (q *Queue) Observe(f func(status string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = f
}

func (q *Queue) observe(status string) {
	q.mu.Lock()
	f := q.observer
	q.mu.Unlock()
	if f != nil {
		f(status)
	}
}

func newID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Enqueue files a task and wakes the worker. The returned value is a
// snapshot; poll Get for progress.
func (q *Queue) Enqueue(name string, info map[string]interface{}) *Task {
	if info == nil {
		info = map[string]interface{}{}
	}
	t := &Task{
		ID:       newID(),
		Name:     name,
		Status:   StatusPending,
		TaskInfo: info,
	}
	q.mu.Lock()
	q.tasks[t.ID] = t
	q.order = append(q.order, t.ID)
	q.pending = append(q.pending, t)
	snap := *t
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.observe(StatusPending)
	fs.Infof(q, "task %s (%s) enqueued", name, t.ID)
	return &snap
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	snap := *t
	return &snap, true
}

// All returns snapshots of every task seen this process, oldest first.
func (q *Queue) All() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.order))
	for _, id := range q.order {
		snap := *q.tasks[id]
		out = append(out, &snap)
	}
	return out
}

// Start launches the worker goroutine. Calling it with a live worker is
// a no-op.
func (q *Queue) Start() {
	q.workMu.Lock()
	defer q.workMu.Unlock()
	if q.done != nil {
		select {
		case <-q.done:
			// The previous worker exited; start a new one.
		default:
			return
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.worker(ctx, q.done)
	fs.Infof(q, "worker started")
}

// Stop cancels the worker and waits for it to exit. Pending tasks stay
// queued; a later Start picks them back up.
func (q *Queue) Stop() {
	q.workMu.Lock()
	cancel, done := q.cancel, q.done
	q.cancel, q.done = nil, nil
	q.workMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	fs.Infof(q, "worker stopped")
}

func (q *Queue) next() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t
}

func (q *Queue) worker(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t := q.next()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}
		q.execute(ctx, t)
	}
}

func (q *Queue) execute(ctx context.Context, t *Task) {
	q.mu.Lock()
	t.Status = StatusRunning
	h := q.handlers[t.Name]
	q.mu.Unlock()
	q.observe(StatusRunning)
	fs.Infof(q, "task %s (%s) started", t.Name, t.ID)

	var result interface{}
	var err error
	if h == nil {
		err = errors.Errorf("unknown task name %q", t.Name)
	} else {
		result, err = h(ctx, t.TaskInfo)
	}

	q.mu.Lock()
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
	} else {
		t.Status = StatusSuccess
		t.Result = result
	}
	status := t.Status
	q.mu.Unlock()
	q.observe(status)
	if err != nil {
		fs.Errorf(q, "task %s (%s) failed: %v", t.Name, t.ID, err)
	} else {
		fs.Infof(q, "task %s (%s) succeeded", t.Name, t.ID)
	}
}
