package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitStatus polls until the task leaves the given statuses or the
// deadline passes.
func waitStatus(t *testing.T, q *Queue, id string, want string) *Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, ok := q.Get(id)
		require.True(t, ok)
		if got.Status == want {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	got, _ := q.Get(id)
	t.Fatalf("task %s stuck in %q, want %q", id, got.Status, want)
	return nil
}

func TestEnqueueAndRun(t *testing.T) {
	q := New()
	q.RegisterHandler("double", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		return info["n"].(int) * 2, nil
	})
	q.Start()
	defer q.Stop()

	queued := q.Enqueue("double", map[string]interface{}{"n": 21})
	assert.Len(t, queued.ID, 32)
	assert.Equal(t, StatusPending, queued.Status)

	got := waitStatus(t, q, queued.ID, StatusSuccess)
	assert.Equal(t, 42, got.Result)
	assert.Empty(t, got.Error)
	assert.Equal(t, map[string]interface{}{"n": 21}, got.TaskInfo)
}

func TestRunsInOrder(t *testing.T) {
	var mu sync.Mutex
	var ran []string
	gate := make(chan struct{})

	q := New()
	q.RegisterHandler("record", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		<-gate
		mu.Lock()
		ran = append(ran, info["tag"].(string))
		mu.Unlock()
		return nil, nil
	})
	q.Start()
	defer q.Stop()

	var last string
	for _, tag := range []string{"a", "b", "c", "d"} {
		last = q.Enqueue("record", map[string]interface{}{"tag": tag}).ID
	}
	close(gate)
	waitStatus(t, q, last, StatusSuccess)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, ran)
}

func TestHandlerErrorFailsTask(t *testing.T) {
	q := New()
	q.RegisterHandler("boom", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		return nil, errors.New("kaboom")
	})
	q.Start()
	defer q.Stop()

	got := waitStatus(t, q, q.Enqueue("boom", nil).ID, StatusFailed)
	assert.Equal(t, "kaboom", got.Error)
	assert.Nil(t, got.Result)
}

func TestUnknownNameFailsTask(t *testing.T) {
	q := New()
	q.Start()
	defer q.Stop()

	got := waitStatus(t, q, q.Enqueue("no-such-task", nil).ID, StatusFailed)
	assert.Contains(t, got.Error, `unknown task name "no-such-task"`)
}

func TestGetUnknownID(t *testing.T) {
	q := New()
	got, ok := q.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestAllKeepsInsertionOrder(t *testing.T) {
	q := New()
	q.RegisterHandler("noop", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, q.Enqueue("noop", nil).ID)
	}
	q.Start()
	defer q.Stop()
	waitStatus(t, q, ids[2], StatusSuccess)

	all := q.All()
	require.Len(t, all, 3)
	for i, task := range all {
		assert.Equal(t, ids[i], task.ID)
		assert.Equal(t, StatusSuccess, task.Status)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	q := New()
	queued := q.Enqueue("noop", nil)
	queued.Status = "mangled"
	queued.TaskInfo["extra"] = true

	got, ok := q.Get(queued.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
}

func TestStartIsIdempotent(t *testing.T) {
	running := make(chan struct{})
	release := make(chan struct{})

	q := New()
	q.RegisterHandler("wait", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		running <- struct{}{}
		<-release
		return nil, nil
	})
	q.Start()
	q.Start()
	q.Start()
	defer q.Stop()

	first := q.Enqueue("wait", nil)
	second := q.Enqueue("wait", nil)
	<-running

	// With one worker the second task cannot start while the first
	// holds it.
	time.Sleep(10 * time.Millisecond)
	got, ok := q.Get(second.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)

	close(release)
	<-running
	waitStatus(t, q, first.ID, StatusSuccess)
	waitStatus(t, q, second.ID, StatusSuccess)
}

func TestStopThenRestart(t *testing.T) {
	q := New()
	q.RegisterHandler("noop", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		return "done", nil
	})
	q.Start()
	q.Stop()
	q.Stop() // second stop is a no-op

	queued := q.Enqueue("noop", nil)
	time.Sleep(10 * time.Millisecond)
	got, ok := q.Get(queued.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)

	q.Start()
	defer q.Stop()
	got = waitStatus(t, q, queued.ID, StatusSuccess)
	assert.Equal(t, "done", got.Result)
}

func TestStopCancelsInFlightTask(t *testing.T) {
	running := make(chan struct{})
	q := New()
	q.RegisterHandler("wait", func(ctx context.Context, info map[string]interface{}) (interface{}, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	q.Start()

	queued := q.Enqueue("wait", nil)
	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}
	q.Stop()

	got, ok := q.Get(queued.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, context.Canceled.Error(), got.Error)
}
