package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"assetsync/internal/storage"
)

// fakeBackend wraps the in-memory store with knobs for latency, failures
// and an in-flight counter.
type fakeBackend struct {
	*storage.MemoryClient

	delay         time.Duration
	ignoreContext bool
	existsErr     error
	putErrs       map[string]error
	failFirst     int32

	inflight    atomic.Int32
	maxInflight atomic.Int32
	putCalls    atomic.Int32
	existsCalls atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{MemoryClient: storage.NewMemoryClient(), putErrs: map[string]error{}}
}

func (f *fakeBackend) enter() func() {
	n := f.inflight.Add(1)
	for {
		max := f.maxInflight.Load()
		if n <= max || f.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}
	return func() { f.inflight.Add(-1) }
}

func (f *fakeBackend) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	if f.ignoreContext {
		time.Sleep(f.delay)
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	defer f.enter()()
	f.existsCalls.Add(1)
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.MemoryClient.Exists(ctx, key)
}

func (f *fakeBackend) Put(ctx context.Context, key string, body storage.Body, size int64, opts storage.PutOptions) error {
	defer f.enter()()
	call := f.putCalls.Add(1)
	if err := f.wait(ctx); err != nil {
		return err
	}
	if call <= f.failFirst {
		return &storage.StatusError{StatusCode: http.StatusServiceUnavailable}
	}
	if err, ok := f.putErrs[key]; ok {
		return err
	}
	return f.MemoryClient.Put(ctx, key, body, size, opts)
}

type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (c *collector) Record(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

func (c *collector) count(status Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

func (c *collector) byKey(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.outcomes {
		if o.Task.Key == key {
			return o, true
		}
	}
	return Outcome{}, false
}

func makeTasks(t *testing.T, n int) []Task {
	t.Helper()
	dir := t.TempDir()
	tasks := make([]Task, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("file-%03d.webp", i))
		data := []byte(fmt.Sprintf("content of file %d", i))
		require.NoError(t, os.WriteFile(path, data, 0o644))
		tasks = append(tasks, Task{
			LocalPath:   path,
			Key:         fmt.Sprintf("thumbs/file-%03d.webp", i),
			ContentType: "image/webp",
			Size:        int64(len(data)),
		})
	}
	return tasks
}

func runPool(backend storage.Backend, cfg Config, tasks []Task) *collector {
	c := &collector{}
	NewPool(cfg, backend, c, nil, zap.NewNop()).Run(context.Background(), tasks)
	return c
}

func TestPoolUploadsEveryTask(t *testing.T) {
	backend := newFakeBackend()
	tasks := makeTasks(t, 50)

	c := runPool(backend, Config{Concurrency: 4, DedupEnabled: true, Timeout: time.Second}, tasks)

	require.Len(t, c.outcomes, 50)
	assert.Equal(t, 50, c.count(StatusUploaded))
	assert.Len(t, backend.Keys(), 50)

	var total, want int64
	for _, o := range c.outcomes {
		total += o.BytesTransferred
		assert.Equal(t, 1, o.Attempts)
	}
	for _, task := range tasks {
		want += task.Size
	}
	assert.Equal(t, want, total)

	data, ct, ok := backend.Get("thumbs/file-007.webp")
	require.True(t, ok)
	assert.Equal(t, "content of file 7", string(data))
	assert.Equal(t, "image/webp", ct)
}

func TestPoolConcurrencyBound(t *testing.T) {
	backend := newFakeBackend()
	backend.delay = 15 * time.Millisecond
	tasks := makeTasks(t, 40)

	c := runPool(backend, Config{Concurrency: 5, DedupEnabled: true, Timeout: time.Second}, tasks)

	assert.Equal(t, 40, c.count(StatusUploaded))
	assert.LessOrEqual(t, backend.maxInflight.Load(), int32(5))
	assert.Greater(t, backend.maxInflight.Load(), int32(1))
}

func TestPoolSkipsExistingKeys(t *testing.T) {
	backend := newFakeBackend()
	tasks := makeTasks(t, 10)

	first := runPool(backend, Config{Concurrency: 3, DedupEnabled: true}, tasks)
	assert.Equal(t, 10, first.count(StatusUploaded))

	puts := backend.putCalls.Load()
	second := runPool(backend, Config{Concurrency: 3, DedupEnabled: true}, tasks)
	assert.Equal(t, 10, second.count(StatusSkipped))
	assert.Equal(t, 0, second.count(StatusUploaded))
	assert.Equal(t, puts, backend.putCalls.Load())
}

func TestPoolWithoutDedupUploadsAgain(t *testing.T) {
	backend := newFakeBackend()
	tasks := makeTasks(t, 5)

	runPool(backend, Config{Concurrency: 2, DedupEnabled: true}, tasks)
	c := runPool(backend, Config{Concurrency: 2, DedupEnabled: false}, tasks)

	assert.Equal(t, 5, c.count(StatusUploaded))
	assert.Equal(t, int32(5), backend.existsCalls.Load())
}

func TestPoolFailureIsolation(t *testing.T) {
	backend := newFakeBackend()
	tasks := makeTasks(t, 20)
	bad := tasks[7].Key
	backend.putErrs[bad] = &storage.StatusError{StatusCode: http.StatusForbidden, Message: "denied"}

	c := runPool(backend, Config{Concurrency: 4, DedupEnabled: true}, tasks)

	assert.Equal(t, 1, c.count(StatusFailed))
	assert.Equal(t, 19, c.count(StatusUploaded))

	o, ok := c.byKey(bad)
	require.True(t, ok)
	var f *TransferFailure
	require.ErrorAs(t, o.Err, &f)
	assert.Equal(t, KindRejected, f.Kind)
	assert.Equal(t, http.StatusForbidden, f.StatusCode)
}

func TestPoolTimeout(t *testing.T) {
	for _, ignore := range []bool{false, true} {
		t.Run(fmt.Sprintf("ignoreContext=%v", ignore), func(t *testing.T) {
			backend := newFakeBackend()
			backend.delay = 300 * time.Millisecond
			backend.ignoreContext = ignore
			tasks := makeTasks(t, 3)

			start := time.Now()
			c := runPool(backend, Config{Concurrency: 3, Timeout: 50 * time.Millisecond}, tasks)

			assert.Less(t, time.Since(start), 250*time.Millisecond)
			require.Len(t, c.outcomes, 3)
			for _, o := range c.outcomes {
				assert.Equal(t, StatusFailed, o.Status)
				assert.True(t, IsTimeout(o.Err), "got %v", o.Err)
			}
		})
	}
}

func TestPoolProbeErrorFallsThroughToUpload(t *testing.T) {
	backend := newFakeBackend()
	backend.existsErr = errors.New("connection reset by peer")
	tasks := makeTasks(t, 4)

	c := runPool(backend, Config{Concurrency: 2, DedupEnabled: true}, tasks)

	assert.Equal(t, 4, c.count(StatusUploaded))
}

func TestPoolAlreadyExistsIsSkipped(t *testing.T) {
	backend := newFakeBackend()
	tasks := makeTasks(t, 3)
	backend.putErrs[tasks[1].Key] = storage.ErrAlreadyExists

	c := runPool(backend, Config{Concurrency: 1}, tasks)

	assert.Equal(t, 2, c.count(StatusUploaded))
	assert.Equal(t, 1, c.count(StatusSkipped))
}

func TestPoolRetries(t *testing.T) {
	t.Run("no retries by default", func(t *testing.T) {
		backend := newFakeBackend()
		backend.failFirst = 1
		c := runPool(backend, Config{Concurrency: 1}, makeTasks(t, 1))

		require.Len(t, c.outcomes, 1)
		assert.Equal(t, StatusFailed, c.outcomes[0].Status)
		assert.Equal(t, 1, c.outcomes[0].Attempts)
	})

	t.Run("retriable failure is retried", func(t *testing.T) {
		backend := newFakeBackend()
		backend.failFirst = 2
		c := runPool(backend, Config{Concurrency: 1, Retries: 3, RetryBackoff: time.Millisecond}, makeTasks(t, 1))

		require.Len(t, c.outcomes, 1)
		assert.Equal(t, StatusUploaded, c.outcomes[0].Status)
		assert.Equal(t, 3, c.outcomes[0].Attempts)
	})

	t.Run("retry budget is capped", func(t *testing.T) {
		backend := newFakeBackend()
		backend.failFirst = 10
		c := runPool(backend, Config{Concurrency: 1, Retries: 2, RetryBackoff: time.Millisecond}, makeTasks(t, 1))

		require.Len(t, c.outcomes, 1)
		assert.Equal(t, StatusFailed, c.outcomes[0].Status)
		assert.Equal(t, 3, c.outcomes[0].Attempts)
		assert.Equal(t, int32(3), backend.putCalls.Load())
	})

	t.Run("rejection is not retried", func(t *testing.T) {
		backend := newFakeBackend()
		tasks := makeTasks(t, 1)
		backend.putErrs[tasks[0].Key] = &storage.StatusError{StatusCode: http.StatusForbidden}
		c := runPool(backend, Config{Concurrency: 1, Retries: 3, RetryBackoff: time.Millisecond}, tasks)

		require.Len(t, c.outcomes, 1)
		assert.Equal(t, 1, c.outcomes[0].Attempts)
	})
}

func TestPoolCancelledContextRecordsEveryTask(t *testing.T) {
	backend := newFakeBackend()
	tasks := makeTasks(t, 25)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &collector{}
	NewPool(Config{Concurrency: 4, DedupEnabled: true}, backend, c, nil, nil).Run(ctx, tasks)

	require.Len(t, c.outcomes, 25)
	for _, o := range c.outcomes {
		assert.Equal(t, StatusFailed, o.Status)
		var f *TransferFailure
		require.ErrorAs(t, o.Err, &f)
		assert.Equal(t, KindCancelled, f.Kind)
	}
	assert.Equal(t, int32(0), backend.putCalls.Load())
}

func TestExecutorMissingFile(t *testing.T) {
	e := NewExecutor(newFakeBackend(), time.Second)
	_, err := e.Upload(context.Background(), Task{LocalPath: filepath.Join(t.TempDir(), "gone.png"), Key: "k"})

	var f *TransferFailure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindLocal, f.Kind)
	assert.False(t, f.Retriable())
}

func TestSinksFanOut(t *testing.T) {
	a, b := &collector{}, &collector{}
	var calls int
	s := Sinks(a, nil, b, SinkFunc(func(Outcome) { calls++ }))
	s.Record(Outcome{Status: StatusSkipped})

	assert.Len(t, a.outcomes, 1)
	assert.Len(t, b.outcomes, 1)
	assert.Equal(t, 1, calls)
}
