package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"assetsync/internal/storage"
)

// DefaultTimeout bounds a single upload attempt when none is configured.
const DefaultTimeout = 30 * time.Second

// Executor performs exactly one upload attempt per call. Retries are the
// caller's business.
type Executor struct {
	backend storage.Backend
	timeout time.Duration
}

// NewExecutor creates an executor bounded by timeout per attempt
func NewExecutor(backend storage.Backend, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{backend: backend, timeout: timeout}
}

// Upload transfers the task's file and returns the bytes sent. Errors are
// *TransferFailure, except storage.ErrAlreadyExists which is passed through.
func (e *Executor) Upload(ctx context.Context, task Task) (int64, error) {
	f, err := os.Open(task.LocalPath)
	if err != nil {
		return 0, &TransferFailure{Kind: KindLocal, Err: err}
	}

	size := task.Size
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// The put runs on its own goroutine so a backend that ignores its context
	// is abandoned at the deadline instead of holding the worker.
	done := make(chan error, 1)
	go func() {
		defer f.Close()
		done <- e.backend.Put(attemptCtx, task.Key, f, size, storage.PutOptions{ContentType: task.ContentType})
	}()

	select {
	case err = <-done:
	case <-attemptCtx.Done():
		err = attemptCtx.Err()
	}

	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return 0, storage.ErrAlreadyExists
		}
		return 0, classify(ctx, attemptCtx, err)
	}
	return size, nil
}
