package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"assetsync/internal/storage"
)

// FailureKind classifies why a transfer failed
type FailureKind string

const (
	KindTimeout   FailureKind = "timeout"
	KindRejected  FailureKind = "rejected"
	KindTransport FailureKind = "transport"
	KindLocal     FailureKind = "local"
	KindCancelled FailureKind = "cancelled"
)

// TransferFailure is the error carried by a Failed outcome
type TransferFailure struct {
	Kind       FailureKind
	StatusCode int
	ExitCode   int
	Err        error
}

func (f *TransferFailure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *TransferFailure) Unwrap() error { return f.Err }

// Retriable reports whether another attempt could plausibly succeed.
func (f *TransferFailure) Retriable() bool {
	switch f.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindRejected:
		return f.StatusCode >= 500 || f.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsTimeout reports whether err is a timed out transfer
func IsTimeout(err error) bool {
	var f *TransferFailure
	return errors.As(err, &f) && f.Kind == KindTimeout
}

// classify turns a backend error into a TransferFailure. parent is the run
// context and attempt the per-attempt context derived from it.
func classify(parent, attempt context.Context, err error) *TransferFailure {
	var f *TransferFailure
	if errors.As(err, &f) {
		return f
	}

	if parent.Err() != nil {
		return &TransferFailure{Kind: KindCancelled, Err: err}
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TransferFailure{Kind: KindTimeout, Err: err}
	}

	var statusErr *storage.StatusError
	if errors.As(err, &statusErr) {
		return &TransferFailure{Kind: KindRejected, StatusCode: statusErr.StatusCode, Err: err}
	}
	var exitErr *storage.ExitError
	if errors.As(err, &exitErr) {
		return &TransferFailure{Kind: KindRejected, ExitCode: exitErr.Code, Err: err}
	}

	return &TransferFailure{Kind: KindTransport, Err: err}
}
