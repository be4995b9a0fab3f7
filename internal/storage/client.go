package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrAlreadyExists is returned by Put when the store refuses to overwrite an
// existing key. Callers treat it as "already present", not as a failure.
var ErrAlreadyExists = errors.New("object already exists")

// Backend defines the two store operations the sync engine needs.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Exists reports whether key is present. A missing key is (false, nil);
	// any other problem is returned as an error.
	Exists(ctx context.Context, key string) (bool, error)
	// Put stores size bytes read from body under key.
	Put(ctx context.Context, key string, body Body, size int64, opts PutOptions) error
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Body is the content of one upload. *os.File satisfies it; Name is the
// local path, which subprocess-based backends hand to the external tool.
type Body interface {
	io.Reader
	Name() string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// StatusError is a non-success response from the store.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Err }

// ExitError is a non-zero exit from a subprocess backend.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exit code %d: %s", e.Code, e.Stderr)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Config contains client configuration
type Config struct {
	Backend      string
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	AccountID    string
	APIToken     string
	Secure       bool
	UsePathStyle bool
	PartSize     int64
	BaseURL      string
	CLIPath      string
}
