package checkpoint

import (
	"errors"
	"time"
)

// ErrClosed is returned by a store after Close
var ErrClosed = errors.New("checkpoint store is closed")

// Status is the last recorded outcome of a file
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Record is the ledger entry of one remote key
type Record struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	LocalPath string    `json:"local_path"`
	Size      int64     `json:"size"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for checkpoint persistence
type Store interface {
	GetRecord(bucket, key string) (*Record, error)
	SaveRecord(record *Record) error
	ListFailed(bucket string) ([]*Record, error)

	Close() error
}
