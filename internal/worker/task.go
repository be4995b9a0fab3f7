package worker

import (
	"time"
)

// Task is one local file to be synced. Immutable once created.
type Task struct {
	LocalPath   string `json:"local_path"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Status is the terminal state of a task
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Outcome is the single result recorded for a task
type Outcome struct {
	Task             Task
	Status           Status
	BytesTransferred int64
	Err              error
	Duration         time.Duration
	Attempts         int
}

// Config contains worker configuration
type Config struct {
	Concurrency     int
	DedupEnabled    bool
	Timeout         time.Duration
	Retries         int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	ProbeCacheTTL   time.Duration
}

// Sink receives outcomes. Record is called concurrently from all workers.
type Sink interface {
	Record(Outcome)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Outcome)

// Record implements Sink
func (f SinkFunc) Record(o Outcome) { f(o) }

type multiSink []Sink

func (m multiSink) Record(o Outcome) {
	for _, s := range m {
		s.Record(o)
	}
}

// Sinks fans one outcome out to several sinks, in order. Nil entries are ignored.
func Sinks(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
