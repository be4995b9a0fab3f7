package progress

import (
	"sync"
	"time"

	"assetsync/internal/worker"
)

// DefaultMaxFailures caps the failure list kept for the summary.
const DefaultMaxFailures = 20

// Counts holds per-status totals
type Counts struct {
	Uploaded int `json:"uploaded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Completed returns the number of tasks with an outcome
func (c Counts) Completed() int {
	return c.Uploaded + c.Skipped + c.Failed
}

// FailureRecord describes one failed file
type FailureRecord struct {
	FileName     string `json:"file_name"`
	Key          string `json:"key"`
	ErrorMessage string `json:"error"`
}

// Snapshot is a consistent copy of the aggregator's counters
type Snapshot struct {
	Completed int
	Total     int
	Counts    Counts
	Bytes     int64
	Elapsed   time.Duration
	Rate      float64 // files per second
	ByteRate  float64 // bytes per second
	ETA       time.Duration
}

// Summary is the final report of a run
type Summary struct {
	Total           int
	Concurrency     int
	Counts          Counts
	Bytes           int64
	Elapsed         time.Duration
	FilesPerSecond  float64
	Failures        []FailureRecord
	FailuresOmitted int
}

// Aggregator collects one outcome per task. Record is safe for concurrent
// use; every counter update happens under a single lock.
type Aggregator struct {
	mu          sync.Mutex
	total       int
	concurrency int
	every       int
	maxFailures int

	counts   Counts
	bytes    int64
	failures []FailureRecord
	omitted  int
	start    time.Time
	end      time.Time

	snapshots chan Snapshot
	closed    bool
	now       func() time.Time
}

// NewAggregator creates an aggregator for total tasks. A snapshot is
// published every `every` completions, and once more at the last completion
// when total is not a multiple of every. every <= 0 disables snapshots.
func NewAggregator(total, concurrency, every, maxFailures int) *Aggregator {
	if maxFailures < 0 {
		maxFailures = DefaultMaxFailures
	}
	capacity := 0
	if every > 0 {
		// Enough room for every snapshot the run can publish, so Record
		// never waits on the reporter.
		capacity = total/every + 2
	}
	return &Aggregator{
		total:       total,
		concurrency: concurrency,
		every:       every,
		maxFailures: maxFailures,
		start:       time.Now(),
		snapshots:   make(chan Snapshot, capacity),
		now:         time.Now,
	}
}

// Record counts one outcome
func (a *Aggregator) Record(o worker.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch o.Status {
	case worker.StatusUploaded:
		a.counts.Uploaded++
		a.bytes += o.BytesTransferred
	case worker.StatusSkipped:
		a.counts.Skipped++
	default:
		a.counts.Failed++
		a.addFailure(o)
	}

	completed := a.counts.Completed()
	if completed == a.total {
		a.end = a.now()
	}
	if a.every > 0 && !a.closed && (completed%a.every == 0 || completed == a.total) {
		select {
		case a.snapshots <- a.snapshotLocked():
		default:
		}
	}
}

func (a *Aggregator) addFailure(o worker.Outcome) {
	if len(a.failures) >= a.maxFailures {
		a.omitted++
		return
	}
	msg := "unknown error"
	if o.Err != nil {
		msg = o.Err.Error()
	}
	a.failures = append(a.failures, FailureRecord{
		FileName:     o.Task.LocalPath,
		Key:          o.Task.Key,
		ErrorMessage: msg,
	})
}

// Snapshot returns the current counters
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	completed := a.counts.Completed()
	elapsed := a.elapsedLocked()

	s := Snapshot{
		Completed: completed,
		Total:     a.total,
		Counts:    a.counts,
		Bytes:     a.bytes,
		Elapsed:   elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(completed) / secs
		s.ByteRate = float64(a.bytes) / secs
	}
	if s.Rate > 0 && completed < a.total {
		s.ETA = time.Duration(float64(a.total-completed) / s.Rate * float64(time.Second))
	}
	return s
}

func (a *Aggregator) elapsedLocked() time.Duration {
	if !a.end.IsZero() {
		return a.end.Sub(a.start)
	}
	return a.now().Sub(a.start)
}

// Snapshots returns the channel periodic snapshots are published on. It is
// closed by Close.
func (a *Aggregator) Snapshots() <-chan Snapshot {
	return a.snapshots
}

// Close stops snapshot publishing and closes the snapshot channel
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.end.IsZero() {
		a.end = a.now()
	}
	close(a.snapshots)
}

// Summary returns the final report
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := a.elapsedLocked()
	s := Summary{
		Total:           a.total,
		Concurrency:     a.concurrency,
		Counts:          a.counts,
		Bytes:           a.bytes,
		Elapsed:         elapsed,
		Failures:        append([]FailureRecord(nil), a.failures...),
		FailuresOmitted: a.omitted,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.FilesPerSecond = float64(a.counts.Completed()) / secs
	}
	return s
}
