package progress

import (
	"go.uber.org/zap"
)

// Reporter logs snapshots as they are published. It only reads, so a slow
// log sink never delays the workers.
type Reporter struct {
	snapshots <-chan Snapshot
	logger    *zap.Logger
	done      chan struct{}
}

// NewReporter creates a reporter reading from snapshots
func NewReporter(snapshots <-chan Snapshot, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		snapshots: snapshots,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs the reporter in the background
func (r *Reporter) Start() {
	go r.Run()
}

// Stop waits for the snapshot channel to be drained. The channel must
// have been closed.
func (r *Reporter) Stop() {
	<-r.done
}

// Run logs every snapshot until the channel is closed
func (r *Reporter) Run() {
	defer close(r.done)
	for s := range r.snapshots {
		r.report(s)
	}
}

func (r *Reporter) report(s Snapshot) {
	fields := []zap.Field{
		zap.Int("completed", s.Completed),
		zap.Int("total", s.Total),
		zap.Int("uploaded", s.Counts.Uploaded),
		zap.Int("skipped", s.Counts.Skipped),
		zap.Int("failed", s.Counts.Failed),
		zap.String("bytes", FormatBytes(s.Bytes)),
		zap.Duration("elapsed", s.Elapsed),
	}
	if s.Rate > 0 {
		fields = append(fields,
			zap.String("rate", FormatRate(s.Rate)),
			zap.String("throughput", FormatSpeed(s.ByteRate)),
		)
	}
	if s.ETA > 0 {
		fields = append(fields, zap.String("eta", FormatDuration(s.ETA)))
	}
	r.logger.Info("Progress: "+s.String(), fields...)
}
