package worker

import (
	"context"
	"errors"
	"time"

	"assetsync/internal/metrics"
	"assetsync/internal/storage"

	"go.uber.org/zap"
)

// TaskProcessor handles individual task processing
type TaskProcessor struct {
	config   Config
	prober   *Prober
	executor *Executor
	retry    RetryPolicy
	sink     Sink
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Process runs the skip/upload decision for one task and records exactly
// one outcome, whatever happens.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Outcome {
	startTime := time.Now()

	outcome := p.process(ctx, task)
	outcome.Task = task
	outcome.Duration = time.Since(startTime)

	p.metrics.ObserveOutcome(string(outcome.Status), outcome.BytesTransferred, outcome.Duration)
	p.metrics.AddRetries(outcome.Attempts - 1)

	switch outcome.Status {
	case StatusUploaded:
		p.logger.Debug("Task completed successfully",
			zap.String("key", task.Key),
			zap.Int64("size", outcome.BytesTransferred),
			zap.Duration("duration", outcome.Duration),
		)
	case StatusSkipped:
		p.logger.Debug("Skipping existing object", zap.String("key", task.Key))
	case StatusFailed:
		var f *TransferFailure
		if errors.As(outcome.Err, &f) {
			p.metrics.IncFailure(string(f.Kind))
		}
		p.logger.Warn("Task failed",
			zap.String("key", task.Key),
			zap.Int("attempts", outcome.Attempts),
			zap.Error(outcome.Err),
		)
	}

	p.sink.Record(outcome)
	return outcome
}

func (p *TaskProcessor) process(ctx context.Context, task Task) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Status: StatusFailed, Err: &TransferFailure{Kind: KindCancelled, Err: err}}
	}

	if p.config.DedupEnabled {
		exists, err := p.prober.Exists(ctx, task.Key)
		switch {
		case err != nil:
			// Unknown is treated as absent so the file is not silently dropped.
			p.metrics.IncProbeErrors()
			p.logger.Warn("Existence check failed, uploading anyway",
				zap.String("key", task.Key),
				zap.Error(err),
			)
		case exists:
			return Outcome{Status: StatusSkipped}
		}
	}

	var transferred int64
	attempts, err := p.retry.Do(ctx, func() error {
		n, err := p.executor.Upload(ctx, task)
		transferred = n
		return err
	}, func(err error, wait time.Duration) {
		p.logger.Info("Retrying upload",
			zap.String("key", task.Key),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})

	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		p.prober.Remember(task.Key)
		return Outcome{Status: StatusSkipped, Attempts: attempts}
	case err != nil:
		var f *TransferFailure
		if !errors.As(err, &f) {
			err = &TransferFailure{Kind: KindCancelled, Err: err}
		}
		return Outcome{Status: StatusFailed, Err: err, Attempts: attempts}
	}

	p.prober.Remember(task.Key)
	return Outcome{Status: StatusUploaded, BytesTransferred: transferred, Attempts: attempts}
}
