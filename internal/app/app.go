package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"assetsync/internal/checkpoint"
	"assetsync/internal/config"
	"assetsync/internal/contenttype"
	"assetsync/internal/keymap"
	"assetsync/internal/metrics"
	"assetsync/internal/progress"
	"assetsync/internal/storage"
	"assetsync/internal/worker"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPrecondition marks failures detected before any task is dispatched.
var ErrPrecondition = errors.New("precondition failed")

// Syncer represents the main sync application
type Syncer struct {
	cfg         *config.Config
	logger      *zap.Logger
	backend     storage.Backend
	ledger      checkpoint.Store
	metrics     *metrics.Collector
	contentType contenttype.Resolver
}

// New creates a syncer with the backend selected by the configuration
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Syncer, error) {
	var backend storage.Backend
	if !cfg.Sync.DryRun {
		var err error
		backend, err = storage.New(ctx, storageConfig(cfg.Store))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Store.Backend, err)
		}
	}
	return NewWithBackend(cfg, backend, logger)
}

// NewWithBackend creates a syncer uploading to backend
func NewWithBackend(cfg *config.Config, backend storage.Backend, logger *zap.Logger) (*Syncer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Syncer{
		cfg:         cfg,
		logger:      logger,
		backend:     backend,
		metrics:     metrics.New(),
		contentType: contenttype.Detect,
	}

	if cfg.Sync.Checkpoint != "" {
		store, err := checkpoint.NewSQLiteStore(cfg.Sync.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
		s.ledger = store
	}

	return s, nil
}

func storageConfig(s config.Store) storage.Config {
	return storage.Config{
		Backend:      s.Backend,
		Endpoint:     s.Endpoint,
		Region:       s.Region,
		Bucket:       s.Bucket,
		AccessKey:    s.AccessKey,
		SecretKey:    s.SecretKey,
		AccountID:    s.AccountID,
		APIToken:     s.APIToken,
		Secure:       s.Secure,
		UsePathStyle: s.UsePathStyle,
		PartSize:     s.PartSize,
		BaseURL:      s.BaseURL,
		CLIPath:      s.CLIPath,
	}
}

// Metrics returns the run's metrics collector
func (s *Syncer) Metrics() *metrics.Collector {
	return s.metrics
}

// Run syncs the source tree and returns the summary. Per-file failures are
// reported in the summary only; an error means the run could not start or
// was interrupted.
func (s *Syncer) Run(ctx context.Context) (progress.Summary, error) {
	sc := s.cfg.Sync

	s.logger.Info("Starting sync",
		zap.String("source_dir", sc.SourceDir),
		zap.String("bucket", s.cfg.Store.Bucket),
		zap.String("prefix", sc.Prefix),
		zap.String("backend", s.cfg.Store.Backend),
		zap.Int("concurrency", sc.Concurrency),
		zap.Bool("dedup", sc.Dedup),
		zap.Bool("dry_run", sc.DryRun),
	)

	tasks, err := s.candidates(ctx)
	if err != nil {
		return progress.Summary{}, err
	}

	if sc.DryRun {
		return s.dryRun(tasks), nil
	}
	if s.backend == nil {
		return progress.Summary{}, fmt.Errorf("%w: no store backend configured", ErrPrecondition)
	}

	aggregator := progress.NewAggregator(len(tasks), sc.Concurrency, sc.ProgressEvery, sc.MaxFailures)
	reporter := progress.NewReporter(aggregator.Snapshots(), s.logger)

	var g errgroup.Group
	g.Go(func() error {
		reporter.Run()
		return nil
	})
	if s.cfg.MetricsAddr != "" {
		g.Go(func() error {
			s.logger.Info("Serving metrics", zap.String("addr", s.cfg.MetricsAddr))
			if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
				s.logger.Error("Failed to start metrics server", zap.Error(err))
			}
			return nil
		})
	}

	pool := worker.NewPool(worker.Config{
		Concurrency:     sc.Concurrency,
		DedupEnabled:    sc.Dedup,
		Timeout:         sc.Timeout,
		Retries:         sc.Retries,
		RetryBackoff:    sc.RetryBackoff,
		MaxRetryBackoff: sc.MaxRetryBackoff,
		ProbeCacheTTL:   sc.ProbeCacheTTL,
	}, s.backend, worker.Sinks(aggregator, s.ledgerSink()), s.metrics, s.logger)

	pool.Run(ctx, tasks)
	aggregator.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.metrics.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Failed to stop metrics server", zap.Error(err))
	}
	_ = g.Wait()

	summary := aggregator.Summary()
	s.logger.Info("Sync completed",
		zap.Int("total", summary.Total),
		zap.Int("uploaded", summary.Counts.Uploaded),
		zap.Int("skipped", summary.Counts.Skipped),
		zap.Int("failed", summary.Counts.Failed),
		zap.Int64("bytes", summary.Bytes),
		zap.Duration("elapsed", summary.Elapsed),
	)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("sync interrupted: %w", err)
	}
	return summary, nil
}

// candidates checks the preconditions and returns the tasks to dispatch
func (s *Syncer) candidates(ctx context.Context) ([]worker.Task, error) {
	sc := s.cfg.Sync

	info, err := os.Stat(sc.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("%w: source dir: %v", ErrPrecondition, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: source dir %s is not a directory", ErrPrecondition, sc.SourceDir)
	}

	mapper, err := keymap.New(sc.SourceDir, sc.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	lister := NewFileLister(mapper, sc.Extensions, s.contentType, s.logger)

	var tasks []worker.Task
	if sc.OnlyFailed {
		if s.ledger == nil {
			return nil, fmt.Errorf("%w: only failed requires a checkpoint", ErrPrecondition)
		}
		records, err := s.ledger.ListFailed(s.cfg.Store.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint: %w", err)
		}
		tasks = lister.ListFailed(records)
		s.logger.Info("Retrying failed files from checkpoint",
			zap.Int("recorded", len(records)),
			zap.Int("found", len(tasks)),
		)
	} else {
		tasks, err = lister.List(ctx)
		if err != nil {
			return nil, err
		}
	}

	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no candidate files under %s", ErrPrecondition, sc.SourceDir)
	}
	return tasks, nil
}

func (s *Syncer) dryRun(tasks []worker.Task) progress.Summary {
	var total int64
	for _, task := range tasks {
		total += task.Size
		s.logger.Info("Would upload file",
			zap.String("path", task.LocalPath),
			zap.String("key", task.Key),
			zap.String("content_type", task.ContentType),
			zap.Int64("size", task.Size),
		)
	}
	s.logger.Info("Dry run completed",
		zap.Int("total_files", len(tasks)),
		zap.String("total_size", progress.FormatBytes(total)),
	)
	return progress.Summary{Total: len(tasks), Concurrency: s.cfg.Sync.Concurrency}
}

func (s *Syncer) ledgerSink() worker.Sink {
	if s.ledger == nil {
		return nil
	}
	bucket := s.cfg.Store.Bucket
	return worker.SinkFunc(func(o worker.Outcome) {
		rec := &checkpoint.Record{
			Bucket:    bucket,
			Key:       o.Task.Key,
			LocalPath: o.Task.LocalPath,
			Size:      o.Task.Size,
			Status:    checkpoint.Status(o.Status),
			Attempts:  o.Attempts,
		}
		if o.Err != nil {
			rec.LastError = o.Err.Error()
		}
		if err := s.ledger.SaveRecord(rec); err != nil {
			s.logger.Warn("Failed to save checkpoint", zap.String("key", o.Task.Key), zap.Error(err))
		}
	})
}

// Close cleans up resources
func (s *Syncer) Close() error {
	var err error
	if s.ledger != nil {
		err = multierr.Append(err, s.ledger.Close())
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = multierr.Append(err, s.metrics.Shutdown(shutdownCtx))
	return err
}
