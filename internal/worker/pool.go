package worker

import (
	"context"
	"sync"

	"assetsync/internal/metrics"
	"assetsync/internal/storage"

	"go.uber.org/zap"
)

// Pool runs a fixed number of workers, so at most Concurrency tasks are
// ever in flight.
type Pool struct {
	size      int
	processor *TaskProcessor
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	config Config,
	backend storage.Backend,
	sink Sink,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	size := config.Concurrency
	if size <= 0 {
		size = 1
	}
	if metricsCollector == nil {
		metricsCollector = metrics.New()
	}
	if sink == nil {
		sink = Sinks()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pool{
		size: size,
		processor: &TaskProcessor{
			config:   config,
			prober:   NewProber(backend, config.Timeout, config.ProbeCacheTTL),
			executor: NewExecutor(backend, config.Timeout),
			retry: RetryPolicy{
				Retries:         config.Retries,
				InitialInterval: config.RetryBackoff,
				MaxInterval:     config.MaxRetryBackoff,
			},
			sink:    sink,
			metrics: metricsCollector,
			logger:  logger,
		},
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Start starts the workers. They exit once tasks is closed and drained.
// Tasks received after ctx is cancelled are still recorded, as cancelled
// failures, so none is dropped.
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

// Run processes all tasks and returns once every one has an outcome.
func (p *Pool) Run(ctx context.Context, tasks []Task) {
	ch := make(chan Task, p.size*2)
	var wg sync.WaitGroup
	p.Start(ctx, ch, &wg)

	for _, task := range tasks {
		ch <- task
	}
	close(ch)
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := *p.processor
	processor.logger = logger

	for task := range tasks {
		p.metrics.IncInflight()
		processor.Process(ctx, task)
		p.metrics.DecInflight()
	}

	logger.Debug("Worker finished - no more tasks")
}
