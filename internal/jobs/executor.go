package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the executor queue cannot accept more work.
var ErrQueueFull = errors.New("executor queue full")

// WorkFunc is one unit of inference work.
type WorkFunc func(ctx context.Context) (any, error)

// workUnit pairs a WorkFunc with the channel its result is delivered on.
type workUnit struct {
	ID     string
	JobID  string
	ctx    context.Context
	fn     WorkFunc
	result chan workResult
}

type workResult struct {
	value any
	err   error
}

// Executor runs inference work on a fixed number of slots.
// All workers share a single queue; with one worker the engine sees at most
// one call at a time across every job.
type Executor struct {
	name        string
	logger      *slog.Logger
	workerCount int

	queue chan *workUnit

	inFlight atomic.Int32
	started  atomic.Bool
}

// ExecutorConfig configures a new executor.
type ExecutorConfig struct {
	Name        string
	Logger      *slog.Logger
	WorkerCount int // Number of inference slots (default: 1)
	QueueSize   int // Queue size (default: 1000)
}

// ExecutorStatus reports an executor's current state.
type ExecutorStatus struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	InFlight   int    `json:"in_flight"`
	QueueDepth int    `json:"queue_depth"`
}

// NewExecutor creates a new executor. Call Start before submitting work.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "inference"
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}

	return &Executor{
		name:        name,
		logger:      logger.With("executor", name, "workers", workerCount),
		workerCount: workerCount,
		queue:       make(chan *workUnit, queueSize),
	}
}

// Start launches the workers. Blocks until ctx is cancelled.
func (e *Executor) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		e.logger.Warn("executor already started")
		return
	}
	e.logger.Info("executor starting")

	for i := 0; i < e.workerCount; i++ {
		go e.worker(ctx, i)
	}

	<-ctx.Done()
	e.logger.Info("executor stopping")
}

// worker processes work units from the shared queue.
func (e *Executor) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return

		case unit := <-e.queue:
			// Work whose caller already gave up never reaches the engine.
			if err := unit.ctx.Err(); err != nil {
				unit.result <- workResult{err: err}
				continue
			}
			e.logger.Debug("worker received unit", "worker_id", id, "unit_id", unit.ID, "job_id", unit.JobID)
			e.inFlight.Add(1)
			res := e.process(unit)
			e.inFlight.Add(-1)
			unit.result <- res
		}
	}
}

func (e *Executor) process(unit *workUnit) (res workResult) {
	defer func() {
		if r := recover(); r != nil {
			res = workResult{err: fmt.Errorf("inference panicked: %v\n%s", r, debug.Stack())}
		}
	}()
	v, err := unit.fn(unit.ctx)
	return workResult{value: v, err: err}
}

// Run queues fn and waits for its result. If ctx ends first Run returns
// ctx.Err() at once; fn keeps its slot until it returns on its own, which is
// why engines also poll their cancel flag.
func (e *Executor) Run(ctx context.Context, jobID string, fn WorkFunc) (any, error) {
	unit := &workUnit{
		ID:     uuid.New().String(),
		JobID:  jobID,
		ctx:    ctx,
		fn:     fn,
		result: make(chan workResult, 1),
	}

	select {
	case e.queue <- unit:
	default:
		e.logger.Warn("executor queue full", "job_id", jobID)
		return nil, fmt.Errorf("%w: %s", ErrQueueFull, e.name)
	}

	select {
	case res := <-unit.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns current executor status.
func (e *Executor) Status() ExecutorStatus {
	return ExecutorStatus{
		Name:       e.name,
		Workers:    e.workerCount,
		InFlight:   int(e.inFlight.Load()),
		QueueDepth: len(e.queue),
	}
}
