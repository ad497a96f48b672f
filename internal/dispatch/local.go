package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/rankgrid/internal/model"
)

// DefaultConcurrency is the number of jobs a Local dispatcher runs at once.
const DefaultConcurrency = 4

// JobRunner runs a report's job to completion, retries included.
type JobRunner interface {
	Run(ctx context.Context, reportID string) (*model.Run, error)
}

// Local runs jobs on goroutines in this process, at most concurrency at a time.
type Local struct {
	job JobRunner
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
}

var _ Dispatcher = (*Local)(nil)

// NewLocal creates a Local dispatcher. A non-positive concurrency uses
// DefaultConcurrency.
func NewLocal(job JobRunner, concurrency int) *Local {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		job:      job,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]struct{}),
	}
}

// Dispatch starts the job in the background. The job outlives ctx; it is
// bound to the dispatcher and stops on Close.
func (l *Local) Dispatch(_ context.Context, reportID string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if _, ok := l.inflight[reportID]; ok {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.inflight[reportID] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	go l.run(reportID)
	return nil
}

func (l *Local) run(reportID string) {
	defer l.wg.Done()
	defer l.release(reportID)

	log := zap.L().With(zap.String("report_id", reportID))

	if err := l.sem.Acquire(l.ctx, 1); err != nil {
		log.Warn("dispatch: job dropped before start", zap.Error(err))
		return
	}
	defer l.sem.Release(1)

	run, err := l.job.Run(l.ctx, reportID)
	if err != nil {
		if run != nil {
			log = log.With(zap.String("run_id", run.ID), zap.Int("attempt", run.Attempt))
		}
		log.Error("dispatch: job failed", zap.Error(err))
		return
	}
	log.Info("dispatch: job completed",
		zap.String("run_id", run.ID),
		zap.Int("attempt", run.Attempt),
	)
}

func (l *Local) release(reportID string) {
	l.mu.Lock()
	delete(l.inflight, reportID)
	l.mu.Unlock()
}

// InFlight reports whether a job for the report is queued or running.
func (l *Local) InFlight(_ context.Context, reportID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[reportID]
	return ok, nil
}

// Wait blocks until every dispatched job has returned.
func (l *Local) Wait() {
	l.wg.Wait()
}

// Close rejects new jobs, cancels running ones and waits for them to return.
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}
