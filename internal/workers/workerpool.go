package workers

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
)

// WorkerPool executes queued jobs on a fixed set of workers. Submission
// never blocks: when the queue is saturated the job is dropped and counted.
type WorkerPool struct {
	log      *zap.Logger
	jobCh    chan func()
	wg       sync.WaitGroup
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewWorkerPool starts workerCount workers behind a queue of queueSize.
// Non-positive values select the defaults.
func NewWorkerPool(workerCount, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = constants.DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = constants.DefaultJobQueue
	}

	wp := &WorkerPool{
		log:   logger.New("workers"),
		jobCh: make(chan func(), queueSize),
	}
	for i := 0; i < workerCount; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobCh {
		wp.run(job)
	}
}

func (wp *WorkerPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.log.Error("Job panicked", zap.Any("panic", r))
		}
		wp.wg.Done()
	}()
	job()
}

// Submit enqueues job without blocking. It reports false when the job was
// dropped because the queue was full or the pool was stopped.
func (wp *WorkerPool) Submit(job func()) bool {
	if job == nil || wp.stopped.Load() {
		return false
	}

	wp.wg.Add(1)
	select {
	case wp.jobCh <- job:
		return true
	default:
		wp.wg.Done()
		metrics.WorkerJobsDropped.Inc()
		wp.log.Debug("Job dropped, queue saturated")
		return false
	}
}

// Wait blocks until every accepted job has finished.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Backlog returns the number of jobs waiting in the queue.
func (wp *WorkerPool) Backlog() int {
	return len(wp.jobCh)
}

// Stop rejects further submissions, drains the queue and waits for workers
// to finish. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.stopped.Store(true)
		close(wp.jobCh)
		wp.wg.Wait()
	})
}
