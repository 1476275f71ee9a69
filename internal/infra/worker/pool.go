package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"defect-inspection/internal/infra/metrics"

	"github.com/rs/zerolog"
)

var (
	ErrPoolFull    = errors.New("worker queue full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is one unit of work executed by a pool worker.
type Task func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	n    int
	busy atomic.Int32
	log  *zerolog.Logger

	stopOnce sync.Once
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "worker_pool").Logger()
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers, log: &l}
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.n }

// Busy is the number of workers currently running a task.
func (p *Pool) Busy() int { return int(p.busy.Load()) }

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	metrics.SetWorkersBusy(int(p.busy.Add(1)))
	defer func() {
		metrics.SetWorkersBusy(int(p.busy.Add(-1)))
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Str("panic", fmt.Sprint(r)).Msg("task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("task error")
	}
}

// Stop signals workers to exit and waits for running tasks to return.
// Tasks still buffered are discarded.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return ErrPoolFull
	}
}
