package mempool

import (
	"sync"

	"go.uber.org/zap"
)

// AffinityWorkerPool runs tasks on a fixed number of workers. When cpus is
// non-empty worker i is locked to its OS thread and pinned to
// cpus[i%len(cpus)].
type AffinityWorkerPool struct {
	workers int
	cpus    []int
	queue   chan func()
	wg      sync.WaitGroup
	logger  *zap.Logger
}

// NewAffinityWorkerPool creates a pool. Submit blocks while every worker is
// busy.
func NewAffinityWorkerPool(workers int, cpus []int, logger *zap.Logger) *AffinityWorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &AffinityWorkerPool{
		workers: workers,
		cpus:    cpus,
		queue:   make(chan func()),
		logger:  logger,
	}
}

func (p *AffinityWorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop waits for queued tasks to finish. Submit must not be called after.
func (p *AffinityWorkerPool) Stop() {
	close(p.queue)
	p.wg.Wait()
}

func (p *AffinityWorkerPool) Submit(task func()) {
	p.queue <- task
}

func (p *AffinityWorkerPool) worker(id int) {
	defer p.wg.Done()

	if len(p.cpus) > 0 {
		cpu := p.cpus[id%len(p.cpus)]
		// the worker still runs unpinned
		if err := pinToCPU(cpu); err != nil {
			p.logger.Warn("Failed to pin worker", zap.Int("worker", id), zap.Int("cpu", cpu), zap.Error(err))
		}
	}

	for task := range p.queue {
		task()
	}
}
