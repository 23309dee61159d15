package scheduler

import (
	"context"
	"sync"
)

// workerPool runs a resizable set of workers that pull jobs from a shared
// queue. Each worker runs one job at a time, so the worker count is the
// number of jobs allowed to run at once. A retired worker keeps counting
// against that number until its goroutine exits.
type workerPool struct {
	queue   <-chan *Job
	handler func(*Job)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	workers  map[int]chan struct{}
	target   int
	retiring int
	nextID   int
	wg       sync.WaitGroup
}

func newWorkerPool(ctx context.Context, queue <-chan *Job, handler func(*Job)) *workerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &workerPool{
		queue:   queue,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[int]chan struct{}),
	}
}

// SetWorkerCount scales the pool. Retired workers finish the job they are
// running before they exit.
func (p *workerPool) SetWorkerCount(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.target = count
	for len(p.workers) > count {
		p.removeWorker()
	}
	p.fill()
}

// WorkerCount returns the current target number of workers.
func (p *workerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// fill starts workers until the live ones, retirees included, reach the
// target. Callers hold mu.
func (p *workerPool) fill() {
	for p.ctx.Err() == nil && len(p.workers)+p.retiring < p.target {
		p.addWorker()
	}
}

func (p *workerPool) addWorker() {
	quit := make(chan struct{})
	id := p.nextID
	p.nextID++
	p.workers[id] = quit
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.exit(id)
		for {
			// A retired worker must not pick up another job even if one
			// is ready.
			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			default:
			}

			select {
			case <-quit:
				return
			case <-p.ctx.Done():
				return
			case job, ok := <-p.queue:
				if !ok {
					p.cancel()
					return
				}
				p.handler(job)
			}
		}
	}()
}

func (p *workerPool) removeWorker() {
	for id, quit := range p.workers {
		close(quit)
		delete(p.workers, id)
		p.retiring++
		return
	}
}

// exit releases the slot held by worker id. A retiree frees its slot only
// now, so a replacement may start if the target allows it.
func (p *workerPool) exit(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, active := p.workers[id]; active {
		delete(p.workers, id)
	} else {
		p.retiring--
	}
	p.fill()
}

// Stop terminates all workers and waits for the running jobs to return.
func (p *workerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}
