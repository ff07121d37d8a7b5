package rdfgraph

import (
	"context"
	"sync"
)

// Task is one unit of work for the worker pool, usually a query
// evaluation.
type Task func() (any, error)

type taskResult struct {
	Value any
	Err   error
	Index int
}

// workerPool runs independent query evaluations on a fixed set of
// goroutines. Each evaluation stays single-threaded.
type workerPool struct {
	workers int
	queue   chan queuedTask
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// queuedTask carries a task and the batch channel its result goes to.
type queuedTask struct {
	index int
	run   Task
	done  chan<- taskResult
}

func newWorkerPool(size int) *workerPool {
	size = max(size, 1)
	p := &workerPool{
		workers: size,
		queue:   make(chan queuedTask, 4*size),
		quit:    make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

func (p *workerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.queue:
			v, err := t.run()
			t.done <- taskResult{Value: v, Err: err, Index: t.index}
		}
	}
}

// stop shuts the pool down and waits for running tasks. Idempotent.
func (p *workerPool) stop() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}

// ExecuteConcurrent runs tasks on the pool and returns their results in
// task order. Once ctx is done, tasks not yet finished report ctx.Err();
// once the pool is stopped they report ErrEngineClosed.
func (p *workerPool) ExecuteConcurrent(ctx context.Context, tasks []Task) []taskResult {
	if len(tasks) == 0 {
		return nil
	}
	results := make([]taskResult, len(tasks))
	finished := make([]bool, len(tasks))
	// Buffered for every task so workers never block on an abandoned batch.
	done := make(chan taskResult, len(tasks))

	interrupted := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-p.quit:
			return ErrEngineClosed
		default:
			return nil
		}
	}

	queued := 0
	for queued < len(tasks) && interrupted() == nil {
		select {
		case p.queue <- queuedTask{index: queued, run: tasks[queued], done: done}:
			queued++
		case <-ctx.Done():
		case <-p.quit:
		}
	}

	for pending := queued; pending > 0 && interrupted() == nil; {
		select {
		case r := <-done:
			results[r.Index], finished[r.Index] = r, true
			pending--
		case <-ctx.Done():
		case <-p.quit:
		}
	}

	// Collect results that landed while the batch was being abandoned.
	for drained := false; !drained; {
		select {
		case r := <-done:
			results[r.Index], finished[r.Index] = r, true
		default:
			drained = true
		}
	}

	err := interrupted()
	for i := range results {
		if !finished[i] {
			results[i] = taskResult{Err: err, Index: i}
		}
	}
	return results
}
