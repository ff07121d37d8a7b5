package rdfgraph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_ResultsInOrder(t *testing.T) {
	p := newWorkerPool(4)
	defer p.stop()

	tasks := make([]Task, 20)
	for i := range tasks {
		i := i
		tasks[i] = func() (any, error) {
			time.Sleep(time.Duration(20-i) * 100 * time.Microsecond)
			return i * i, nil
		}
	}
	results := p.ExecuteConcurrent(context.Background(), tasks)
	if len(results) != len(tasks) {
		t.Fatalf("got %d results, want %d", len(results), len(tasks))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Fatalf("task %d: %v", i, r.Err)
		}
		if r.Value.(int) != i*i || r.Index != i {
			t.Fatalf("task %d: got value %v index %d", i, r.Value, r.Index)
		}
	}
}

func TestWorkerPool_Errors(t *testing.T) {
	p := newWorkerPool(2)
	defer p.stop()

	boom := errors.New("boom")
	results := p.ExecuteConcurrent(context.Background(), []Task{
		func() (any, error) { return 1, nil },
		func() (any, error) { return nil, boom },
	})
	if results[0].Err != nil || results[0].Value.(int) != 1 {
		t.Fatalf("task 0: %+v", results[0])
	}
	if !errors.Is(results[1].Err, boom) {
		t.Fatalf("task 1: got %v, want boom", results[1].Err)
	}
}

func TestWorkerPool_Empty(t *testing.T) {
	p := newWorkerPool(0)
	defer p.stop()
	if p.workers != 1 {
		t.Fatalf("workers = %d, want 1", p.workers)
	}
	if res := p.ExecuteConcurrent(context.Background(), nil); res != nil {
		t.Fatalf("expected nil results, got %v", res)
	}
}

func TestWorkerPool_CanceledContext(t *testing.T) {
	p := newWorkerPool(1)
	defer p.stop()

	release := make(chan struct{})
	var ran atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	tasks := make([]Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = func() (any, error) {
			ran.Add(1)
			<-release
			return nil, nil
		}
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	results := p.ExecuteConcurrent(ctx, tasks)
	close(release)

	canceled := 0
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			canceled++
		}
	}
	if canceled == 0 {
		t.Fatal("expected canceled tasks")
	}
}

func TestWorkerPool_StopIsIdempotent(t *testing.T) {
	p := newWorkerPool(3)
	p.stop()
	p.stop()
}

func TestWorkerPool_StoppedPoolDoesNotBlock(t *testing.T) {
	p := newWorkerPool(2)
	p.stop()

	tasks := make([]Task, 20)
	for i := range tasks {
		i := i
		tasks[i] = func() (any, error) { return i, nil }
	}
	got := make(chan []taskResult, 1)
	go func() { got <- p.ExecuteConcurrent(context.Background(), tasks) }()

	select {
	case results := <-got:
		if len(results) != len(tasks) {
			t.Fatalf("got %d results, want %d", len(results), len(tasks))
		}
		for i, r := range results {
			if !errors.Is(r.Err, ErrEngineClosed) || r.Index != i {
				t.Fatalf("task %d: got err %v index %d", i, r.Err, r.Index)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("ExecuteConcurrent blocked on a stopped pool")
	}
}

func TestWorkerPool_StopDuringBatch(t *testing.T) {
	p := newWorkerPool(1)

	release := make(chan struct{})
	tasks := make([]Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = func() (any, error) {
			<-release
			return i, nil
		}
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		go p.stop()
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()

	got := make(chan []taskResult, 1)
	go func() { got <- p.ExecuteConcurrent(context.Background(), tasks) }()

	select {
	case results := <-got:
		closed := 0
		for _, r := range results {
			if errors.Is(r.Err, ErrEngineClosed) {
				closed++
			}
		}
		if closed == 0 {
			t.Fatal("expected tasks abandoned by stop")
		}
	case <-time.After(time.Second):
		t.Fatal("ExecuteConcurrent blocked after stop")
	}
}
