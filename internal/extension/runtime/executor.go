package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/lodgehost/lodge/internal/host"
)

// execJob is one unit of work submitted to the executor goroutine.
type execJob struct {
	fn     func(*State) error
	result chan error
}

// Executor serializes all access to one extension's State on a
// dedicated goroutine. The interpreter is created, used and closed on
// that goroutine only.
type Executor struct {
	slug      string
	jobs      chan execJob
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	log       *host.Logger
}

// NewExecutor starts the goroutine owning the given state.
func NewExecutor(state *State, log *host.Logger) *Executor {
	if log == nil {
		log = host.NullLogger
	}
	e := &Executor{
		slug: state.Slug(),
		jobs: make(chan execJob),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		log:  log.WithComponent("executor").WithExtension(state.Slug()),
	}
	go e.loop(state)
	return e
}

// loop runs jobs until Close, then releases the state.
func (e *Executor) loop(state *State) {
	defer close(e.done)
	defer state.Close()
	for {
		select {
		case job := <-e.jobs:
			job.result <- e.run(state, job.fn)
		case <-e.quit:
			return
		}
	}
}

// run executes one job, converting a panic in the interpreter into an
// attributed error instead of taking the host down.
func (e *Executor) run(state *State, fn func(*State) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in extension call: %v", r)
			err = wrapExtension(e.slug, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(state)
}

// Do submits work against the state and waits for it to finish or the
// context to end. Interpreter calls bound by the same context abort on
// their own when it expires.
func (e *Executor) Do(ctx context.Context, fn func(*State) error) error {
	job := execJob{fn: fn, result: make(chan error, 1)}

	select {
	case e.jobs <- job:
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the executor and closes the state. Safe to call more than
// once; blocks until the goroutine finished.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
	<-e.done
}
