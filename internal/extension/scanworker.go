package extension

import (
	"context"
	"sync"

	"github.com/lodgehost/lodge/internal/extension/scanner"
)

// scanJob asks the worker to scan one source file.
type scanJob struct {
	path   string
	result chan scanOutcome
}

type scanOutcome struct {
	result scanner.ScanResult
	err    error
}

// scanWorker runs scans on a dedicated goroutine so a pathological
// source file cannot stall the caller beyond its context deadline.
type scanWorker struct {
	jobs      chan scanJob
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newScanWorker() *scanWorker {
	w := &scanWorker{
		jobs: make(chan scanJob),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *scanWorker) loop() {
	defer close(w.done)
	for {
		select {
		case job := <-w.jobs:
			result, err := scanner.ScanFile(job.path)
			job.result <- scanOutcome{result: result, err: err}
		case <-w.quit:
			return
		}
	}
}

// scan submits a file and waits for the verdict or the context's end.
func (w *scanWorker) scan(ctx context.Context, path string) (scanner.ScanResult, error) {
	job := scanJob{path: path, result: make(chan scanOutcome, 1)}

	select {
	case w.jobs <- job:
	case <-ctx.Done():
		return scanner.ScanResult{}, ctx.Err()
	case <-w.done:
		return scanner.ScanResult{}, ErrControllerClosed
	}

	select {
	case outcome := <-job.result:
		return outcome.result, outcome.err
	case <-ctx.Done():
		return scanner.ScanResult{}, ctx.Err()
	}
}

func (w *scanWorker) close() {
	w.closeOnce.Do(func() { close(w.quit) })
	<-w.done
}
