// Package predict bounds how many classifications run at once. Callers submit
// a request and block until a worker has produced its verdict.
package predict

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/claritylab/claritylab/verdict"
)

// ErrStopped is returned for submissions after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Classifier is what the workers run. *verdict.Orchestrator implements it.
type Classifier interface {
	Classify(ctx context.Context, req verdict.Request) (verdict.Verdict, error)
}

type result struct {
	verdict verdict.Verdict
	err     error
}

// Job holds the attributes needed to perform unit of work.
type Job struct {
	ctx     context.Context
	request verdict.Request
	done    chan result
}

// NewWorker takes a numeric id and a channel w/ worker pool.
func NewWorker(id int, workerPool chan chan Job, classifier Classifier) Worker {
	return Worker{
		id:         id,
		jobQueue:   make(chan Job),
		workerPool: workerPool,
		classifier: classifier,
		quitChan:   make(chan struct{}),
	}
}

type Worker struct {
	id         int
	jobQueue   chan Job
	workerPool chan chan Job
	classifier Classifier
	quitChan   chan struct{}
}

func (w Worker) start() {
	log.Debugf("[Worker] Worker %d starting", w.id)

	go func() {
		for {
			// Add my jobQueue to the worker pool.
			select {
			case w.workerPool <- w.jobQueue:
			case <-w.quitChan:
				log.Debugf("[Worker] Worker %d stopping", w.id)
				return
			}

			select {
			case job := <-w.jobQueue:
				// The caller may have given up while the job was queued.
				if err := job.ctx.Err(); err != nil {
					job.done <- result{err: queuedError(err)}
					continue
				}
				v, err := w.classifier.Classify(job.ctx, job.request)
				job.done <- result{verdict: v, err: err}

			case <-w.quitChan:
				log.Debugf("[Worker] Worker %d stopping", w.id)
				return
			}
		}
	}()
}

func (w Worker) stop() {
	close(w.quitChan)
}

// NewDispatcher creates, and returns a new Dispatcher object. maxQueueSize
// bounds the submissions waiting for a worker.
func NewDispatcher(classifier Classifier, maxWorkers int, maxQueueSize int) *Dispatcher {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxQueueSize < 0 {
		maxQueueSize = 0
	}

	return &Dispatcher{
		classifier: classifier,
		jobQueue:   make(chan Job, maxQueueSize),
		maxWorkers: maxWorkers,
		workerPool: make(chan chan Job, maxWorkers),
		quit:       make(chan struct{}),
	}
}

type Dispatcher struct {
	classifier Classifier
	workerPool chan chan Job
	maxWorkers int
	jobQueue   chan Job
	workers    []Worker
	quit       chan struct{}
	stopOnce   sync.Once
}

func (d *Dispatcher) Run() {
	for i := 0; i < d.maxWorkers; i++ {
		worker := NewWorker(i+1, d.workerPool, d.classifier)
		worker.start()
		d.workers = append(d.workers, worker)
	}

	go d.dispatch()
}

// Stop ends the workers. Jobs still queued are answered with ErrStopped.
// Calling it more than once is harmless.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
		for _, w := range d.workers {
			w.stop()
		}
	})
}

func (d *Dispatcher) dispatch() {
	for {
		select {
		case job := <-d.jobQueue:
			select {
			case workerJobQueue := <-d.workerPool:
				select {
				case workerJobQueue <- job:
				case <-d.quit:
					job.done <- result{err: ErrStopped}
					d.drain()
					return
				}
			case <-d.quit:
				job.done <- result{err: ErrStopped}
				d.drain()
				return
			}
		case <-d.quit:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			job.done <- result{err: ErrStopped}
		default:
			return
		}
	}
}

// Submit queues the request and waits for its verdict. When ctx ends before a
// worker picks the job up the result is verdict.ErrTimeout for a deadline.
func (d *Dispatcher) Submit(ctx context.Context, req verdict.Request) (verdict.Verdict, error) {
	select {
	case <-d.quit:
		return verdict.Verdict{}, ErrStopped
	default:
	}

	job := Job{ctx: ctx, request: req, done: make(chan result, 1)}
	select {
	case d.jobQueue <- job:
	case <-d.quit:
		return verdict.Verdict{}, ErrStopped
	case <-ctx.Done():
		return verdict.Verdict{}, queuedError(ctx.Err())
	}

	select {
	case res := <-job.done:
		return res.verdict, res.err
	case <-d.quit:
		// The job may have been queued after dispatch drained and returned.
		select {
		case res := <-job.done:
			return res.verdict, res.err
		default:
			return verdict.Verdict{}, ErrStopped
		}
	case <-ctx.Done():
		// The worker notices the dead context and answers into the buffered channel.
		return verdict.Verdict{}, queuedError(ctx.Err())
	}
}

func queuedError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: waited for a free worker", verdict.ErrTimeout)
	}
	return fmt.Errorf("classification canceled: %w", err)
}
