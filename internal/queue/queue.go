package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/mailblast-backend/internal/model"
)

// Handler processes one queued broadcast. Returned errors are logged; the
// job is not redelivered.
type Handler func(ctx context.Context, job model.BroadcastJob) error

// Queue carries broadcast jobs from the API to a single sequential consumer.
type Queue interface {
	Publish(ctx context.Context, job model.BroadcastJob) error
	Subscribe(handler Handler) error
	Close() error
}

var (
	ErrNoSubscriber = errors.New("queue has no subscriber")
	ErrClosed       = errors.New("queue is closed")
)

// InMemoryQueue runs jobs one at a time on a background goroutine.
type InMemoryQueue struct {
	log  *logrus.Entry
	jobs chan model.BroadcastJob

	mu         sync.Mutex
	subscribed bool
	closed     bool
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewInMemoryQueue creates a queue buffering up to size pending jobs.
func NewInMemoryQueue(size int, log *logrus.Entry) *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		log:    log,
		jobs:   make(chan model.BroadcastJob, size),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish enqueues the job without blocking. A full buffer is reported as an error.
func (q *InMemoryQueue) Publish(ctx context.Context, job model.BroadcastJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.closed:
		return ErrClosed
	case !q.subscribed:
		return ErrNoSubscriber
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("queue is full")
	}
}

// Subscribe starts the consumer. Only one subscriber is allowed.
func (q *InMemoryQueue) Subscribe(handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.subscribed {
		return errors.New("queue already has a subscriber")
	}
	q.subscribed = true

	go q.consume(handler)
	return nil
}

func (q *InMemoryQueue) consume(handler Handler) {
	defer close(q.done)
	for job := range q.jobs {
		if err := handler(q.ctx, job); err != nil {
			q.log.WithError(err).WithField("job_id", job.ID).Error("broadcast job failed")
			continue
		}
		q.log.WithField("job_id", job.ID).Info("broadcast job processed")
	}
}

// Close stops accepting jobs, cancels the running one and waits for the consumer.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	subscribed := q.subscribed
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()
	if subscribed {
		<-q.done
	}
	return nil
}
