package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailblast-backend/internal/logger"
	"github.com/unclebandit/mailblast-backend/internal/model"
)

func TestInMemoryQueueRunsJobsSequentially(t *testing.T) {
	q := NewInMemoryQueue(10, logger.Discard())

	var (
		mu      sync.Mutex
		order   []string
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	wg.Add(3)
	require.NoError(t, q.Subscribe(func(_ context.Context, job model.BroadcastJob) error {
		defer wg.Done()
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		order = append(order, job.ID)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		if job.ID == "2" {
			return errors.New("boom")
		}
		return nil
	}))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, q.Publish(context.Background(), model.BroadcastJob{ID: id}))
	}
	wg.Wait()
	require.NoError(t, q.Close())

	assert.Equal(t, []string{"1", "2", "3"}, order, "a failed job is not retried")
	assert.False(t, overlap)
}

func TestInMemoryQueuePublishWithoutSubscriber(t *testing.T) {
	q := NewInMemoryQueue(1, logger.Discard())
	err := q.Publish(context.Background(), model.BroadcastJob{ID: "1"})
	assert.ErrorIs(t, err, ErrNoSubscriber)
}

func TestInMemoryQueueClose(t *testing.T) {
	q := NewInMemoryQueue(1, logger.Discard())
	require.NoError(t, q.Subscribe(func(context.Context, model.BroadcastJob) error { return nil }))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish(context.Background(), model.BroadcastJob{ID: "1"}), ErrClosed)
	assert.ErrorIs(t, q.Subscribe(func(context.Context, model.BroadcastJob) error { return nil }), ErrClosed)
}

func TestInMemoryQueueCloseCancelsRunningJob(t *testing.T) {
	q := NewInMemoryQueue(1, logger.Discard())
	started := make(chan struct{})
	var sawCancel bool

	require.NoError(t, q.Subscribe(func(ctx context.Context, _ model.BroadcastJob) error {
		close(started)
		<-ctx.Done()
		sawCancel = true
		return ctx.Err()
	}))
	require.NoError(t, q.Publish(context.Background(), model.BroadcastJob{ID: "1"}))

	<-started
	require.NoError(t, q.Close())
	assert.True(t, sawCancel)
}

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	return nil
}

func (f *fakeAcknowledger) ackedTags() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.acked...)
}

func TestHandleDeliveryAcksFailures(t *testing.T) {
	ack := &fakeAcknowledger{}
	body, err := json.Marshal(model.BroadcastJob{ID: "job-1", Subject: "Hello"})
	require.NoError(t, err)

	var got model.BroadcastJob
	handleDelivery(context.Background(),
		amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: body},
		func(_ context.Context, job model.BroadcastJob) error {
			got = job
			return errors.New("directory unavailable")
		},
		logger.Discard(),
	)

	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, "Hello", got.Subject)
	assert.Equal(t, []uint64{7}, ack.acked)
	assert.Empty(t, ack.nacked)
}

func TestHandleDeliveryMalformedBody(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false

	handleDelivery(context.Background(),
		amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("{not json")},
		func(context.Context, model.BroadcastJob) error {
			called = true
			return nil
		},
		logger.Discard(),
	)

	assert.False(t, called)
	assert.Equal(t, []uint64{3}, ack.acked)
}

func TestConsumerStopWaitsForRunningBroadcast(t *testing.T) {
	ack := &fakeAcknowledger{}
	body, err := json.Marshal(model.BroadcastJob{ID: "job-1"})
	require.NoError(t, err)

	msgs := make(chan amqp.Delivery, 2)
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}

	started := make(chan struct{})
	var (
		handled    []string
		sawCancel  bool
		finishedAt time.Time
	)
	c := newConsumer(logger.Discard())
	go c.run(msgs, func(ctx context.Context, job model.BroadcastJob) error {
		handled = append(handled, job.ID)
		close(started)
		<-ctx.Done()
		sawCancel = true
		time.Sleep(10 * time.Millisecond)
		finishedAt = time.Now()
		return ctx.Err()
	})

	<-started
	// arrives while the first broadcast is still running
	msgs <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: body}

	c.stop(func() error {
		close(msgs)
		return nil
	})
	stoppedAt := time.Now()

	assert.True(t, sawCancel)
	assert.False(t, stoppedAt.Before(finishedAt), "stop returned before the handler finished")
	assert.Equal(t, []string{"job-1"}, handled, "no new broadcast starts after stop")
	assert.Equal(t, []uint64{1}, ack.ackedTags(), "the undelivered job stays unacked for redelivery")
}
