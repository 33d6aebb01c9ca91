package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/unclebandit/mailblast-backend/internal/model"
)

// AMQPQueue publishes broadcast jobs to a durable RabbitMQ queue. Consumers
// use prefetch 1 so a worker holds at most one broadcast.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
	log  *logrus.Entry

	mu       sync.Mutex
	tag      string
	closed   bool
	consumer *consumer
}

func NewAMQPQueue(url, name string, log *logrus.Entry) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	return &AMQPQueue{conn: conn, ch: ch, name: name, log: log, consumer: newConsumer(log)}, nil
}

func (q *AMQPQueue) Publish(_ context.Context, job model.BroadcastJob) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.ch.Publish(
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Body:         body,
		},
	)
}

// Subscribe consumes deliveries on a background goroutine until Close.
func (q *AMQPQueue) Subscribe(handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.tag != "" {
		return fmt.Errorf("queue already has a subscriber")
	}

	tag := "mailblast-" + uuid.NewString()
	msgs, err := q.ch.Consume(
		q.name,
		tag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	q.tag = tag

	go q.consumer.run(msgs, handler)
	return nil
}

// consumer feeds deliveries to a handler one at a time. Stopping it cancels
// the running handler and waits until that delivery has been acked.
type consumer struct {
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newConsumer(log *logrus.Entry) *consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &consumer{log: log, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (c *consumer) run(msgs <-chan amqp.Delivery, handler Handler) {
	defer close(c.done)
	for d := range msgs {
		if c.ctx.Err() != nil {
			// left unacked; the broker requeues it once the channel closes
			continue
		}
		handleDelivery(c.ctx, d, handler, c.log)
	}
}

// stop cancels the running handler, stops the delivery stream and waits for run to return.
func (c *consumer) stop(stopDeliveries func() error) {
	c.cancel()
	if err := stopDeliveries(); err != nil {
		c.log.WithError(err).Warn("cancel rabbitmq consumer")
	}
	<-c.done
}

// handleDelivery acks every delivery, including failed ones, since a
// broadcast is never attempted twice.
func handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler, log *logrus.Entry) {
	var job model.BroadcastJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.WithError(err).Warn("discarding malformed broadcast job")
		_ = d.Ack(false)
		return
	}

	if err := handler(ctx, job); err != nil {
		log.WithError(err).WithField("job_id", job.ID).Error("broadcast job failed")
	}
	if err := d.Ack(false); err != nil {
		log.WithError(err).WithField("job_id", job.ID).Error("ack broadcast job")
	}
}

// Close stops the consumer, letting the running broadcast record its partial
// result and ack, then closes the channel and connection.
func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	tag := q.tag
	q.mu.Unlock()

	if tag != "" {
		q.consumer.stop(func() error { return q.ch.Cancel(tag, false) })
	}

	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

var (
	_ Queue = (*InMemoryQueue)(nil)
	_ Queue = (*AMQPQueue)(nil)
)
