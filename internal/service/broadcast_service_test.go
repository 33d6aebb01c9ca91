package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
	"github.com/unclebandit/mailblast-backend/internal/lock"
	"github.com/unclebandit/mailblast-backend/internal/logger"
	"github.com/unclebandit/mailblast-backend/internal/metrics"
	"github.com/unclebandit/mailblast-backend/internal/model"
	"github.com/unclebandit/mailblast-backend/internal/queue"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

type broadcastFixture struct {
	svc        *BroadcastService
	transport  *fakeTransport
	logs       *repository.MemoryDeliveryLogRepository
	recipients *repository.MemoryRecipientRepository
	jobs       *repository.MemoryBroadcastJobRepository
}

func newBroadcastFixture(t *testing.T) *broadcastFixture {
	t.Helper()

	recipients := repository.NewMemoryRecipientRepository(repository.DefaultRecipients()...)
	logs := repository.NewMemoryDeliveryLogRepository()
	tr := &fakeTransport{}
	jobs := repository.NewMemoryBroadcastJobRepository()
	m := metrics.New(prometheus.NewRegistry())

	d := newTestDispatcher(recipients, tr, logs)
	d.Metrics = m

	return &broadcastFixture{
		svc: &BroadcastService{
			Dispatcher: d,
			Recipients: recipients,
			Jobs:       jobs,
			Lock:       &lock.LocalLock{},
			Validator:  NewValidator(),
			Metrics:    m,
			Log:        logger.Discard(),
			LockPoll:   5 * time.Millisecond,
		},
		transport:  tr,
		logs:       logs,
		recipients: recipients,
		jobs:       jobs,
	}
}

func TestBroadcastSend(t *testing.T) {
	f := newBroadcastFixture(t)

	result, err := f.svc.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, &model.DispatchResult{Sent: 5, Total: 5}, result)

	entries, _ := f.logs.ListAll(context.Background())
	assert.Len(t, entries, 5)

	// lock released after the run
	ok, _ := f.svc.Lock.Acquire(context.Background())
	assert.True(t, ok)
}

func TestBroadcastSendValidation(t *testing.T) {
	f := newBroadcastFixture(t)

	tests := []struct {
		name  string
		msg   model.Message
		field string
	}{
		{"missing subject", model.Message{HTMLContent: "<p>x</p>"}, "subject"},
		{"missing html", model.Message{Subject: "Hello"}, "html_content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Send(context.Background(), tt.msg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrInvalidInput))

			var verr *appErrors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Empty(t, f.transport.calls())
}

func TestBroadcastSendAcceptsWhitespaceSubject(t *testing.T) {
	f := newBroadcastFixture(t)

	result, err := f.svc.Send(context.Background(), model.Message{Subject: " ", HTMLContent: "<p>x</p>"})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Sent)
}

func TestBroadcastSendRejectsConcurrentRun(t *testing.T) {
	f := newBroadcastFixture(t)

	release := make(chan struct{})
	started := make(chan struct{})
	f.transport.onSend = func(n int) {
		if n == 1 {
			close(started)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Send(context.Background(), testMessage)
		done <- err
	}()

	<-started
	_, err := f.svc.Send(context.Background(), testMessage)
	assert.True(t, errors.Is(err, appErrors.ErrBroadcastInProgress))

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, f.transport.calls(), 5)
}

func TestBroadcastEnqueueAndRunJob(t *testing.T) {
	f := newBroadcastFixture(t)
	q := queue.NewInMemoryQueue(4, logger.Discard())
	defer q.Close()
	f.svc.Queue = q
	require.NoError(t, q.Subscribe(f.svc.RunJob))

	job, err := f.svc.Enqueue(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, job.State)

	require.Eventually(t, func() bool {
		got, err := f.svc.GetJob(context.Background(), job.ID)
		return err == nil && got.State == model.JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	got, err := f.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Processed)
	assert.Equal(t, 5, got.Total)
	assert.Equal(t, 5, got.Sent)
	assert.Equal(t, 0, got.Failed)
	assert.Empty(t, got.Error)
}

func TestBroadcastRunJobWaitsForLock(t *testing.T) {
	f := newBroadcastFixture(t)
	ctx := context.Background()

	job := &model.BroadcastJob{Subject: "Hello", HTMLContent: "<p>Hi</p>"}
	require.NoError(t, f.jobs.Create(ctx, job))

	ok, _ := f.svc.Lock.Acquire(ctx)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- f.svc.RunJob(ctx, *job) }()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.transport.calls(), "job must not dispatch while another broadcast holds the lock")

	require.NoError(t, f.svc.Lock.Release(ctx))
	require.NoError(t, <-done)
	assert.Len(t, f.transport.calls(), 5)
}

func TestBroadcastRunJobNoRecipientsMarksFailed(t *testing.T) {
	f := newBroadcastFixture(t)
	ctx := context.Background()
	f.svc.Dispatcher.Directory = &fakeDirectory{}

	job := &model.BroadcastJob{Subject: "Hello", HTMLContent: "<p>Hi</p>"}
	require.NoError(t, f.jobs.Create(ctx, job))

	err := f.svc.RunJob(ctx, *job)
	assert.True(t, errors.Is(err, appErrors.ErrNoRecipients))

	got, _ := f.jobs.Get(ctx, job.ID)
	assert.Equal(t, model.JobFailed, got.State)
	assert.Equal(t, appErrors.ErrNoRecipients.Error(), got.Error)
}

func TestBroadcastRunJobUnknownToTracker(t *testing.T) {
	f := newBroadcastFixture(t)
	ctx := context.Background()

	err := f.svc.RunJob(ctx, model.BroadcastJob{ID: "from-elsewhere", Subject: "Hello", HTMLContent: "<p>Hi</p>"})
	require.NoError(t, err)

	got, err := f.jobs.Get(ctx, "from-elsewhere")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, got.State)
}

func TestBroadcastRunJobSkipsStartedJob(t *testing.T) {
	f := newBroadcastFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		state model.JobState
		want  model.JobState
	}{
		{"interrupted run", model.JobRunning, model.JobFailed},
		{"completed", model.JobCompleted, model.JobCompleted},
		{"failed", model.JobFailed, model.JobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &model.BroadcastJob{Subject: "Hello", HTMLContent: "<p>Hi</p>", State: tt.state}
			require.NoError(t, f.jobs.Create(ctx, job))

			err := f.svc.RunJob(ctx, *job)
			assert.True(t, errors.Is(err, appErrors.ErrJobAlreadyStarted))

			got, err := f.jobs.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.State)
		})
	}
	assert.Empty(t, f.transport.calls(), "a started broadcast is never dispatched again")
}

type failingQueue struct{}

func (failingQueue) Publish(context.Context, model.BroadcastJob) error {
	return errors.New("broker down")
}
func (failingQueue) Subscribe(queue.Handler) error { return nil }
func (failingQueue) Close() error                  { return nil }

func TestBroadcastEnqueuePublishFailure(t *testing.T) {
	f := newBroadcastFixture(t)
	f.svc.Queue = failingQueue{}

	_, err := f.svc.Enqueue(context.Background(), testMessage)
	assert.ErrorContains(t, err, "broker down")
}

func TestCreateRecipient(t *testing.T) {
	f := newBroadcastFixture(t)
	ctx := context.Background()

	rec, err := f.svc.CreateRecipient(ctx, model.NewRecipient{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec.Name)

	_, err = f.svc.CreateRecipient(ctx, model.NewRecipient{Name: "Ada", Email: "ada@example.com"})
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateRecipient))

	_, err = f.svc.CreateRecipient(ctx, model.NewRecipient{Name: "Bad", Email: "not-an-email"})
	var verr *appErrors.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "email", verr.Field)
	assert.Equal(t, "email", verr.Rule)

	all, err := f.svc.ListRecipients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}
