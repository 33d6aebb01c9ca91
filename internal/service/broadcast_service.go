package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
	"github.com/unclebandit/mailblast-backend/internal/lock"
	"github.com/unclebandit/mailblast-backend/internal/metrics"
	"github.com/unclebandit/mailblast-backend/internal/model"
	"github.com/unclebandit/mailblast-backend/internal/queue"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

// BroadcastLockKey names the lock every broadcast holds while dispatching.
const BroadcastLockKey = "broadcast"

// BroadcastService is the API boundary around the dispatcher. It validates
// requests and ensures only one broadcast runs at a time.
type BroadcastService struct {
	Dispatcher *Dispatcher
	Recipients repository.RecipientRepositoryInterface
	Jobs       repository.BroadcastJobRepositoryInterface
	Queue      queue.Queue
	Lock       lock.Lock
	Validator  *Validator
	Metrics    *metrics.Metrics
	Log        *logrus.Entry

	// LockPoll is how often a queued job retries a busy lock.
	LockPoll time.Duration
}

// Send dispatches msg synchronously and returns the tally.
func (s *BroadcastService) Send(ctx context.Context, msg model.Message) (*model.DispatchResult, error) {
	if err := s.Validator.Validate(msg); err != nil {
		return nil, err
	}

	ok, err := s.Lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.ErrBroadcastInProgress
	}
	defer s.release(ctx)

	return s.dispatch(ctx, msg, nil)
}

// Enqueue records a broadcast job and hands it to the queue consumer.
func (s *BroadcastService) Enqueue(ctx context.Context, msg model.Message) (*model.BroadcastJob, error) {
	if err := s.Validator.Validate(msg); err != nil {
		return nil, err
	}

	job := &model.BroadcastJob{Subject: msg.Subject, HTMLContent: msg.HTMLContent}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create broadcast job: %w", err)
	}

	if err := s.Queue.Publish(ctx, *job); err != nil {
		job.State = model.JobFailed
		job.Error = err.Error()
		if uerr := s.Jobs.Update(ctx, job); uerr != nil {
			s.Log.WithError(uerr).WithField("job_id", job.ID).Error("failed to mark job as failed")
		}
		return nil, fmt.Errorf("queue broadcast job: %w", err)
	}

	s.Log.WithField("job_id", job.ID).Info("broadcast queued")
	return job, nil
}

func (s *BroadcastService) GetJob(ctx context.Context, id string) (*model.BroadcastJob, error) {
	return s.Jobs.Get(ctx, id)
}

// RunJob is the queue handler. It waits for the broadcast lock, dispatches,
// and keeps the job's progress current in the tracker. Only queued jobs run;
// a redelivered job that had already started is marked failed instead.
func (s *BroadcastService) RunJob(ctx context.Context, queued model.BroadcastJob) error {
	s.Metrics.BroadcastJobsRunning.Inc()
	defer s.Metrics.BroadcastJobsRunning.Dec()

	job, err := s.Jobs.Get(ctx, queued.ID)
	if errors.Is(err, appErrors.ErrJobNotFound) {
		// published by a process with its own tracker
		job = &queued
		err = s.Jobs.Create(ctx, job)
	}
	if err != nil {
		return fmt.Errorf("load broadcast job %s: %w", queued.ID, err)
	}
	if job.State != model.JobQueued {
		err := fmt.Errorf("%w: job %s is %s", appErrors.ErrJobAlreadyStarted, job.ID, job.State)
		if job.State == model.JobRunning {
			s.finishJob(ctx, job, nil, errors.New("broadcast interrupted before completion"))
		}
		return err
	}

	if err := s.waitForLock(ctx); err != nil {
		s.finishJob(ctx, job, nil, err)
		return err
	}
	defer s.release(ctx)

	job.State = model.JobRunning
	s.saveJob(ctx, job)

	result, err := s.dispatch(ctx, job.Message(), func(processed, total int) {
		job.Processed = processed
		job.Total = total
		s.saveJob(ctx, job)
	})
	s.finishJob(ctx, job, result, err)
	return err
}

func (s *BroadcastService) dispatch(ctx context.Context, msg model.Message, progress ProgressFunc) (*model.DispatchResult, error) {
	result, err := s.Dispatcher.Dispatch(ctx, msg, func(processed, total int) {
		s.Log.Infof("Sent %d/%d emails", processed, total)
		if progress != nil {
			progress(processed, total)
		}
	})
	if result != nil {
		s.Log.WithFields(logrus.Fields{
			"sent":     result.Sent,
			"failed":   result.Failed,
			"total":    result.Total,
			"unlogged": result.Unlogged,
		}).Info("broadcast finished")
	}
	return result, err
}

func (s *BroadcastService) waitForLock(ctx context.Context) error {
	poll := s.LockPoll
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := s.Lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *BroadcastService) release(ctx context.Context) {
	if err := s.Lock.Release(context.WithoutCancel(ctx)); err != nil {
		s.Log.WithError(err).Error("failed to release broadcast lock")
	}
}

func (s *BroadcastService) saveJob(ctx context.Context, job *model.BroadcastJob) {
	if err := s.Jobs.Update(context.WithoutCancel(ctx), job); err != nil {
		s.Log.WithError(err).WithField("job_id", job.ID).Warn("failed to save job progress")
	}
}

func (s *BroadcastService) finishJob(ctx context.Context, job *model.BroadcastJob, result *model.DispatchResult, err error) {
	if result != nil {
		job.Sent = result.Sent
		job.Failed = result.Failed
		job.Processed = result.Total
	}
	if err != nil {
		job.State = model.JobFailed
		job.Error = err.Error()
	} else {
		job.State = model.JobCompleted
		job.Error = ""
	}
	s.saveJob(ctx, job)
}

// ListRecipients returns the directory in dispatch order.
func (s *BroadcastService) ListRecipients(ctx context.Context) ([]model.Recipient, error) {
	recipients, err := s.Recipients.ListRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", appErrors.ErrDirectoryUnavailable, err)
	}
	return recipients, nil
}

func (s *BroadcastService) CreateRecipient(ctx context.Context, in model.NewRecipient) (*model.Recipient, error) {
	if err := s.Validator.Validate(in); err != nil {
		return nil, err
	}

	existing, err := s.Recipients.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", appErrors.ErrDirectoryUnavailable, err)
	}
	if existing != nil {
		return nil, appErrors.ErrDuplicateRecipient
	}

	return s.Recipients.Create(ctx, in)
}
