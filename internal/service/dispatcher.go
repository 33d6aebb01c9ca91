package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
	"github.com/unclebandit/mailblast-backend/internal/logger"
	"github.com/unclebandit/mailblast-backend/internal/mailer"
	"github.com/unclebandit/mailblast-backend/internal/metrics"
	"github.com/unclebandit/mailblast-backend/internal/model"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

// ProgressFunc is called once per recipient, after its log entry is written.
type ProgressFunc func(processed, total int)

// Pacer blocks between consecutive send attempts.
type Pacer interface {
	// Pause waits one full interval from the moment it is called.
	Pause(ctx context.Context) error
}

type limiterPacer struct {
	lim *rate.Limiter
}

// NewPacer returns a Pacer holding each pause for interval. A non-positive
// interval disables pacing.
func NewPacer(interval time.Duration) Pacer {
	if interval <= 0 {
		return &limiterPacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &limiterPacer{lim: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *limiterPacer) Pause(ctx context.Context) error {
	if p.lim.Limit() != rate.Inf {
		// empty the bucket so the wait is measured from the end of the last send
		now := time.Now()
		p.lim.SetBurstAt(now, 0)
		p.lim.SetBurstAt(now, 1)
	}
	return p.lim.Wait(ctx)
}

// Dispatcher sends one message to every recipient in the directory, one at a
// time, and records each attempt in the delivery log.
type Dispatcher struct {
	Directory repository.RecipientDirectory
	Transport mailer.Transport
	Logs      repository.DeliveryLogRepositoryInterface
	Pacer     Pacer
	Metrics   *metrics.Metrics
	Log       *logrus.Entry
}

func NewDispatcher(
	dir repository.RecipientDirectory,
	transport mailer.Transport,
	logs repository.DeliveryLogRepositoryInterface,
	pacing time.Duration,
	m *metrics.Metrics,
	log *logrus.Entry,
) *Dispatcher {
	return &Dispatcher{
		Directory: dir,
		Transport: transport,
		Logs:      logs,
		Pacer:     NewPacer(pacing),
		Metrics:   m,
		Log:       log,
	}
}

// Dispatch runs one broadcast. Individual send failures are counted in the
// result, never returned as errors. If ctx ends mid-run the partial result is
// returned with Cancelled set, together with an error wrapping the cause.
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.Message, progress ProgressFunc) (*model.DispatchResult, error) {
	start := time.Now()

	recipients, err := d.Directory.ListRecipients(ctx)
	if err != nil {
		d.observeRun("directory_error", start)
		return nil, fmt.Errorf("%w: %w", appErrors.ErrDirectoryUnavailable, err)
	}
	if len(recipients) == 0 {
		d.observeRun("no_recipients", start)
		return nil, appErrors.ErrNoRecipients
	}

	total := len(recipients)
	attempts := make([]model.DeliveryAttempt, 0, total)
	unlogged := 0

	// log writes must outlive a cancelled run so no attempted send goes unrecorded
	logCtx := context.WithoutCancel(ctx)

	for i, rec := range recipients {
		if err := d.pace(ctx, i); err != nil {
			result := tally(attempts)
			result.Unlogged = unlogged
			result.Cancelled = true
			d.observeRun("cancelled", start)

			cause := ctx.Err()
			if cause == nil {
				cause = err
			}
			d.Log.WithFields(logrus.Fields{
				"processed": len(attempts),
				"total":     total,
			}).Warn("dispatch stopped before completion")
			return result, fmt.Errorf("dispatch stopped after %d of %d recipients: %w", len(attempts), total, cause)
		}

		attempt := d.attempt(ctx, msg, rec)
		attempts = append(attempts, attempt)
		d.Metrics.Deliveries.WithLabelValues(string(attempt.Status)).Inc()

		if _, err := d.Logs.Append(logCtx, attempt.LogInput(msg)); err != nil {
			unlogged++
			d.Metrics.LogWriteFailures.Inc()
			d.Log.WithError(err).WithFields(logrus.Fields{
				"recipient_id": rec.ID,
				"recipient":    logger.RedactEmail(rec.Email),
				"status":       attempt.Status,
			}).Error("failed to write delivery log entry")
		}

		if progress != nil {
			progress(i+1, total)
		}
	}

	result := tally(attempts)
	result.Unlogged = unlogged
	d.observeRun("completed", start)
	return result, nil
}

// pace checks for cancellation and, after the first recipient, holds the
// fixed pause that follows every send.
func (d *Dispatcher) pace(ctx context.Context, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if i == 0 {
		return nil
	}
	return d.Pacer.Pause(ctx)
}

func (d *Dispatcher) attempt(ctx context.Context, msg model.Message, rec model.Recipient) model.DeliveryAttempt {
	a := model.DeliveryAttempt{
		RecipientID:    rec.ID,
		RecipientEmail: rec.Email,
		RecipientName:  rec.Name,
	}

	providerID, err := d.Transport.Send(ctx, mailer.Email{
		To:      rec.Email,
		ToName:  rec.Name,
		Subject: msg.Subject,
		HTML:    msg.HTMLContent,
	})
	if err != nil {
		a.Status = model.StatusFailed
		a.ErrorReason = err.Error()
		d.Log.WithError(err).WithField("recipient", logger.RedactEmail(rec.Email)).Warn("send failed")
		return a
	}

	a.Status = model.StatusSent
	a.ProviderMessageID = providerID
	return a
}

func (d *Dispatcher) observeRun(outcome string, start time.Time) {
	d.Metrics.DispatchRuns.WithLabelValues(outcome).Inc()
	if outcome == "completed" {
		d.Metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}
}

// tally partitions attempts by outcome.
func tally(attempts []model.DeliveryAttempt) *model.DispatchResult {
	r := &model.DispatchResult{Total: len(attempts)}
	for _, a := range attempts {
		switch a.Status {
		case model.StatusSent:
			r.Sent++
		case model.StatusFailed:
			r.Failed++
		}
	}
	return r
}
