package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unclebandit/mailblast-backend/internal/logger"
	"github.com/unclebandit/mailblast-backend/internal/mailer"
	"github.com/unclebandit/mailblast-backend/internal/metrics"
	"github.com/unclebandit/mailblast-backend/internal/model"
	"github.com/unclebandit/mailblast-backend/internal/repository"
)

// fakeTransport succeeds unless the address is listed in failures.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []string
	failures map[string]string
	onSend   func(n int)
}

func (f *fakeTransport) Send(_ context.Context, email mailer.Email) (string, error) {
	f.mu.Lock()
	f.sent = append(f.sent, email.To)
	n := len(f.sent)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if reason, ok := f.failures[email.To]; ok {
		return "", errors.New(reason)
	}
	return fmt.Sprintf("provider-%d", n), nil
}

func (f *fakeTransport) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fakeDirectory struct {
	recipients []model.Recipient
	err        error
	calls      int
}

func (f *fakeDirectory) ListRecipients(context.Context) ([]model.Recipient, error) {
	f.calls++
	return f.recipients, f.err
}

// flakyLogStore fails the appends whose 1-based index is listed in failOn.
type flakyLogStore struct {
	*repository.MemoryDeliveryLogRepository
	failOn map[int]bool
	n      int
}

func (s *flakyLogStore) Append(ctx context.Context, in model.DeliveryLogInput) (*model.DeliveryLogEntry, error) {
	s.n++
	if s.failOn[s.n] {
		return nil, errors.New("disk full")
	}
	return s.MemoryDeliveryLogRepository.Append(ctx, in)
}

func recipients(emails ...string) []model.Recipient {
	out := make([]model.Recipient, 0, len(emails))
	for i, e := range emails {
		out = append(out, model.Recipient{ID: fmt.Sprintf("u%d", i+1), Name: fmt.Sprintf("User %d", i+1), Email: e})
	}
	return out
}

func newTestDispatcher(dir repository.RecipientDirectory, tr mailer.Transport, logs repository.DeliveryLogRepositoryInterface) *Dispatcher {
	return &Dispatcher{
		Directory: dir,
		Transport: tr,
		Logs:      logs,
		Pacer:     NewPacer(0),
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Log:       logger.Discard(),
	}
}

var testMessage = model.Message{Subject: "Hello", HTMLContent: "<p>Hi</p>"}
