package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
	"github.com/unclebandit/mailblast-backend/internal/model"
)

// DeliveryLogRepositoryInterface is the append-mostly record of send attempts.
type DeliveryLogRepositoryInterface interface {
	Append(ctx context.Context, in model.DeliveryLogInput) (*model.DeliveryLogEntry, error)
	ListAll(ctx context.Context) ([]model.DeliveryLogEntry, error)
	UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, errorMessage *string) error
	StatsSince(ctx context.Context, start time.Time) (model.DeliveryCounts, error)
}

// newEntry assigns identity and timestamp to a log input.
func newEntry(in model.DeliveryLogInput, now time.Time) model.DeliveryLogEntry {
	return model.DeliveryLogEntry{
		ID:                uuid.NewString(),
		RecipientID:       in.RecipientID,
		RecipientEmail:    in.RecipientEmail,
		RecipientName:     in.RecipientName,
		Subject:           in.Subject,
		HTMLContent:       in.HTMLContent,
		Status:            in.Status,
		SentAt:            now,
		ErrorMessage:      in.ErrorMessage,
		ProviderMessageID: in.ProviderMessageID,
	}
}

// correctedError returns the error message to store alongside a status correction.
func correctedError(status model.DeliveryStatus, errorMessage *string) *string {
	if status != model.StatusFailed {
		return nil
	}
	return errorMessage
}

// ====================== Memory ======================

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// detach gives e its own copies of the optional fields so no pointer is
// shared between the store and its callers.
func detach(e model.DeliveryLogEntry) model.DeliveryLogEntry {
	e.ErrorMessage = copyString(e.ErrorMessage)
	e.ProviderMessageID = copyString(e.ProviderMessageID)
	return e
}

type MemoryDeliveryLogRepository struct {
	// Clock defaults to time.Now.
	Clock func() time.Time

	mu      sync.RWMutex
	entries []model.DeliveryLogEntry
}

func NewMemoryDeliveryLogRepository() *MemoryDeliveryLogRepository {
	return &MemoryDeliveryLogRepository{Clock: time.Now}
}

func (r *MemoryDeliveryLogRepository) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock()
}

func (r *MemoryDeliveryLogRepository) Append(_ context.Context, in model.DeliveryLogInput) (*model.DeliveryLogEntry, error) {
	entry := newEntry(in, r.now())

	r.mu.Lock()
	r.entries = append(r.entries, detach(entry))
	r.mu.Unlock()

	out := detach(entry)
	return &out, nil
}

// ListAll returns entries newest first. Entries sharing a timestamp keep
// reverse insertion order.
func (r *MemoryDeliveryLogRepository) ListAll(_ context.Context) ([]model.DeliveryLogEntry, error) {
	r.mu.RLock()
	out := make([]model.DeliveryLogEntry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		out = append(out, detach(r.entries[i]))
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	return out, nil
}

func (r *MemoryDeliveryLogRepository) UpdateStatus(_ context.Context, id string, status model.DeliveryStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].Status = status
			r.entries[i].ErrorMessage = copyString(correctedError(status, errorMessage))
			return nil
		}
	}
	return nil
}

func (r *MemoryDeliveryLogRepository) StatsSince(_ context.Context, start time.Time) (model.DeliveryCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c model.DeliveryCounts
	for _, e := range r.entries {
		if e.SentAt.Before(start) {
			continue
		}
		c.Total++
		switch e.Status {
		case model.StatusSent:
			c.Sent++
		case model.StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

// ====================== PostgreSQL ======================

type PostgresDeliveryLogRepository struct {
	DB *sql.DB
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", appErrors.ErrStorageUnavailable, op, err)
}

func (r *PostgresDeliveryLogRepository) Append(ctx context.Context, in model.DeliveryLogInput) (*model.DeliveryLogEntry, error) {
	entry := newEntry(in, time.Now().UTC())

	query := `
        INSERT INTO email_logs
        (id, recipient_id, recipient_email, recipient_name, subject, html_content, status, sent_at, error_message, provider_message_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := r.DB.ExecContext(ctx, query,
		entry.ID,
		entry.RecipientID,
		entry.RecipientEmail,
		entry.RecipientName,
		entry.Subject,
		entry.HTMLContent,
		entry.Status,
		entry.SentAt,
		entry.ErrorMessage,
		entry.ProviderMessageID,
	)
	if err != nil {
		return nil, storageErr("insert email log", err)
	}
	return &entry, nil
}

func (r *PostgresDeliveryLogRepository) ListAll(ctx context.Context) ([]model.DeliveryLogEntry, error) {
	query := `
        SELECT id, recipient_id, recipient_email, recipient_name, subject, html_content, status, sent_at, error_message, provider_message_id
        FROM email_logs
        ORDER BY sent_at DESC, id DESC
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, storageErr("list email logs", err)
	}
	defer rows.Close()

	entries := []model.DeliveryLogEntry{}
	for rows.Next() {
		var (
			e          model.DeliveryLogEntry
			errMsg     sql.NullString
			providerID sql.NullString
		)
		if err := rows.Scan(
			&e.ID,
			&e.RecipientID,
			&e.RecipientEmail,
			&e.RecipientName,
			&e.Subject,
			&e.HTMLContent,
			&e.Status,
			&e.SentAt,
			&errMsg,
			&providerID,
		); err != nil {
			return nil, storageErr("scan email log", err)
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		if providerID.Valid {
			e.ProviderMessageID = &providerID.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list email logs", err)
	}
	return entries, nil
}

// UpdateStatus touches no rows for an unknown id and reports no error.
func (r *PostgresDeliveryLogRepository) UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, errorMessage *string) error {
	query := `UPDATE email_logs SET status=$1, error_message=$2 WHERE id=$3`
	if _, err := r.DB.ExecContext(ctx, query, status, correctedError(status, errorMessage), id); err != nil {
		return storageErr("update email log status", err)
	}
	return nil
}

func (r *PostgresDeliveryLogRepository) StatsSince(ctx context.Context, start time.Time) (model.DeliveryCounts, error) {
	query := `
        SELECT
            COUNT(*) FILTER (WHERE status = 'sent'),
            COUNT(*) FILTER (WHERE status = 'failed'),
            COUNT(*)
        FROM email_logs
        WHERE sent_at >= $1
    `
	var c model.DeliveryCounts
	if err := r.DB.QueryRowContext(ctx, query, start).Scan(&c.Sent, &c.Failed, &c.Total); err != nil {
		return c, storageErr("count email logs", err)
	}
	return c, nil
}

var (
	_ DeliveryLogRepositoryInterface = (*MemoryDeliveryLogRepository)(nil)
	_ DeliveryLogRepositoryInterface = (*PostgresDeliveryLogRepository)(nil)
)
