package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
	"github.com/unclebandit/mailblast-backend/internal/model"
)

// RecipientDirectory is the read side the dispatcher resolves recipients from.
type RecipientDirectory interface {
	ListRecipients(ctx context.Context) ([]model.Recipient, error)
}

// RecipientRepositoryInterface defines methods used by the service and handlers
type RecipientRepositoryInterface interface {
	RecipientDirectory
	Create(ctx context.Context, in model.NewRecipient) (*model.Recipient, error)
	GetByEmail(ctx context.Context, email string) (*model.Recipient, error)
	Count(ctx context.Context) (int, error)
}

// DefaultRecipients is the demo directory loaded when seeding is enabled.
func DefaultRecipients() []model.NewRecipient {
	return []model.NewRecipient{
		{Name: "John Doe", Email: "john@example.com"},
		{Name: "Jane Smith", Email: "jane@example.com"},
		{Name: "Mike Johnson", Email: "mike@example.com"},
		{Name: "Sarah Wilson", Email: "sarah@example.com"},
		{Name: "Tom Brown", Email: "tom@example.com"},
	}
}

// ====================== Memory ======================

type MemoryRecipientRepository struct {
	mu         sync.RWMutex
	recipients []model.Recipient
}

func NewMemoryRecipientRepository(seed ...model.NewRecipient) *MemoryRecipientRepository {
	r := &MemoryRecipientRepository{}
	for _, in := range seed {
		// seed lists are expected to be unique
		_, _ = r.Create(context.Background(), in)
	}
	return r
}

func (r *MemoryRecipientRepository) ListRecipients(_ context.Context) ([]model.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Recipient, len(r.recipients))
	copy(out, r.recipients)
	return out, nil
}

func (r *MemoryRecipientRepository) Create(_ context.Context, in model.NewRecipient) (*model.Recipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.recipients {
		if strings.EqualFold(existing.Email, in.Email) {
			return nil, appErrors.ErrDuplicateRecipient
		}
	}

	rec := model.Recipient{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: time.Now(),
	}
	r.recipients = append(r.recipients, rec)
	return &rec, nil
}

// GetByEmail returns nil, nil when no recipient has the address.
func (r *MemoryRecipientRepository) GetByEmail(_ context.Context, email string) (*model.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.recipients {
		if strings.EqualFold(rec.Email, email) {
			found := rec
			return &found, nil
		}
	}
	return nil, nil
}

func (r *MemoryRecipientRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.recipients), nil
}

// ====================== PostgreSQL ======================

type PostgresRecipientRepository struct {
	DB *sql.DB
}

const uniqueViolation = "23505"

// ListRecipients returns recipients in registration order.
func (r *PostgresRecipientRepository) ListRecipients(ctx context.Context) ([]model.Recipient, error) {
	query := `
        SELECT id, name, email, created_at
        FROM users
        ORDER BY created_at ASC, id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Email, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	return recipients, rows.Err()
}

func (r *PostgresRecipientRepository) Create(ctx context.Context, in model.NewRecipient) (*model.Recipient, error) {
	rec := model.Recipient{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: time.Now().UTC(),
	}
	query := `INSERT INTO users (id, name, email, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.DB.ExecContext(ctx, query, rec.ID, rec.Name, rec.Email, rec.CreatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, appErrors.ErrDuplicateRecipient
		}
		return nil, err
	}
	return &rec, nil
}

// GetByEmail returns nil, nil when no recipient has the address.
func (r *PostgresRecipientRepository) GetByEmail(ctx context.Context, email string) (*model.Recipient, error) {
	query := `SELECT id, name, email, created_at FROM users WHERE lower(email) = lower($1)`

	var rec model.Recipient
	err := r.DB.QueryRowContext(ctx, query, email).Scan(&rec.ID, &rec.Name, &rec.Email, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresRecipientRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// Seed inserts the given recipients, skipping addresses already present.
// It returns how many rows were inserted.
func (r *PostgresRecipientRepository) Seed(ctx context.Context, recipients []model.NewRecipient) (int, error) {
	query := `
        INSERT INTO users (id, name, email, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (email) DO NOTHING
    `
	inserted := 0
	for _, in := range recipients {
		res, err := r.DB.ExecContext(ctx, query, uuid.NewString(), in.Name, in.Email, time.Now().UTC())
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

var (
	_ RecipientRepositoryInterface = (*MemoryRecipientRepository)(nil)
	_ RecipientRepositoryInterface = (*PostgresRecipientRepository)(nil)
)
