package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/mailblast-backend/internal/errors"
	"github.com/unclebandit/mailblast-backend/internal/model"
)

// BroadcastJobRepositoryInterface tracks asynchronously queued broadcasts.
type BroadcastJobRepositoryInterface interface {
	Create(ctx context.Context, job *model.BroadcastJob) error
	Get(ctx context.Context, id string) (*model.BroadcastJob, error)
	Update(ctx context.Context, job *model.BroadcastJob) error
}

func prepareNewJob(job *model.BroadcastJob) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = model.JobQueued
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
}

// ====================== Memory ======================

type MemoryBroadcastJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]model.BroadcastJob
}

func NewMemoryBroadcastJobRepository() *MemoryBroadcastJobRepository {
	return &MemoryBroadcastJobRepository{jobs: make(map[string]model.BroadcastJob)}
}

func (r *MemoryBroadcastJobRepository) Create(_ context.Context, job *model.BroadcastJob) error {
	prepareNewJob(job)

	r.mu.Lock()
	r.jobs[job.ID] = *job
	r.mu.Unlock()
	return nil
}

func (r *MemoryBroadcastJobRepository) Get(_ context.Context, id string) (*model.BroadcastJob, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()

	if !ok {
		return nil, appErrors.ErrJobNotFound
	}
	return &job, nil
}

func (r *MemoryBroadcastJobRepository) Update(_ context.Context, job *model.BroadcastJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return appErrors.ErrJobNotFound
	}
	job.UpdatedAt = time.Now().UTC()
	r.jobs[job.ID] = *job
	return nil
}

// ====================== Redis ======================

const (
	jobKeyPrefix = "mailblast:broadcast:"
	// DefaultJobTTL bounds how long finished job state stays pollable.
	DefaultJobTTL = 24 * time.Hour
)

// RedisBroadcastJobRepository stores job state as JSON so a separate worker
// process and the API server share progress.
type RedisBroadcastJobRepository struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisBroadcastJobRepository(client *redis.Client) *RedisBroadcastJobRepository {
	return &RedisBroadcastJobRepository{Client: client, TTL: DefaultJobTTL}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (r *RedisBroadcastJobRepository) save(ctx context.Context, job *model.BroadcastJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal broadcast job: %w", err)
	}
	if err := r.Client.Set(ctx, jobKey(job.ID), data, r.TTL).Err(); err != nil {
		return fmt.Errorf("save broadcast job %s: %w", job.ID, err)
	}
	return nil
}

func (r *RedisBroadcastJobRepository) Create(ctx context.Context, job *model.BroadcastJob) error {
	prepareNewJob(job)
	return r.save(ctx, job)
}

func (r *RedisBroadcastJobRepository) Get(ctx context.Context, id string) (*model.BroadcastJob, error) {
	data, err := r.Client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrJobNotFound
		}
		return nil, fmt.Errorf("get broadcast job %s: %w", id, err)
	}

	var job model.BroadcastJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode broadcast job %s: %w", id, err)
	}
	return &job, nil
}

func (r *RedisBroadcastJobRepository) Update(ctx context.Context, job *model.BroadcastJob) error {
	job.UpdatedAt = time.Now().UTC()
	return r.save(ctx, job)
}

var (
	_ BroadcastJobRepositoryInterface = (*MemoryBroadcastJobRepository)(nil)
	_ BroadcastJobRepositoryInterface = (*RedisBroadcastJobRepository)(nil)
)
