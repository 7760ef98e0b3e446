package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
)

// JobStatusRepository tracks the lifecycle of upload jobs. Entries expire; a job
// only exists while it is being processed and for a while afterwards.
type JobStatusRepository interface {
	SetStatus(ctx context.Context, jobID uuid.UUID, status constants.JobStatus) error
	GetStatus(ctx context.Context, jobID uuid.UUID) (constants.JobStatus, error)
}

const jobStatusKeyPrefix = "job_status:"

type redisJobStatusRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStatusRepository stores statuses under job_status:<id> with the given TTL.
func NewRedisJobStatusRepository(client *redis.Client, ttl time.Duration) JobStatusRepository {
	return &redisJobStatusRepository{client: client, ttl: ttl}
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *redisJobStatusRepository) SetStatus(ctx context.Context, jobID uuid.UUID, status constants.JobStatus) error {
	return r.client.Set(ctx, jobStatusKeyPrefix+jobID.String(), string(status), r.ttl).Err()
}

func (r *redisJobStatusRepository) GetStatus(ctx context.Context, jobID uuid.UUID) (constants.JobStatus, error) {
	v, err := r.client.Get(ctx, jobStatusKeyPrefix+jobID.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", common.NotFound("job " + jobID.String())
	}
	if err != nil {
		return "", err
	}
	return constants.JobStatus(v), nil
}

type memoryJobStatusRepository struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[uuid.UUID]jobStatusEntry
}

type jobStatusEntry struct {
	status    constants.JobStatus
	expiresAt time.Time
}

// NewMemoryJobStatusRepository keeps statuses in process memory. A zero ttl never expires.
func NewMemoryJobStatusRepository(ttl time.Duration) JobStatusRepository {
	return &memoryJobStatusRepository{ttl: ttl, now: time.Now, entries: map[uuid.UUID]jobStatusEntry{}}
}

func (r *memoryJobStatusRepository) SetStatus(_ context.Context, jobID uuid.UUID, status constants.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := jobStatusEntry{status: status}
	if r.ttl > 0 {
		e.expiresAt = r.now().Add(r.ttl)
	}
	r.entries[jobID] = e
	return nil
}

func (r *memoryJobStatusRepository) GetStatus(_ context.Context, jobID uuid.UUID) (constants.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[jobID]
	if ok && !e.expiresAt.IsZero() && r.now().After(e.expiresAt) {
		delete(r.entries, jobID)
		ok = false
	}
	if !ok {
		return "", common.NotFound("job " + jobID.String())
	}
	return e.status, nil
}
