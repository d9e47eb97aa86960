package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/remitchain/relayer-service/internal/config"
	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/store"
)

// JobQueue creates job records and moves their ids through the store's FIFO queue.
type JobQueue struct {
	store         store.JobStore
	requeuePolicy string
	now           func() time.Time
}

func NewJobQueue(s store.JobStore, requeuePolicy string) *JobQueue {
	return &JobQueue{store: s, requeuePolicy: requeuePolicy, now: time.Now}
}

// NewJob builds a queued job for payload with a fresh relayer id.
func (q *JobQueue) NewJob(payload domain.NormalizedPayload) *domain.Job {
	now := q.now().UTC()
	return &domain.Job{
		ID:        "relayer_" + uuid.NewString(),
		Payload:   payload,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (q *JobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	if job.Status != domain.JobStatusQueued {
		return fmt.Errorf("%w: enqueue of %s job", domain.ErrInvalidTransition, job.Status)
	}
	return q.store.EnqueueJob(ctx, job)
}

// Requeue puts a job back in line after a failed attempt, honouring the requeue policy.
func (q *JobQueue) Requeue(ctx context.Context, job *domain.Job) error {
	if q.requeuePolicy == config.RequeueHead {
		return q.store.RequeueJobFront(ctx, job)
	}
	return q.Enqueue(ctx, job)
}

// Dequeue pops the oldest id without blocking; ok is false when the queue is empty.
func (q *JobQueue) Dequeue(ctx context.Context) (string, bool, error) {
	return q.store.PopJobID(ctx)
}

func (q *JobQueue) Save(ctx context.Context, job *domain.Job) error {
	return q.store.SaveJob(ctx, job)
}

func (q *JobQueue) Load(ctx context.Context, id string) (*domain.Job, error) {
	return q.store.LoadJob(ctx, id)
}

func (q *JobQueue) Depth(ctx context.Context) (int64, error) {
	return q.store.QueueDepth(ctx)
}
