/**
 * @description
 * This file defines the `Store` interface, the single storage contract used by the nonce
 * ledger, the idempotency cache and the job queue. The relayer runs against one of three
 * interchangeable backends: process-local memory (single instance only), Redis and
 * PostgreSQL (both safe to share between instances). Business logic never depends on a
 * concrete backend.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain: For the job and idempotency models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrUnknownBackend  = errors.New("unknown store backend")
	ErrNonceOutOfRange = errors.New("nonce exceeds safe integer range")
)

// checkNonce keeps every backend to the range they all compare exactly.
func checkNonce(nonce uint64) error {
	if nonce > domain.MaxSafeInteger {
		return fmt.Errorf("%w: %d", ErrNonceOutOfRange, nonce)
	}
	return nil
}

// Backend names accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// NonceStore keeps the highest accepted nonce per sender.
type NonceStore interface {
	// SetNonceIfGreater stores nonce only if it is strictly greater than the stored value
	// (0 when absent). Compare and write happen as one atomic step.
	SetNonceIfGreater(ctx context.Context, sender string, nonce uint64) (bool, error)
	CurrentNonce(ctx context.Context, sender string) (uint64, error)
}

// IdempotencyStore holds client idempotency records with an expiry.
type IdempotencyStore interface {
	// ReserveIdempotency atomically creates rec under key when no live record exists.
	// When one exists it is returned with reserved=false and nothing is written.
	ReserveIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) (existing *domain.IdempotencyRecord, reserved bool, err error)
	CompleteIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) error
	ReleaseIdempotency(ctx context.Context, key string) error
}

// JobStore persists job records and the FIFO queue of job ids.
type JobStore interface {
	// EnqueueJob saves the job and appends its id to the tail of the queue.
	EnqueueJob(ctx context.Context, job *domain.Job) error
	// RequeueJobFront saves the job and puts its id at the head of the queue.
	RequeueJobFront(ctx context.Context, job *domain.Job) error
	// PopJobID removes and returns the oldest id; ok is false when the queue is empty.
	PopJobID(ctx context.Context) (id string, ok bool, err error)
	SaveJob(ctx context.Context, job *domain.Job) error
	LoadJob(ctx context.Context, id string) (*domain.Job, error)
	QueueDepth(ctx context.Context) (int64, error)
}

// Store is the full storage surface of the relayer.
type Store interface {
	NonceStore
	IdempotencyStore
	JobStore

	Backend() string
	Ping(ctx context.Context) error
	Close() error
}
