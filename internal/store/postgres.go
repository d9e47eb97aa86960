/**
 * @description
 * PostgreSQL implementation of the `Store` interface, for deployments that want the
 * relayer state durable across Redis restarts. Every compare-and-write runs as a single
 * statement (`INSERT ... ON CONFLICT ... WHERE ... RETURNING`) so concurrent relayer
 * instances cannot race, and the queue is popped with `FOR UPDATE SKIP LOCKED`.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remitchain/relayer-service/internal/domain"
)

// Queue priorities; lower pops first.
const (
	queuePriorityFront = 0
	queuePriorityTail  = 1
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS relay_nonces (
		sender     TEXT PRIMARY KEY,
		value      BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS relay_idempotency (
		key        TEXT PRIMARY KEY,
		record     JSONB NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS relay_jobs (
		id         TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		record     JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS relay_queue (
		seq      BIGSERIAL PRIMARY KEY,
		job_id   TEXT NOT NULL,
		priority SMALLINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS relay_queue_order_idx ON relay_queue (priority, seq)`,
}

// PostgresStore is a concrete implementation of the Store interface for PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new instance of PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the relayer tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Backend() string { return BackendPostgres }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func (s *PostgresStore) SetNonceIfGreater(ctx context.Context, sender string, nonce uint64) (bool, error) {
	// The implicit stored value is 0, so 0 can never be accepted.
	if nonce == 0 {
		return false, nil
	}
	if err := checkNonce(nonce); err != nil {
		return false, err
	}

	query := `
		INSERT INTO relay_nonces (sender, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (sender) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
		WHERE relay_nonces.value < EXCLUDED.value
		RETURNING value
	`
	var stored int64
	err := s.db.QueryRow(ctx, query, sender, int64(nonce)).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) CurrentNonce(ctx context.Context, sender string) (uint64, error) {
	var value int64
	err := s.db.QueryRow(ctx, `SELECT value FROM relay_nonces WHERE sender = $1`, sender).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(value), nil
}

func (s *PostgresStore) ReserveIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) (*domain.IdempotencyRecord, bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, err
	}

	insert := `
		INSERT INTO relay_idempotency (key, record, expires_at)
		VALUES ($1, $2, now() + ($3 * interval '1 second'))
		ON CONFLICT (key) DO UPDATE
		SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at
		WHERE relay_idempotency.expires_at <= now()
		RETURNING key
	`
	for i := 0; i < 3; i++ {
		var reservedKey string
		err := s.db.QueryRow(ctx, insert, key, string(data), ttl.Seconds()).Scan(&reservedKey)
		if err == nil {
			return nil, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, err
		}

		var raw []byte
		err = s.db.QueryRow(ctx, `SELECT record FROM relay_idempotency WHERE key = $1 AND expires_at > now()`, key).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		var existing domain.IdempotencyRecord
		if err := json.Unmarshal(raw, &existing); err != nil {
			return nil, false, fmt.Errorf("corrupt idempotency record %s: %w", key, err)
		}
		return &existing, false, nil
	}
	return nil, false, fmt.Errorf("idempotency key %s kept expiring during reservation", key)
}

func (s *PostgresStore) CompleteIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO relay_idempotency (key, record, expires_at)
		VALUES ($1, $2, now() + ($3 * interval '1 second'))
		ON CONFLICT (key) DO UPDATE
		SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at
	`
	_, err = s.db.Exec(ctx, query, key, string(data), ttl.Seconds())
	return err
}

func (s *PostgresStore) ReleaseIdempotency(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM relay_idempotency WHERE key = $1`, key)
	return err
}

const upsertJobQuery = `
	INSERT INTO relay_jobs (id, status, record, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE
	SET status = EXCLUDED.status, record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
`

func (s *PostgresStore) pushJob(ctx context.Context, job *domain.Job, priority int) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertJobQuery, job.ID, job.Status, string(data), job.CreatedAt, job.UpdatedAt); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO relay_queue (job_id, priority) VALUES ($1, $2)`, job.ID, priority); err != nil {
			return fmt.Errorf("queue job: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, job *domain.Job) error {
	return s.pushJob(ctx, job, queuePriorityTail)
}

func (s *PostgresStore) RequeueJobFront(ctx context.Context, job *domain.Job) error {
	return s.pushJob(ctx, job, queuePriorityFront)
}

func (s *PostgresStore) PopJobID(ctx context.Context) (string, bool, error) {
	query := `
		DELETE FROM relay_queue
		WHERE seq = (
			SELECT seq FROM relay_queue
			ORDER BY priority, seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING job_id
	`
	var id string
	err := s.db.QueryRow(ctx, query).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, upsertJobQuery, job.ID, job.Status, string(data), job.CreatedAt, job.UpdatedAt)
	return err
}

func (s *PostgresStore) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT record FROM relay_jobs WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("corrupt job record %s: %w", id, err)
	}
	return &job, nil
}

func (s *PostgresStore) QueueDepth(ctx context.Context) (int64, error) {
	var depth int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM relay_queue`).Scan(&depth)
	return depth, err
}
