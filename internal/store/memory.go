package store

import (
	"context"
	"sync"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
)

// idempotencySweepInterval spaces out the scans for expired idempotency keys.
const idempotencySweepInterval = time.Minute

type memoryIdempotencyEntry struct {
	record    domain.IdempotencyRecord
	expiresAt time.Time
}

// MemoryStore is the process-local backend. It is only valid for a single relayer
// instance; state is lost on restart.
type MemoryStore struct {
	mu          sync.Mutex
	nonces      map[string]uint64
	idempotency map[string]memoryIdempotencyEntry
	jobs        map[string]domain.Job
	queue       []string
	lastSweep   time.Time
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nonces:      make(map[string]uint64),
		idempotency: make(map[string]memoryIdempotencyEntry),
		jobs:        make(map[string]domain.Job),
		now:         time.Now,
	}
}

func (m *MemoryStore) Backend() string { return BackendMemory }

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SetNonceIfGreater(ctx context.Context, sender string, nonce uint64) (bool, error) {
	if err := checkNonce(nonce); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if nonce <= m.nonces[sender] {
		return false, nil
	}
	m.nonces[sender] = nonce
	return true, nil
}

func (m *MemoryStore) CurrentNonce(ctx context.Context, sender string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[sender], nil
}

func (m *MemoryStore) ReserveIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) (*domain.IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepIdempotency(now)
	if entry, ok := m.idempotency[key]; ok && now.Before(entry.expiresAt) {
		existing := entry.record
		return &existing, false, nil
	}
	m.idempotency[key] = memoryIdempotencyEntry{record: rec, expiresAt: now.Add(ttl)}
	return nil, true, nil
}

// sweepIdempotency drops expired keys. Callers hold m.mu.
func (m *MemoryStore) sweepIdempotency(now time.Time) {
	if now.Sub(m.lastSweep) < idempotencySweepInterval {
		return
	}
	m.lastSweep = now
	for key, entry := range m.idempotency {
		if !now.Before(entry.expiresAt) {
			delete(m.idempotency, key)
		}
	}
}

func (m *MemoryStore) CompleteIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[key] = memoryIdempotencyEntry{record: rec, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

func (m *MemoryStore) EnqueueJob(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	m.queue = append(m.queue, job.ID)
	return nil
}

func (m *MemoryStore) RequeueJobFront(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	m.queue = append([]string{job.ID}, m.queue...)
	return nil
}

func (m *MemoryStore) PopJobID(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return "", false, nil
	}
	id := m.queue[0]
	m.queue[0] = ""
	m.queue = m.queue[1:]
	return id, true, nil
}

func (m *MemoryStore) SaveJob(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

// LoadJob returns a copy so callers can mutate it without touching stored state.
func (m *MemoryStore) LoadJob(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &job, nil
}

func (m *MemoryStore) QueueDepth(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.queue)), nil
}
