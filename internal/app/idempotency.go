package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/store"
	"golang.org/x/crypto/blake2b"
)

// PayloadHash fingerprints a normalized payload: BLAKE2b-256 over its JSON encoding.
// Field order is fixed by the struct, so equal payloads always hash equally.
func PayloadHash(p domain.NormalizedPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyCache deduplicates client retries keyed by the Idempotency-Key header.
// A pending claim lives for pendingTTL so a crashed request frees its key quickly;
// completed responses are kept for ttl.
type IdempotencyCache struct {
	store      store.IdempotencyStore
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotencyCache(s store.IdempotencyStore, ttl, pendingTTL time.Duration) *IdempotencyCache {
	if pendingTTL <= 0 || pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &IdempotencyCache{store: s, ttl: ttl, pendingTTL: pendingTTL}
}

// Reservation is the pending claim on a key held while a request is processed.
// A nil Reservation (no key supplied) is valid and does nothing.
type Reservation struct {
	cache *IdempotencyCache
	key   string
	hash  string
}

// Begin claims key for a payload with the given hash. It returns the stored record when
// an identical request already completed, ErrIdempotencyConflict for a different payload
// and ErrIdempotencyInFlight while the first request is still pending.
func (c *IdempotencyCache) Begin(ctx context.Context, key, hash string) (*domain.IdempotencyRecord, *Reservation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil, nil
	}
	pending := domain.IdempotencyRecord{PayloadHash: hash, State: domain.IdempotencyPending}
	existing, reserved, err := c.store.ReserveIdempotency(ctx, key, pending, c.pendingTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("idempotency reserve: %w", err)
	}
	if reserved {
		return nil, &Reservation{cache: c, key: key, hash: hash}, nil
	}
	if existing.PayloadHash != hash {
		return nil, nil, ErrIdempotencyConflict
	}
	if existing.State != domain.IdempotencyComplete {
		return nil, nil, ErrIdempotencyInFlight
	}
	return existing, nil, nil
}

// Complete stores the final response so retries replay it verbatim.
func (r *Reservation) Complete(ctx context.Context, statusCode int, body json.RawMessage) error {
	if r == nil {
		return nil
	}
	rec := domain.IdempotencyRecord{
		PayloadHash: r.hash,
		State:       domain.IdempotencyComplete,
		StatusCode:  statusCode,
		Response:    body,
	}
	return r.cache.store.CompleteIdempotency(ctx, r.key, rec, r.cache.ttl)
}

// Release drops the claim so the client may retry after a rejection.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.cache.store.ReleaseIdempotency(ctx, r.key)
}
