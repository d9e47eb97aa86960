package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/store"
)

func TestPayloadHash_StableAndSensitive(t *testing.T) {
	nonce := uint64(1)
	a := domain.NormalizedPayload{From: "S1", To: "R1", Amount: "100", AssetID: "USDC", Corridor: "mx", Nonce: &nonce}
	b := a
	b.Amount = "100.0"

	h1, err := PayloadHash(a)
	if err != nil {
		t.Fatalf("PayloadHash: %v", err)
	}
	h2, _ := PayloadHash(a)
	h3, _ := PayloadHash(b)
	if h1 != h2 {
		t.Fatal("expected equal payloads to hash equally")
	}
	if h1 == h3 {
		t.Fatal("expected different amounts to hash differently")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %q", h1)
	}
}

func TestIdempotencyCache_Lifecycle(t *testing.T) {
	cache := NewIdempotencyCache(store.NewMemoryStore(), time.Hour, time.Minute)
	ctx := context.Background()

	replay, res, err := cache.Begin(ctx, "k1", "h1")
	if err != nil || replay != nil || res == nil {
		t.Fatalf("expected fresh reservation, got %v %v %v", replay, res, err)
	}

	if _, _, err := cache.Begin(ctx, "k1", "h1"); !errors.Is(err, ErrIdempotencyInFlight) {
		t.Fatalf("expected ErrIdempotencyInFlight, got %v", err)
	}
	if _, _, err := cache.Begin(ctx, "k1", "h2"); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}

	body := []byte(`{"ok":true,"relayerId":"relayer_1","status":"queued"}`)
	if err := res.Complete(ctx, http.StatusAccepted, body); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	replay, res, err = cache.Begin(ctx, "k1", "h1")
	if err != nil || res != nil || replay == nil {
		t.Fatalf("expected replay, got %v %v %v", replay, res, err)
	}
	if replay.StatusCode != http.StatusAccepted || string(replay.Response) != string(body) {
		t.Fatalf("unexpected replay %+v", replay)
	}
}

func TestIdempotencyCache_ReleaseFreesKey(t *testing.T) {
	cache := NewIdempotencyCache(store.NewMemoryStore(), time.Hour, time.Minute)
	ctx := context.Background()

	_, res, err := cache.Begin(ctx, "k1", "h1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := res.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, res, err := cache.Begin(ctx, "k1", "h2"); err != nil || res == nil {
		t.Fatalf("expected key free for a new payload, got %v", err)
	}
}

func TestIdempotencyCache_NoKey(t *testing.T) {
	cache := NewIdempotencyCache(store.NewMemoryStore(), time.Hour, time.Minute)
	replay, res, err := cache.Begin(context.Background(), "  ", "h1")
	if replay != nil || res != nil || err != nil {
		t.Fatalf("expected no-op for blank key, got %v %v %v", replay, res, err)
	}
	// A nil reservation is safe to complete and release.
	if err := res.Complete(context.Background(), http.StatusAccepted, nil); err != nil {
		t.Fatalf("Complete on nil reservation: %v", err)
	}
	if err := res.Release(context.Background()); err != nil {
		t.Fatalf("Release on nil reservation: %v", err)
	}
}

// ttlRecorder captures the expiry each idempotency write asks for.
type ttlRecorder struct {
	*store.MemoryStore
	reserveTTL  time.Duration
	completeTTL time.Duration
}

func (r *ttlRecorder) ReserveIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) (*domain.IdempotencyRecord, bool, error) {
	r.reserveTTL = ttl
	return r.MemoryStore.ReserveIdempotency(ctx, key, rec, ttl)
}

func (r *ttlRecorder) CompleteIdempotency(ctx context.Context, key string, rec domain.IdempotencyRecord, ttl time.Duration) error {
	r.completeTTL = ttl
	return r.MemoryStore.CompleteIdempotency(ctx, key, rec, ttl)
}

func TestIdempotencyCache_PendingClaimIsShortLived(t *testing.T) {
	rec := &ttlRecorder{MemoryStore: store.NewMemoryStore()}
	cache := NewIdempotencyCache(rec, time.Hour, 40*time.Second)
	ctx := context.Background()

	_, res, err := cache.Begin(ctx, "k1", "h1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if rec.reserveTTL != 40*time.Second {
		t.Fatalf("expected pending claim to expire after 40s, got %v", rec.reserveTTL)
	}
	if err := res.Complete(ctx, http.StatusAccepted, []byte(`{}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if rec.completeTTL != time.Hour {
		t.Fatalf("expected completed response kept for 1h, got %v", rec.completeTTL)
	}
}

func TestNewIdempotencyCache_PendingTTLFallsBackToTTL(t *testing.T) {
	for _, pending := range []time.Duration{0, 2 * time.Hour} {
		cache := NewIdempotencyCache(store.NewMemoryStore(), time.Hour, pending)
		if cache.pendingTTL != time.Hour {
			t.Fatalf("pending %v: expected fallback to 1h, got %v", pending, cache.pendingTTL)
		}
	}
}
