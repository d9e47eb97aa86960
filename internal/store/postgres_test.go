package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remitchain/relayer-service/internal/domain"
)

// The PostgreSQL backend is only exercised when a disposable database is provided.
func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("RELAYER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAYER_TEST_DATABASE_URL not set")
	}

	runStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			t.Fatalf("pgxpool.New: %v", err)
		}
		s := NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema: %v", err)
		}
		for _, table := range []string{"relay_nonces", "relay_idempotency", "relay_jobs", "relay_queue"} {
			if _, err := pool.Exec(ctx, "TRUNCATE "+table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPostgresStore_RejectsNonceBeyondSafeRange(t *testing.T) {
	s := &PostgresStore{}
	for _, nonce := range []uint64{domain.MaxSafeInteger + 1, 1 << 63} {
		if _, err := s.SetNonceIfGreater(context.Background(), "S1", nonce); !errors.Is(err, ErrNonceOutOfRange) {
			t.Fatalf("nonce %d: expected ErrNonceOutOfRange, got %v", nonce, err)
		}
	}
}
