package app

import (
	"context"
	"errors"
	"testing"

	"github.com/remitchain/relayer-service/internal/store"
)

func TestDeadlineGate_Check(t *testing.T) {
	gate := NewDeadlineGate(&ledgerStub{height: 100})
	ctx := context.Background()

	tests := []struct {
		deadline uint64
		want     error
	}{
		{deadline: 150, want: nil},
		{deadline: 100, want: nil},
		{deadline: 99, want: ErrDeadlineExpired},
	}
	for _, tc := range tests {
		err := gate.Check(ctx, tc.deadline)
		if !errors.Is(err, tc.want) {
			t.Fatalf("deadline %d: expected %v, got %v", tc.deadline, tc.want, err)
		}
	}
}

func TestDeadlineGate_LedgerUnavailable(t *testing.T) {
	gate := NewDeadlineGate(&ledgerStub{heightErr: errLedgerDown})
	if err := gate.Check(context.Background(), 1<<40); !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestNonceLedger_StrictlyIncreasing(t *testing.T) {
	ledger := NewNonceLedger(store.NewMemoryStore())
	ctx := context.Background()

	if err := ledger.Accept(ctx, "S1", 0); !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected nonce 0 rejected, got %v", err)
	}
	for _, n := range []uint64{1, 2, 10} {
		if err := ledger.Accept(ctx, "S1", n); err != nil {
			t.Fatalf("Accept(%d): %v", n, err)
		}
	}
	for _, n := range []uint64{10, 9} {
		if err := ledger.Accept(ctx, "S1", n); !errors.Is(err, ErrInvalidNonce) {
			t.Fatalf("Accept(%d): expected ErrInvalidNonce, got %v", n, err)
		}
	}
	if current, _ := ledger.Current(ctx, "S1"); current != 10 {
		t.Fatalf("expected current nonce 10, got %d", current)
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsRejection(ErrInvalidNonce) || IsRetryable(ErrInvalidNonce) {
		t.Fatal("expected invalid nonce to be a final rejection")
	}
	if IsRejection(ErrIdempotencyInFlight) || !IsRetryable(ErrIdempotencyInFlight) {
		t.Fatal("expected in-flight duplicate to be retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
}
