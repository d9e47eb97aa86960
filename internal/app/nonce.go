package app

import (
	"context"
	"fmt"

	"github.com/remitchain/relayer-service/internal/store"
)

// NonceLedger enforces strictly increasing nonces per sender.
type NonceLedger struct {
	store store.NonceStore
}

func NewNonceLedger(s store.NonceStore) *NonceLedger {
	return &NonceLedger{store: s}
}

// Accept records nonce for sender when it is greater than every nonce seen before.
func (l *NonceLedger) Accept(ctx context.Context, sender string, nonce uint64) error {
	ok, err := l.store.SetNonceIfGreater(ctx, sender, nonce)
	if err != nil {
		return fmt.Errorf("nonce check: %w", err)
	}
	if !ok {
		return ErrInvalidNonce
	}
	return nil
}

func (l *NonceLedger) Current(ctx context.Context, sender string) (uint64, error) {
	return l.store.CurrentNonce(ctx, sender)
}
