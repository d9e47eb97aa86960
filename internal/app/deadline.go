package app

import (
	"context"
	"fmt"
)

// HeightSource reports the ledger's current block number.
type HeightSource interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
}

// DeadlineGate rejects requests whose deadline block has already passed.
type DeadlineGate struct {
	heights HeightSource
}

func NewDeadlineGate(heights HeightSource) *DeadlineGate {
	return &DeadlineGate{heights: heights}
}

// Check accepts iff deadline >= current height. A ledger that cannot be reached is
// reported as ErrLedgerUnavailable, never as an accept.
func (g *DeadlineGate) Check(ctx context.Context, deadline uint64) error {
	height, err := g.heights.CurrentBlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if deadline < height {
		return fmt.Errorf("%w: deadline %d is behind block %d", ErrDeadlineExpired, deadline, height)
	}
	return nil
}
