package app

import (
	"errors"

	"github.com/remitchain/relayer-service/internal/catalog"
	"github.com/remitchain/relayer-service/internal/domain"
)

var (
	ErrProofRequired       = errors.New("signature, nonce, deadline and chainId required")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrDeadlineExpired     = errors.New("deadline expired")
	ErrInvalidNonce        = errors.New("invalid nonce")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
	ErrIdempotencyInFlight = errors.New("idempotency key in flight")
	ErrRateLimited         = errors.New("rate limited")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrMissingCallArg      = errors.New("missing extrinsic arg")
	ErrInvalidChainID      = errors.New("invalid chainId")
)

var rejections = []error{
	domain.ErrMissingFields,
	domain.ErrInvalidNumber,
	catalog.ErrInvalidAmount,
	catalog.ErrUnsupportedAsset,
	catalog.ErrUnsupportedCorridor,
	catalog.ErrPrecisionExceeded,
	ErrProofRequired,
	ErrInvalidSignature,
	ErrDeadlineExpired,
	ErrInvalidNonce,
	ErrIdempotencyConflict,
	ErrRateLimited,
}

// IsRejection reports whether err is a final verdict on the request itself; sending the
// same request again cannot succeed.
func IsRejection(err error) bool {
	for _, target := range rejections {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the same request may succeed later: the ledger was
// unreachable, a duplicate is still being processed, or infrastructure failed.
func IsRetryable(err error) bool {
	return err != nil && !IsRejection(err)
}
