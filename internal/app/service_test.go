package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/remitchain/relayer-service/internal/catalog"
	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/metrics"
)

func TestSubmit_ValidRequestIsQueuedThenSubmitted(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()

	result, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 150)})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if result.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", result.StatusCode)
	}
	resp := decodeSubmitResponse(t, result.Body)
	if !resp.OK || resp.Status != domain.JobStatusQueued || resp.RelayerID != result.JobID {
		t.Fatalf("unexpected response %+v", resp)
	}

	job, err := r.svc.Status(ctx, result.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if job.Status != domain.JobStatusQueued || job.Attempts != 0 {
		t.Fatalf("expected fresh queued job, got %+v", job)
	}

	r.ledger.txHash = "0xabc"
	if outcome := r.worker.Tick(ctx); outcome != TickSubmitted {
		t.Fatalf("expected tick outcome %q, got %q", TickSubmitted, outcome)
	}
	job, err = r.svc.Status(ctx, result.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if job.Status != domain.JobStatusSubmitted || job.TxHash != "0xabc" {
		t.Fatalf("expected submitted job with hash, got %+v", job)
	}
	if outcome := r.worker.Tick(ctx); outcome != TickIdle {
		t.Fatalf("expected idle tick after submission, got %q", outcome)
	}
	again, err := r.svc.Status(ctx, result.JobID)
	if err != nil || again.Status != job.Status || again.TxHash != job.TxHash {
		t.Fatalf("expected stable terminal status, got %+v (%v)", again, err)
	}

	current, next, err := r.svc.Nonce(ctx, wallet.address)
	if err != nil {
		t.Fatalf("Nonce: %v", err)
	}
	if current != 1 || next != 2 {
		t.Fatalf("expected nonce 1/2, got %d/%d", current, next)
	}

	want := []string{EventJobQueued, EventJobSubmitted}
	got := r.publisher.routingKeys()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestSubmit_ReplayedNonceIsRejected(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()
	req := wallet.signedRequest(t, testSigning, "100", 1, 150)

	if _, err := r.svc.Submit(ctx, SubmitInput{Request: req}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := r.svc.Submit(ctx, SubmitInput{Request: req})
	if !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce, got %v", err)
	}
	if depth := queueDepth(t, r.store); depth != 1 {
		t.Fatalf("expected a single queued job, got %d", depth)
	}
}

func TestSubmit_LowerNonceAfterHigherIsRejected(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()

	if _, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 5, 150)}); err != nil {
		t.Fatalf("Submit nonce 5: %v", err)
	}
	_, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 3, 150)})
	if !errors.Is(err, ErrInvalidNonce) {
		t.Fatalf("expected ErrInvalidNonce, got %v", err)
	}
}

func TestSubmit_ConcurrentEqualNoncesAcceptExactlyOne(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()
	req := wallet.signedRequest(t, testSigning, "100", 7, 150)

	const callers = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		invalid  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.svc.Submit(ctx, SubmitInput{Request: req})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrInvalidNonce):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || invalid != callers-1 {
		t.Fatalf("expected 1 accepted and %d invalid, got %d/%d", callers-1, accepted, invalid)
	}
}

func TestSubmit_ExpiredDeadlineIsRejected(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)

	_, err := r.svc.Submit(context.Background(), SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 99)})
	if !errors.Is(err, ErrDeadlineExpired) {
		t.Fatalf("expected ErrDeadlineExpired, got %v", err)
	}
	current, _, _ := r.svc.Nonce(context.Background(), wallet.address)
	if current != 0 {
		t.Fatalf("expected nonce untouched after rejection, got %d", current)
	}
}

func TestSubmit_DeadlineAtCurrentHeightIsAccepted(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)

	if _, err := r.svc.Submit(context.Background(), SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 100)}); err != nil {
		t.Fatalf("expected deadline equal to height to pass, got %v", err)
	}
}

func TestSubmit_LedgerDownIsUnavailableNotAccepted(t *testing.T) {
	r := newTestRelayer(t, nil)
	r.ledger.heightErr = errLedgerDown
	wallet := newTestWallet(t)
	ctx := context.Background()
	req := wallet.signedRequest(t, testSigning, "100", 1, 150)

	_, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k-ledger", Request: req})
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
	if !IsRetryable(err) {
		t.Fatal("expected ledger outage to be retryable")
	}

	// The idempotency key must be free again so the client can retry.
	r.ledger.heightErr = nil
	if _, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k-ledger", Request: req}); err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
}

func TestSubmit_InvalidSignatureAndMissingProof(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()

	tampered := wallet.signedRequest(t, testSigning, "100", 1, 150)
	tampered.Amount = "1000"
	if _, err := r.svc.Submit(ctx, SubmitInput{Request: tampered}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	unsigned := wallet.signedRequest(t, testSigning, "100", 1, 150)
	unsigned.Signature = ""
	if _, err := r.svc.Submit(ctx, SubmitInput{Request: unsigned}); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("expected ErrProofRequired, got %v", err)
	}

	missing := unsigned
	missing.To = " "
	if _, err := r.svc.Submit(ctx, SubmitInput{Request: missing}); !errors.Is(err, domain.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if depth := queueDepth(t, r.store); depth != 0 {
		t.Fatalf("expected no jobs after rejections, got %d", depth)
	}
}

func TestSubmit_WithoutSignatureEnforcement(t *testing.T) {
	r := newTestRelayer(t, func(o *Options, _ *WorkerOptions, _ *Dependencies) {
		o.RequireSignature = false
	})
	r.ledger.heightErr = errLedgerDown

	req := domain.RemittanceRequest{From: "S1", To: "R1", Amount: "100", AssetID: "USDC", Corridor: "mx"}
	result, err := r.svc.Submit(context.Background(), SubmitInput{Request: req})
	if err != nil {
		t.Fatalf("expected unsigned request to be accepted, got %v", err)
	}
	if result.JobID == "" {
		t.Fatal("expected a job id")
	}
}

func TestSubmit_IdempotentReplayReturnsIdenticalBody(t *testing.T) {
	r := newTestRelayer(t, func(_ *Options, _ *WorkerOptions, d *Dependencies) { d.Metrics = metrics.New() })
	wallet := newTestWallet(t)
	ctx := context.Background()
	req := wallet.signedRequest(t, testSigning, "100", 1, 150)

	first, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k1", Request: req})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k1", Request: req})
	if err != nil {
		t.Fatalf("replayed Submit: %v", err)
	}

	if !second.Replayed {
		t.Fatal("expected second submission to be a replay")
	}
	if second.StatusCode != first.StatusCode || string(second.Body) != string(first.Body) {
		t.Fatalf("expected identical response, got %d %s vs %d %s", second.StatusCode, second.Body, first.StatusCode, first.Body)
	}
	if depth := queueDepth(t, r.store); depth != 1 {
		t.Fatalf("expected exactly one job, got %d", depth)
	}
}

func TestSubmit_IdempotencyKeyWithDifferentPayloadConflicts(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()

	if _, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k1", Request: wallet.signedRequest(t, testSigning, "100", 1, 150)}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	_, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k1", Request: wallet.signedRequest(t, testSigning, "200", 2, 150)})
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
	current, _, _ := r.svc.Nonce(ctx, wallet.address)
	if current != 1 {
		t.Fatalf("expected conflicting request to leave nonce at 1, got %d", current)
	}
}

func TestSubmit_RejectionReleasesIdempotencyKey(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	ctx := context.Background()

	expired := wallet.signedRequest(t, testSigning, "100", 1, 10)
	if _, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k2", Request: expired}); !errors.Is(err, ErrDeadlineExpired) {
		t.Fatalf("expected ErrDeadlineExpired, got %v", err)
	}
	fixed := wallet.signedRequest(t, testSigning, "100", 1, 150)
	if _, err := r.svc.Submit(ctx, SubmitInput{IdempotencyKey: "k2", Request: fixed}); err != nil {
		t.Fatalf("expected key to be reusable after rejection, got %v", err)
	}
}

func TestSubmit_CatalogValidation(t *testing.T) {
	cat, err := catalog.New(
		[]catalog.Asset{{ID: "USDC", Decimals: 2}},
		[]catalog.Corridor{{ID: "mx", Assets: []string{"USDC"}}},
	)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	r := newTestRelayer(t, func(_ *Options, _ *WorkerOptions, d *Dependencies) { d.Catalog = cat })
	wallet := newTestWallet(t)
	ctx := context.Background()

	if _, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "10.001", 1, 150)}); !errors.Is(err, catalog.ErrPrecisionExceeded) {
		t.Fatalf("expected ErrPrecisionExceeded, got %v", err)
	}
	if _, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "-1", 1, 150)}); !errors.Is(err, catalog.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "10.50", 1, 150)}); err != nil {
		t.Fatalf("expected valid amount to pass, got %v", err)
	}
}

type denyLimiter struct{ retryAfter time.Duration }

func (d denyLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	return false, d.retryAfter, nil
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, subject string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis: connection refused")
}

func TestSubmit_RateLimited(t *testing.T) {
	r := newTestRelayer(t, func(_ *Options, _ *WorkerOptions, d *Dependencies) {
		d.RateLimiter = denyLimiter{retryAfter: 30 * time.Second}
	})
	wallet := newTestWallet(t)

	_, err := r.svc.Submit(context.Background(), SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 150)})
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfter != 30*time.Second {
		t.Fatalf("expected RateLimitError with 30s, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) || !IsRejection(err) {
		t.Fatalf("expected rate limit to be a rejection, got %v", err)
	}
}

func TestSubmit_RateLimiterFailureAllowsRequest(t *testing.T) {
	r := newTestRelayer(t, func(_ *Options, _ *WorkerOptions, d *Dependencies) {
		d.RateLimiter = brokenLimiter{}
	})
	wallet := newTestWallet(t)

	if _, err := r.svc.Submit(context.Background(), SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 150)}); err != nil {
		t.Fatalf("expected request to pass when limiter is down, got %v", err)
	}
}

func TestSubmit_ForgedRequestsDoNotSpendSenderAllowance(t *testing.T) {
	r := newTestRelayer(t, func(_ *Options, _ *WorkerOptions, d *Dependencies) {
		d.RateLimiter = NewLocalRateLimiter(3)
	})
	wallet := newTestWallet(t)
	ctx := context.Background()

	forged := wallet.signedRequest(t, testSigning, "100", 1, 150)
	forged.Amount = "999"
	for i := 0; i < 3; i++ {
		if _, err := r.svc.Submit(ctx, SubmitInput{Request: unsignedRequest(wallet.address)}); !errors.Is(err, ErrProofRequired) {
			t.Fatalf("unsigned %d: expected ErrProofRequired, got %v", i, err)
		}
		if _, err := r.svc.Submit(ctx, SubmitInput{Request: forged}); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("forged %d: expected ErrInvalidSignature, got %v", i, err)
		}
	}

	if _, err := r.svc.Submit(ctx, SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 150)}); err != nil {
		t.Fatalf("expected the sender's signed request to be accepted, got %v", err)
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	r := newTestRelayer(t, nil)
	_, err := r.svc.Status(context.Background(), "relayer_missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChainHead(t *testing.T) {
	r := newTestRelayer(t, nil)
	height, err := r.svc.ChainHead(context.Background())
	if err != nil || height != 100 {
		t.Fatalf("expected height 100, got %d (%v)", height, err)
	}

	r.ledger.heightErr = errLedgerDown
	if _, err := r.svc.ChainHead(context.Background()); !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("expected ErrLedgerUnavailable, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	r := newTestRelayer(t, nil)
	wallet := newTestWallet(t)
	if _, err := r.svc.Submit(context.Background(), SubmitInput{Request: wallet.signedRequest(t, testSigning, "100", 1, 150)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	report := r.svc.Health(context.Background())
	if report.Status != "ready" || !report.Chain.OK || report.Chain.Block == nil || *report.Chain.Block != 100 {
		t.Fatalf("unexpected healthy report %+v", report)
	}
	if report.Store.Backend != "memory" || report.QueueDepth != 1 || !report.RequireSignature {
		t.Fatalf("unexpected store section %+v", report)
	}

	r.ledger.heightErr = errLedgerDown
	report = r.svc.Health(context.Background())
	if report.Status != "degraded" || report.Chain.OK || report.Chain.Error == "" {
		t.Fatalf("expected degraded report, got %+v", report)
	}
}

func TestHealth_DisconnectedLedgerIsDegraded(t *testing.T) {
	r := newTestRelayer(t, nil)
	r.ledger.disconnected = true

	report := r.svc.Health(context.Background())
	if report.Status != "degraded" || report.Chain.OK || report.Chain.Connected {
		t.Fatalf("expected degraded report while disconnected, got %+v", report)
	}
	if report.Chain.Block == nil || *report.Chain.Block != 100 {
		t.Fatalf("expected last known block to be reported, got %+v", report.Chain)
	}
	if report.Chain.Error == "" {
		t.Fatal("expected an error describing the dropped connection")
	}
}

