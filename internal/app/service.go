/**
 * @description
 * This file contains the intake side of the relayer. The `Service` validates a
 * remittance request, enforces idempotency, signature, deadline and nonce rules, and
 * turns accepted requests into queued submission jobs. It also serves the read-only
 * queries (job status, nonce, chain head, health).
 *
 * Key features:
 * - Idempotency keys are reserved before any side effect and released on rejection.
 * - Signature, deadline and nonce checks only apply while enforcement is enabled.
 * - Job events are published to RabbitMQ for downstream consumers.
 *
 * @dependencies
 * - internal/domain, internal/store, internal/catalog, internal/metrics.
 * - pkg/ledgerclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/remitchain/relayer-service/internal/catalog"
	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/internal/metrics"
	"github.com/remitchain/relayer-service/internal/store"
	"github.com/remitchain/relayer-service/pkg/ledgerclient"
	"github.com/remitchain/relayer-service/pkg/rabbitmq"
)

// Intake sources, used as a metrics label.
const (
	SourceHTTP = "http"
	SourceAMQP = "amqp"
)

const healthCheckTimeout = 5 * time.Second

// Ledger is the part of the ledger connection manager the relayer depends on.
type Ledger interface {
	HeightSource
	Submit(ctx context.Context, call ledgerclient.Call) (string, error)
	IsConnected() bool
	Endpoint() string
	SignerAddress() string
}

// Options are the intake rules. PendingIdempotencyTTL falls back to IdempotencyTTL.
type Options struct {
	RequireSignature      bool
	IdempotencyTTL        time.Duration
	PendingIdempotencyTTL time.Duration
	RequeuePolicy         string
}

// Dependencies are the collaborators of the Service. Catalog, RateLimiter, Publisher
// and Metrics are optional.
type Dependencies struct {
	Store       store.Store
	Ledger      Ledger
	Verifier    SignatureVerifier
	Catalog     *catalog.Catalog
	RateLimiter RateLimiter
	Publisher   rabbitmq.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Service provides the core business logic for relaying remittances.
type Service struct {
	opts        Options
	store       store.Store
	ledger      Ledger
	verifier    SignatureVerifier
	catalog     *catalog.Catalog
	limiter     RateLimiter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	idempotency *IdempotencyCache
	nonces      *NonceLedger
	deadlines   *DeadlineGate
	queue       *JobQueue
	events      eventSink
}

// NewService creates a new relayer service instance.
func NewService(deps Dependencies, opts Options) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "app")
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = noopRateLimiter{}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		opts:        opts,
		store:       deps.Store,
		ledger:      deps.Ledger,
		verifier:    deps.Verifier,
		catalog:     deps.Catalog,
		limiter:     limiter,
		metrics:     deps.Metrics,
		logger:      logger,
		idempotency: NewIdempotencyCache(deps.Store, opts.IdempotencyTTL, opts.PendingIdempotencyTTL),
		nonces:      NewNonceLedger(deps.Store),
		deadlines:   NewDeadlineGate(deps.Ledger),
		queue:       NewJobQueue(deps.Store, opts.RequeuePolicy),
		events:      eventSink{publisher: publisher, logger: logger},
	}
}

// Queue exposes the job queue so the worker shares it.
func (s *Service) Queue() *JobQueue { return s.queue }

// SubmitInput is one remittance request as received from a transport.
type SubmitInput struct {
	IdempotencyKey string
	Request        domain.RemittanceRequest
	Source         string
}

// SubmitResult is the response to return to the client. Replayed results come from
// the idempotency cache and carry the original status code and body.
type SubmitResult struct {
	StatusCode int
	Body       json.RawMessage
	Replayed   bool
	JobID      string
}

// Submit runs the intake pipeline and queues a job for an accepted request.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	source := in.Source
	if source == "" {
		source = SourceHTTP
	}
	result, err := s.submit(ctx, in)
	switch {
	case err == nil && result.Replayed:
		s.metrics.RecordIntake(source, "replayed")
	case err == nil:
		s.metrics.RecordIntake(source, "accepted")
	case IsRejection(err):
		s.metrics.RecordIntake(source, "rejected")
	default:
		s.metrics.RecordIntake(source, "error")
	}
	return result, err
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	payload, err := in.Request.Normalize()
	if err != nil {
		return nil, err
	}
	hash, err := PayloadHash(payload)
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	replay, reservation, err := s.idempotency.Begin(ctx, in.IdempotencyKey, hash)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return &SubmitResult{StatusCode: replay.StatusCode, Body: replay.Response, Replayed: true}, nil
	}

	job, err := s.admit(ctx, payload)
	if err != nil {
		if releaseErr := reservation.Release(ctx); releaseErr != nil {
			s.logger.Warn("idempotency release failed", "key", in.IdempotencyKey, "error", releaseErr)
		}
		return nil, err
	}

	body, err := json.Marshal(domain.SubmitResponse{OK: true, RelayerID: job.ID, Status: job.Status})
	if err != nil {
		return nil, err
	}
	if err := reservation.Complete(ctx, http.StatusAccepted, body); err != nil {
		// The job is queued; a retry with this key would now be reported as in flight.
		s.logger.Warn("idempotency completion failed", "key", in.IdempotencyKey, "job_id", job.ID, "error", err)
	}
	return &SubmitResult{StatusCode: http.StatusAccepted, Body: body, JobID: job.ID}, nil
}

// admit validates the payload, consumes its nonce and queues the job.
func (s *Service) admit(ctx context.Context, payload domain.NormalizedPayload) (*domain.Job, error) {
	if err := s.catalog.Validate(payload.Amount, payload.AssetID, payload.Corridor); err != nil {
		return nil, err
	}

	if s.opts.RequireSignature {
		if !payload.HasProof() {
			return nil, ErrProofRequired
		}
		if !s.verifier.Verify(payload) {
			return nil, ErrInvalidSignature
		}
	}

	// Charged only once the sender is proven, so forged requests cannot spend a
	// victim's allowance.
	allowed, retryAfter, err := s.limiter.Allow(ctx, payload.From)
	if err != nil {
		s.logger.Warn("rate limiter unavailable; allowing request", "sender", payload.From, "error", err)
	} else if !allowed {
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	if s.opts.RequireSignature {
		if err := s.deadlines.Check(ctx, *payload.Deadline); err != nil {
			return nil, err
		}
		if err := s.nonces.Accept(ctx, payload.From, *payload.Nonce); err != nil {
			return nil, err
		}
	}

	job := s.queue.NewJob(payload)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	s.metrics.RecordTransition(domain.JobStatusQueued)
	s.logger.Info("job queued", "job_id", job.ID, "sender", payload.From, "asset", payload.AssetID, "corridor", payload.Corridor)
	s.events.publish(ctx, EventJobQueued, job)
	return job, nil
}

// RateLimitError carries how long the sender should wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Status returns the job record for id, or store.ErrJobNotFound.
func (s *Service) Status(ctx context.Context, id string) (*domain.Job, error) {
	return s.queue.Load(ctx, id)
}

// Nonce returns the highest accepted nonce for address and the next usable one.
func (s *Service) Nonce(ctx context.Context, address string) (current, next uint64, err error) {
	current, err = s.nonces.Current(ctx, address)
	if err != nil {
		return 0, 0, err
	}
	return current, current + 1, nil
}

// ChainHead returns the ledger's current block number.
func (s *Service) ChainHead(ctx context.Context) (uint64, error) {
	height, err := s.ledger.CurrentBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return height, nil
}

// ChainHealth describes ledger reachability.
type ChainHealth struct {
	OK        bool    `json:"ok"`
	Endpoint  string  `json:"endpoint"`
	Connected bool    `json:"connected"`
	Block     *uint64 `json:"block,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// StoreHealth describes the storage backend.
type StoreHealth struct {
	Backend string `json:"backend"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is served by the health endpoint.
type HealthReport struct {
	Status           string      `json:"status"`
	Chain            ChainHealth `json:"chain"`
	Store            StoreHealth `json:"store"`
	Signer           string      `json:"signer,omitempty"`
	QueueDepth       int64       `json:"queueDepth"`
	RequireSignature bool        `json:"requireSignature"`
}

// Health checks the ledger and the store. It never fails; problems are reported in
// the body with status "degraded".
func (s *Service) Health(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	report := HealthReport{
		Status:           "ready",
		Chain:            ChainHealth{Endpoint: s.ledger.Endpoint()},
		Store:            StoreHealth{Backend: s.store.Backend(), OK: true},
		Signer:           s.ledger.SignerAddress(),
		RequireSignature: s.opts.RequireSignature,
	}

	height, err := s.ledger.CurrentBlockHeight(ctx)
	// Read after the query, which redials when the cached height has expired. A cached
	// height only counts while the connection is up.
	report.Chain.Connected = s.ledger.IsConnected()
	if err != nil {
		report.Chain.Error = err.Error()
	} else {
		report.Chain.Block = &height
		report.Chain.OK = report.Chain.Connected
		if !report.Chain.Connected {
			report.Chain.Error = "ledger connection lost"
		}
	}

	if err := s.store.Ping(ctx); err != nil {
		report.Store.OK = false
		report.Store.Error = err.Error()
	} else if depth, err := s.queue.Depth(ctx); err == nil {
		report.QueueDepth = depth
	}

	if !report.Chain.OK || !report.Store.OK {
		report.Status = "degraded"
	}
	return report
}

// IsNotFound reports whether err means the requested job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrJobNotFound)
}
