package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/pkg/rabbitmq"
)

// Routing keys for job events.
const (
	EventJobQueued    = "relay.job.queued"
	EventJobSubmitted = "relay.job.submitted"
	EventJobRetrying  = "relay.job.retrying"
	EventJobFailed    = "relay.job.failed"
)

const publishTimeout = 5 * time.Second

// Publisher is the broker side of job events.
type Publisher = rabbitmq.Publisher

// eventSink publishes job events on a best-effort basis; a broker failure never affects
// the job itself.
type eventSink struct {
	publisher rabbitmq.Publisher
	logger    *slog.Logger
}

func (e eventSink) publish(ctx context.Context, routingKey string, job *domain.Job) {
	if e.publisher == nil {
		return
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, routingKey, domain.NewJobEvent(job)); err != nil {
		e.logger.Warn("job event publish failed", "routing_key", routingKey, "job_id", job.ID, "error", err)
	}
}
