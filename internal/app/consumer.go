package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/remitchain/relayer-service/internal/domain"
	"github.com/remitchain/relayer-service/pkg/rabbitmq"
)

// RoutingKeyRemittanceRequested is the binding for broker-delivered intake.
const RoutingKeyRemittanceRequested = "remittance.requested"

const intakeMessageTimeout = 15 * time.Second

// IntakeConsumer feeds remittance requests arriving over RabbitMQ through the same
// pipeline as HTTP.
type IntakeConsumer struct {
	svc    *Service
	logger *slog.Logger
}

func NewIntakeConsumer(svc *Service, logger *slog.Logger) *IntakeConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeConsumer{svc: svc, logger: logger.With("component", "intake_consumer")}
}

// HandleMessage returns false only when redelivery could succeed; malformed and
// rejected requests are acknowledged and dropped.
func (c *IntakeConsumer) HandleMessage(body []byte) bool {
	var msg domain.IntakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("failed to unmarshal intake payload; dropping", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), intakeMessageTimeout)
	defer cancel()

	result, err := c.svc.Submit(ctx, SubmitInput{
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		Request:        msg.Request,
		Source:         SourceAMQP,
	})
	if err != nil {
		if IsRetryable(err) {
			c.logger.Warn("intake failed; requesting redelivery", "sender", msg.Request.From, "error", err)
			return false
		}
		c.logger.Warn("intake rejected; dropping", "sender", msg.Request.From, "error", err)
		return true
	}
	if result.Replayed {
		c.logger.Info("duplicate intake message acknowledged", "idempotency_key", msg.IdempotencyKey)
		return true
	}
	c.logger.Info("intake message queued", "job_id", result.JobID, "sender", msg.Request.From)
	return true
}

// Bindings returns the routing table for rabbitmq.Consumer.ConsumeWithBindings.
func (c *IntakeConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{RoutingKeyRemittanceRequested: c.HandleMessage}
}
