package domain

import "time"

// JobEvent is published to the events exchange whenever a job changes state.
type JobEvent struct {
	JobID      string    `json:"jobId"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient"`
	Amount     string    `json:"amount"`
	AssetID    string    `json:"assetId"`
	Corridor   string    `json:"corridor"`
	TxHash     string    `json:"txHash,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewJobEvent snapshots a job into an event payload.
func NewJobEvent(job *Job) JobEvent {
	return JobEvent{
		JobID:      job.ID,
		Status:     job.Status,
		Attempts:   job.Attempts,
		Sender:     job.Payload.From,
		Recipient:  job.Payload.To,
		Amount:     job.Payload.Amount,
		AssetID:    job.Payload.AssetID,
		Corridor:   job.Payload.Corridor,
		TxHash:     job.TxHash,
		Error:      job.Error,
		OccurredAt: job.UpdatedAt,
	}
}

// IntakeMessage is the AMQP body for remittance requests arriving over the broker
// instead of HTTP.
type IntakeMessage struct {
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Request        RemittanceRequest `json:"request"`
}
