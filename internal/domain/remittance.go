/**
 * @description
 * Domain models for the relayer: the inbound remittance request, its normalized form,
 * the submission job record and the idempotency record. These types are shared by the
 * HTTP layer, the application service, every store backend and the AMQP intake consumer.
 *
 * @dependencies
 * - encoding/json, errors, strconv, strings, time: Standard Go libraries.
 */

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Job lifecycle states.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSubmitted  = "submitted"
	JobStatusFailed     = "failed"
)

// Idempotency record states.
const (
	IdempotencyPending  = "pending"
	IdempotencyComplete = "complete"
)

// MaxSafeInteger bounds nonces and deadlines to the integers a JSON number can carry
// exactly, which every store backend compares identically.
const MaxSafeInteger = 1<<53 - 1

var (
	ErrMissingFields     = errors.New("missing required fields")
	ErrInvalidNumber     = errors.New("invalid numeric field")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// RemittanceRequest is the body accepted by the intake endpoint. Nonce, deadline and
// chainId are accepted either as JSON numbers or as strings, as wallets send both.
type RemittanceRequest struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    string          `json:"amount"`
	AssetID   string          `json:"assetId"`
	Corridor  string          `json:"corridor"`
	ChainID   json.RawMessage `json:"chainId,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Nonce     json.RawMessage `json:"nonce,omitempty"`
	Deadline  json.RawMessage `json:"deadline,omitempty"`
}

// NormalizedPayload is the canonical form stored on a job and hashed for idempotency.
type NormalizedPayload struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Amount    string  `json:"amount"`
	AssetID   string  `json:"assetId"`
	Corridor  string  `json:"corridor"`
	ChainID   string  `json:"chainId,omitempty"`
	Signature string  `json:"signature,omitempty"`
	Nonce     *uint64 `json:"nonce,omitempty"`
	Deadline  *uint64 `json:"deadline,omitempty"`
}

// Normalize validates the always-required fields and converts the loosely typed
// numeric fields. String values are kept verbatim since they are part of the signed message.
func (r RemittanceRequest) Normalize() (NormalizedPayload, error) {
	for _, v := range []string{r.From, r.To, r.Amount, r.AssetID, r.Corridor} {
		if strings.TrimSpace(v) == "" {
			return NormalizedPayload{}, ErrMissingFields
		}
	}

	payload := NormalizedPayload{
		From:      r.From,
		To:        r.To,
		Amount:    r.Amount,
		AssetID:   r.AssetID,
		Corridor:  r.Corridor,
		Signature: r.Signature,
	}

	chainID, err := looseString(r.ChainID)
	if err != nil {
		return NormalizedPayload{}, fmt.Errorf("chainId: %w", err)
	}
	payload.ChainID = chainID

	if payload.Nonce, err = looseUint(r.Nonce); err != nil {
		return NormalizedPayload{}, fmt.Errorf("nonce: %w", err)
	}
	if payload.Deadline, err = looseUint(r.Deadline); err != nil {
		return NormalizedPayload{}, fmt.Errorf("deadline: %w", err)
	}
	return payload, nil
}

// HasProof reports whether every field of the signature-backed proof is present.
func (p NormalizedPayload) HasProof() bool {
	return p.Signature != "" && p.Nonce != nil && p.Deadline != nil && p.ChainID != ""
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func looseString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", ErrInvalidNumber
	}
	return n.String(), nil
}

func looseUint(raw json.RawMessage) (*uint64, error) {
	s, err := looseString(raw)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		if isNull(raw) {
			return nil, nil
		}
		return nil, ErrInvalidNumber
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v > MaxSafeInteger {
		return nil, ErrInvalidNumber
	}
	return &v, nil
}

// Job is the durable record of one submission.
type Job struct {
	ID        string            `json:"id"`
	Payload   NormalizedPayload `json:"payload"`
	Status    string            `json:"status"`
	Attempts  int               `json:"attempts"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	TxHash    string            `json:"txHash,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSubmitted || j.Status == JobStatusFailed
}

var allowedTransitions = map[string][]string{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusSubmitted, JobStatusQueued, JobStatusFailed},
}

// Transition moves the job to the next status, refusing anything that leaves a
// terminal state or skips processing.
func (j *Job) Transition(to string, now time.Time) error {
	for _, next := range allowedTransitions[j.Status] {
		if next == to {
			j.Status = to
			j.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
}

// IdempotencyRecord is what the idempotency cache stores per client key.
type IdempotencyRecord struct {
	PayloadHash string          `json:"payloadHash"`
	State       string          `json:"state"`
	StatusCode  int             `json:"statusCode,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// SubmitResponse is returned by the intake endpoint and cached for idempotent replays.
type SubmitResponse struct {
	OK        bool   `json:"ok"`
	RelayerID string `json:"relayerId"`
	Status    string `json:"status"`
}
