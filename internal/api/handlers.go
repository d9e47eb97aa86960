/**
 * @description
 * HTTP handlers for the relayer service. Handlers decode the request, delegate to the
 * application service and map its errors onto status codes in one place.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/remitchain/relayer-service/internal/app"
	"github.com/remitchain/relayer-service/internal/catalog"
	"github.com/remitchain/relayer-service/internal/domain"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayedHeader       = "Idempotent-Replayed"
)

const maxRequestBodyBytes = 64 << 10

// RelayerService is the part of app.Service the handlers use.
type RelayerService interface {
	Submit(ctx context.Context, in app.SubmitInput) (*app.SubmitResult, error)
	Status(ctx context.Context, id string) (*domain.Job, error)
	Nonce(ctx context.Context, address string) (current, next uint64, err error)
	ChainHead(ctx context.Context) (uint64, error)
	Health(ctx context.Context) app.HealthReport
}

// Handler holds the application service that handlers will interact with.
type Handler struct {
	service RelayerService
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service RelayerService) *Handler {
	return &Handler{service: service}
}

type healthResponse struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
	app.HealthReport
}

// handleHealth always answers 200; degradation is reported in the body.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.service.Health(r.Context())
	respondWithJSON(w, http.StatusOK, healthResponse{
		OK:           report.Status == "ready",
		Service:      "relayer",
		HealthReport: report,
	})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req domain.RemittanceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.service.Submit(r.Context(), app.SubmitInput{
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
		Request:        req,
		Source:         app.SourceHTTP,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if result.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.service.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "job": job})
}

func (h *Handler) handleNonce(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		respondWithError(w, http.StatusBadRequest, "Address required")
		return
	}

	current, next, err := h.service.Nonce(r.Context(), address)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "current": current, "next": next})
}

func (h *Handler) handleChainHead(w http.ResponseWriter, r *http.Request) {
	block, err := h.service.ChainHead(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"block": block})
}

// writeServiceError maps application errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var rateErr *app.RateLimitError
	switch {
	case errors.Is(err, domain.ErrMissingFields):
		respondWithError(w, http.StatusBadRequest, "Missing required fields")
	case errors.Is(err, domain.ErrInvalidNumber):
		respondWithError(w, http.StatusBadRequest, "Invalid numeric field")
	case errors.Is(err, catalog.ErrInvalidAmount),
		errors.Is(err, catalog.ErrUnsupportedAsset),
		errors.Is(err, catalog.ErrUnsupportedCorridor),
		errors.Is(err, catalog.ErrPrecisionExceeded):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrProofRequired):
		respondWithError(w, http.StatusBadRequest, "Signature, nonce, deadline, and chainId required")
	case errors.Is(err, app.ErrInvalidSignature):
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
	case errors.Is(err, app.ErrDeadlineExpired):
		respondWithError(w, http.StatusBadRequest, "Deadline expired")
	case errors.Is(err, app.ErrInvalidNonce):
		respondWithError(w, http.StatusBadRequest, "Invalid nonce")
	case errors.Is(err, app.ErrIdempotencyConflict):
		respondWithError(w, http.StatusConflict, "Idempotency key conflict")
	case errors.Is(err, app.ErrIdempotencyInFlight):
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusConflict, "Request with this idempotency key is still processing")
	case errors.As(err, &rateErr):
		seconds := int(rateErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		respondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	case errors.Is(err, app.ErrLedgerUnavailable):
		log.Printf("level=warn component=api msg=\"ledger unavailable\" err=%q", err.Error())
		respondWithError(w, http.StatusServiceUnavailable, "Chain unavailable")
	case app.IsNotFound(err):
		respondWithError(w, http.StatusNotFound, "Not found")
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%q", err.Error())
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
