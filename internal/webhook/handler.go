package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/diegodamacenoo/banban-core/internal/auth"
	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/eca"
	"github.com/diegodamacenoo/banban-core/internal/repository"
)

// Handler is the webhook ingestion pipeline: authenticate, validate the
// envelope shape, invoke the action processor, record a structured outcome
// and answer with the uniform envelope.
type Handler struct {
	processor      *eca.Processor
	outcomes       repository.OutcomeRepository
	issuer         *auth.KeyIssuer
	sharedSecret   string
	requestTimeout time.Duration
	logger         logrus.FieldLogger
}

// NewHandler wires the pipeline.
func NewHandler(processor *eca.Processor, outcomes repository.OutcomeRepository, issuer *auth.KeyIssuer, sharedSecret string, requestTimeout time.Duration, logger logrus.FieldLogger) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Handler{
		processor:      processor,
		outcomes:       outcomes,
		issuer:         issuer,
		sharedSecret:   sharedSecret,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// Routes mounts the per-flow webhook endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/{flow}", h.Handle)
}

// Handle processes one webhook delivery.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	flow := chi.URLParam(r, "flow")

	tenantID, err := h.authenticate(r, flow)
	if err != nil {
		h.fail(w, r, flow, tenantID, "", start, domain.CodeUnauthorized, "authentication failed")
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, flow, tenantID, "", start, domain.CodeValidation, "request body must be a JSON webhook envelope")
		return
	}
	if strings.TrimSpace(req.Action) == "" {
		h.fail(w, r, flow, tenantID, "", start, domain.CodeValidation, "action is required")
		return
	}

	ctx, cancel := context.WithTimeout(auth.ContextWithTenantID(r.Context(), tenantID), h.requestTimeout)
	defer cancel()

	result, err := h.processor.Process(ctx, flow, req.Action, tenantID, req.Attributes, req.Metadata)
	if err != nil {
		code, message := classify(err)
		if domain.IsBusinessError(err) || code == domain.CodeUnsupportedEvent {
			h.logger.WithFields(logrus.Fields{"flow": flow, "action": req.Action, "code": code}).
				Warn(err.Error())
		} else {
			h.logger.WithFields(logrus.Fields{"flow": flow, "action": req.Action}).
				WithError(err).Error("action processing failed")
		}
		h.fail(w, r, flow, tenantID, req.Action, start, code, message)
		return
	}

	meta := h.metadata(start)
	h.recordOutcome(r, domain.WebhookOutcome{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Flow:          flow,
		Action:        req.Action,
		Success:       true,
		TransactionID: &result.TransactionID,
		Message:       result.Summary.Message,
		ProcessingMS:  meta.ProcessingTimeMS,
	})
	writeJSON(w, http.StatusOK, successEnvelope(req.Action, result, meta))
}

func (h *Handler) authenticate(r *http.Request, flow string) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return uuid.Nil, errors.New("missing bearer token")
	}

	// Shared secret: simple deployments, tenant supplied via header.
	if h.sharedSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.sharedSecret)) == 1 {
		tenantID, err := uuid.Parse(r.Header.Get("X-Tenant-ID"))
		if err != nil {
			return uuid.Nil, errors.New("shared-secret callers must send X-Tenant-ID")
		}
		return tenantID, nil
	}

	// Scoped API key: tenant and permission come from the key itself.
	if h.issuer != nil {
		return h.issuer.Verify(token, auth.WebhookScope(flow))
	}
	return uuid.Nil, errors.New("unrecognized credentials")
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, flow string, tenantID uuid.UUID, action string, start time.Time, code, message string) {
	meta := h.metadata(start)
	if tenantID != uuid.Nil {
		h.recordOutcome(r, domain.WebhookOutcome{
			ID:           uuid.New(),
			TenantID:     tenantID,
			Flow:         flow,
			Action:       action,
			Success:      false,
			ErrorCode:    code,
			Message:      message,
			ProcessingMS: meta.ProcessingTimeMS,
		})
	}
	writeJSON(w, httpStatusFor(code), errorEnvelope(action, code, message, meta))
}

// recordOutcome is best-effort: a failed log write never fails the request.
func (h *Handler) recordOutcome(r *http.Request, outcome domain.WebhookOutcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := h.outcomes.Record(ctx, outcome); err != nil {
		h.logger.WithError(err).Warn("failed to record webhook outcome")
	}
}

func (h *Handler) metadata(start time.Time) Metadata {
	return Metadata{
		ProcessedAt:      time.Now().UTC(),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		EventUUID:        uuid.NewString(),
	}
}

// classify maps a processing error to its envelope code and client-safe
// message. Store failures stay generic: internals never leak to callers.
func classify(err error) (string, string) {
	if errors.Is(err, eca.ErrUnsupportedAction) {
		return domain.CodeUnsupportedEvent, "action is not supported by this flow"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.CodeInternal, "request deadline exceeded"
	}
	code := domain.ErrorCode(err)
	if code == domain.CodeInternal {
		return code, "internal processing error"
	}
	return code, err.Error()
}
