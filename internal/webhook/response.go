package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/eca"
)

// Request is the webhook body shape shared by every flow.
type Request struct {
	Action     string         `json:"action"`
	Attributes map[string]any `json:"attributes"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ResultAttributes nests the processing summary inside the envelope.
type ResultAttributes struct {
	Success    bool        `json:"success"`
	EntityType string      `json:"entityType,omitempty"`
	EntityID   string      `json:"entityId,omitempty"`
	Summary    eca.Summary `json:"summary"`
}

// Metadata carries per-request processing metadata.
type Metadata struct {
	ProcessedAt      time.Time `json:"processed_at"`
	ProcessingTimeMS int64     `json:"processing_time_ms"`
	EventUUID        string    `json:"event_uuid"`
}

// ErrorBody is the error block of a failure envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// Envelope is the uniform response wrapper for success and failure.
type Envelope struct {
	Success         bool                 `json:"success"`
	Action          string               `json:"action"`
	TransactionID   string               `json:"transaction_id,omitempty"`
	EntityIDs       []string             `json:"entity_ids,omitempty"`
	RelationshipIDs []string             `json:"relationship_ids,omitempty"`
	StateTransition *eca.StateTransition `json:"state_transition,omitempty"`
	Attributes      ResultAttributes     `json:"attributes"`
	Metadata        Metadata             `json:"metadata"`
	Error           *ErrorBody           `json:"error,omitempty"`
}

func successEnvelope(action string, result eca.ActionResult, meta Metadata) Envelope {
	return Envelope{
		Success:         true,
		Action:          action,
		TransactionID:   result.TransactionID.String(),
		EntityIDs:       uuidStrings(result.EntityIDs),
		RelationshipIDs: uuidStrings(result.RelationshipIDs),
		StateTransition: result.StateTransition,
		Attributes: ResultAttributes{
			Success:    true,
			EntityType: result.EntityType,
			EntityID:   result.TransactionID.String(),
			Summary:    result.Summary,
		},
		Metadata: meta,
	}
}

func errorEnvelope(action, code, message string, meta Metadata) Envelope {
	return Envelope{
		Success: false,
		Action:  action,
		Attributes: ResultAttributes{
			Success: false,
			Summary: eca.Summary{Message: message, RecordsFailed: 1},
		},
		Metadata: meta,
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: map[string]any{"timestamp": meta.ProcessedAt.Format(time.RFC3339Nano)},
		},
	}
}

// httpStatusFor maps envelope error codes to response statuses.
func httpStatusFor(code string) int {
	switch code {
	case domain.CodeValidation, domain.CodeUnsupportedEvent:
		return http.StatusBadRequest
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodePrecondition:
		return http.StatusConflict
	case domain.CodeTransition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
