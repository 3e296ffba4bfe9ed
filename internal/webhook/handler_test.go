package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/diegodamacenoo/banban-core/internal/auth"
	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/eca"
	"github.com/diegodamacenoo/banban-core/internal/repository/memory"
	"github.com/diegodamacenoo/banban-core/internal/snapshot"
	"github.com/diegodamacenoo/banban-core/internal/statemachine"
)

const testSecret = "test-secret"

type pipeline struct {
	router   http.Handler
	store    *memory.Store
	issuer   *auth.KeyIssuer
	tenantID uuid.UUID
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	store := memory.NewStore()
	processor := eca.NewProcessor(
		eca.NewRegistry(),
		store.Entities(),
		store.Transactions(),
		store.Relationships(),
		store.Events(),
		statemachine.New(store.Transactions()),
		snapshot.NewUpdater(store.Snapshots()),
	)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	issuer := auth.NewKeyIssuer("signing-secret", "banban-core")
	handler := NewHandler(processor, store.Outcomes(), issuer, testSecret, 5*time.Second, logger)

	router := chi.NewRouter()
	router.Route("/api/v1/webhooks", handler.Routes)
	return &pipeline{router: router, store: store, issuer: issuer, tenantID: uuid.New()}
}

func (p *pipeline) post(t *testing.T, flow string, body map[string]any, header http.Header) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+flow, bytes.NewReader(encoded))
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)

	var envelope Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return rec, envelope
}

func (p *pipeline) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+testSecret)
	h.Set("X-Tenant-ID", p.tenantID.String())
	return h
}

func saleBody(externalID string) map[string]any {
	return map[string]any{
		"action": "register_sale",
		"attributes": map[string]any{
			"external_id": externalID,
			"location_id": "LOC-1",
			"items": []any{
				map[string]any{"product_id": "SKU-1", "quantity": 2.0, "unit_price": 100.0},
			},
		},
	}
}

func TestHandleSuccessEnvelope(t *testing.T) {
	p := newPipeline(t)

	rec, envelope := p.post(t, "sales", saleBody("SALE-1"), p.authHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)
	require.Equal(t, "register_sale", envelope.Action)
	require.NotEmpty(t, envelope.TransactionID)
	require.NotEmpty(t, envelope.EntityIDs)
	require.NotEmpty(t, envelope.RelationshipIDs)
	require.Nil(t, envelope.Error)
	require.True(t, envelope.Attributes.Success)
	require.Equal(t, 2, envelope.Attributes.Summary.RecordsProcessed)
	require.NotEmpty(t, envelope.Metadata.EventUUID)
	require.False(t, envelope.Metadata.ProcessedAt.IsZero())

	outcomes, err := p.store.Outcomes().List(context.Background(), p.tenantID, "sales", 10, 0)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success)
	require.Equal(t, "register_sale", outcomes[0].Action)
	require.NotNil(t, outcomes[0].TransactionID)
}

func TestHandleMissingAction(t *testing.T) {
	p := newPipeline(t)

	rec, envelope := p.post(t, "sales", map[string]any{"attributes": map[string]any{}}, p.authHeader())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, envelope.Success)
	require.Equal(t, domain.CodeValidation, envelope.Error.Code)
}

func TestHandleUnknownAction(t *testing.T) {
	p := newPipeline(t)

	rec, envelope := p.post(t, "sales", map[string]any{
		"action":     "register_refund",
		"attributes": map[string]any{"external_id": "X"},
	}, p.authHeader())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, domain.CodeUnsupportedEvent, envelope.Error.Code)
}

func TestHandleMissingCredentials(t *testing.T) {
	p := newPipeline(t)

	rec, envelope := p.post(t, "sales", saleBody("SALE-2"), http.Header{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, domain.CodeUnauthorized, envelope.Error.Code)
}

func TestHandleSharedSecretWithoutTenant(t *testing.T) {
	p := newPipeline(t)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+testSecret)
	rec, envelope := p.post(t, "sales", saleBody("SALE-3"), h)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, domain.CodeUnauthorized, envelope.Error.Code)
}

func TestHandleScopedAPIKey(t *testing.T) {
	p := newPipeline(t)

	key, err := p.issuer.Issue(p.tenantID, []string{auth.WebhookScope("sales")}, time.Hour)
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Authorization", "Bearer "+key)

	rec, envelope := p.post(t, "sales", saleBody("SALE-4"), h)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, envelope.Success)

	// The same key must not open another flow's endpoint.
	rec, envelope = p.post(t, "purchase", map[string]any{
		"action":     "approve_order",
		"attributes": map[string]any{"external_id": "PO-1"},
	}, h)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, domain.CodeUnauthorized, envelope.Error.Code)
}

func TestHandleBusinessFailureEnvelope(t *testing.T) {
	p := newPipeline(t)

	rec, envelope := p.post(t, "sales", map[string]any{
		"action": "register_payment",
		"attributes": map[string]any{
			"external_id":      "PAY-1",
			"sale_external_id": "SALE-NOPE",
			"amount":           10.0,
		},
	}, p.authHeader())
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, envelope.Success)
	require.Equal(t, domain.CodeNotFound, envelope.Error.Code)
	require.Equal(t, 1, envelope.Attributes.Summary.RecordsFailed)

	outcomes, err := p.store.Outcomes().List(context.Background(), p.tenantID, "sales", 10, 0)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Success)
	require.Equal(t, domain.CodeNotFound, outcomes[0].ErrorCode)
}

func TestHandlePreconditionStatusMapping(t *testing.T) {
	p := newPipeline(t)

	_, envelope := p.post(t, "sales", saleBody("SALE-5"), p.authHeader())
	require.True(t, envelope.Success)
	_, envelope = p.post(t, "sales", map[string]any{
		"action": "register_payment",
		"attributes": map[string]any{
			"external_id":      "PAY-5",
			"sale_external_id": "SALE-5",
			"amount":           200.0,
		},
	}, p.authHeader())
	require.True(t, envelope.Success)
	require.NotNil(t, envelope.StateTransition)
	require.Equal(t, statemachine.SaleSettled, envelope.StateTransition.To)

	rec, envelope := p.post(t, "sales", map[string]any{
		"action": "register_payment",
		"attributes": map[string]any{
			"external_id":      "PAY-6",
			"sale_external_id": "SALE-5",
			"amount":           200.0,
		},
	}, p.authHeader())
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, domain.CodePrecondition, envelope.Error.Code)
}

func TestHandleMalformedBody(t *testing.T) {
	p := newPipeline(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/sales", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	req.Header.Set("X-Tenant-ID", p.tenantID.String())
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var envelope Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, domain.CodeValidation, envelope.Error.Code)
}
