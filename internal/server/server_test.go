package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/diegodamacenoo/banban-core/internal/analytics"
	"github.com/diegodamacenoo/banban-core/internal/domain"
	"github.com/diegodamacenoo/banban-core/internal/eca"
	"github.com/diegodamacenoo/banban-core/internal/repository/memory"
	"github.com/diegodamacenoo/banban-core/internal/snapshot"
	"github.com/diegodamacenoo/banban-core/internal/statemachine"
	"github.com/diegodamacenoo/banban-core/internal/webhook"
)

const testSecret = "read-secret"

func newTestServer(t *testing.T) (http.Handler, *memory.Store, uuid.UUID) {
	t.Helper()
	store := memory.NewStore()
	registry := eca.NewRegistry()
	processor := eca.NewProcessor(
		registry,
		store.Entities(),
		store.Transactions(),
		store.Relationships(),
		store.Events(),
		statemachine.New(store.Transactions()),
		snapshot.NewUpdater(store.Snapshots()),
	)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	webhooks := webhook.NewHandler(processor, store.Outcomes(), nil, testSecret, 5*time.Second, logger)
	engine := analytics.NewEngine(store.Transactions(), store.Relationships(), store.Entities())

	srv := New(webhooks, registry, engine, store.Transactions(), store.Entities(), testSecret, []string{"http://localhost:3000"}, logger)
	return srv.Router(), store, uuid.New()
}

func get(t *testing.T, router http.Handler, path string, tenantID uuid.UUID, authorized bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorized {
		req.Header.Set("Authorization", "Bearer "+testSecret)
		req.Header.Set("X-Tenant-ID", tenantID.String())
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestServer(t)

	rec := get(t, router, "/health", uuid.Nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status      string   `json:"status"`
		Flows       []string `json:"flows"`
		ActionRules int      `json:"action_rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
	require.Contains(t, body.Flows, "sales")
	require.Equal(t, 15, body.ActionRules)
}

func TestReadEndpointsRequireCredentials(t *testing.T) {
	router, _, tenantID := newTestServer(t)

	for _, path := range []string{"/api/v1/transactions", "/api/v1/entities", "/api/v1/analytics/rfm"} {
		rec := get(t, router, path, tenantID, false)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestListTransactions(t *testing.T) {
	router, store, tenantID := newTestServer(t)
	ctx := context.Background()

	for _, externalID := range []string{"SALE-1", "SALE-2"} {
		txn := domain.NewBusinessTransaction(tenantID, domain.TransactionTypeSale, externalID, "completed", nil)
		_, _, err := store.Transactions().Create(ctx, txn)
		require.NoError(t, err)
	}
	other := domain.NewBusinessTransaction(uuid.New(), domain.TransactionTypeSale, "SALE-3", "completed", nil)
	_, _, err := store.Transactions().Create(ctx, other)
	require.NoError(t, err)

	rec := get(t, router, "/api/v1/transactions?type=sale", tenantID, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Transactions []domain.BusinessTransaction `json:"transactions"`
		Total        int                          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Len(t, body.Transactions, 2)
	for _, txn := range body.Transactions {
		require.Equal(t, tenantID, txn.TenantID)
	}
}

func TestListTransactionsBadWindow(t *testing.T) {
	router, _, tenantID := newTestServer(t)

	rec := get(t, router, "/api/v1/transactions?from=yesterday", tenantID, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRFMEndpoint(t *testing.T) {
	router, store, tenantID := newTestServer(t)

	txn := domain.NewBusinessTransaction(tenantID, domain.TransactionTypeSale, "SALE-1", "completed", map[string]any{
		"customer_id":  "C-1",
		"total_amount": 120.0,
	})
	_, _, err := store.Transactions().Create(context.Background(), txn)
	require.NoError(t, err)

	rec := get(t, router, "/api/v1/analytics/rfm", tenantID, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Segments []analytics.CustomerSegment `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Segments, 1)
	require.Equal(t, "C-1", body.Segments[0].CustomerExternalID)
}

func TestRFMExportContentType(t *testing.T) {
	router, _, tenantID := newTestServer(t)

	rec := get(t, router, "/api/v1/analytics/rfm/export", tenantID, true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.NotZero(t, rec.Body.Len())
}

func TestWebhookMountedUnderAPI(t *testing.T) {
	router, _, tenantID := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/sales", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Empty body fails envelope validation, proving the route is wired.
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
