package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diegodamacenoo/banban-core/internal/analytics"
	"github.com/diegodamacenoo/banban-core/internal/auth"
	"github.com/diegodamacenoo/banban-core/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	defaultWindow   = 365 * 24 * time.Hour
	defaultTopN     = 10
)

// requireTenant authenticates read endpoints with the shared bearer secret
// and resolves the tenant from the X-Tenant-ID header.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.sharedSecret == "" || !ok ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.sharedSecret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, "invalid credentials")
			return
		}
		tenantID, err := uuid.Parse(r.Header.Get("X-Tenant-ID"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, domain.CodeValidation, "X-Tenant-ID header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithTenantID(r.Context(), tenantID)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"flows":        s.registry.Flows(),
		"action_rules": s.registry.RuleCount(),
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := auth.TenantIDFromContext(r.Context())
	q := r.URL.Query()

	filter := domain.TransactionFilter{
		TenantID:        tenantID,
		TransactionType: q.Get("type"),
		Status:          q.Get("status"),
	}
	filter.Limit, filter.Offset = pagination(q.Get("limit"), q.Get("offset"))

	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeValidation, "from must be RFC3339")
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeValidation, "to must be RFC3339")
		return
	}

	rows, total, err := s.transactions.List(r.Context(), filter)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": rows,
		"total":        total,
		"limit":        filter.Limit,
		"offset":       filter.Offset,
	})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := auth.TenantIDFromContext(r.Context())
	q := r.URL.Query()

	filter := domain.EntityFilter{
		TenantID:   tenantID,
		EntityType: q.Get("type"),
	}
	filter.Limit, filter.Offset = pagination(q.Get("limit"), q.Get("offset"))

	rows, total, err := s.entities.List(r.Context(), filter)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entities": rows,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (s *Server) handleRFM(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := auth.TenantIDFromContext(r.Context())
	from, to, err := window(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}

	segments, err := s.analytics.SegmentCustomers(r.Context(), tenantID, from, to)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"segments": segments,
		"from":     from,
		"to":       to,
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := auth.TenantIDFromContext(r.Context())
	q := r.URL.Query()
	from, to, err := window(q.Get("from"), q.Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}
	topN := defaultTopN
	if raw := q.Get("top"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			topN = n
		}
	}

	report, err := s.analytics.ProductPerformance(r.Context(), tenantID, from, to, topN)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRFMExport(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := auth.TenantIDFromContext(r.Context())
	from, to, err := window(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, domain.CodeValidation, err.Error())
		return
	}

	segments, err := s.analytics.SegmentCustomers(r.Context(), tenantID, from, to)
	if err != nil {
		s.serverError(w, err)
		return
	}
	workbook, err := analytics.BuildRFMWorkbook(segments)
	if err != nil {
		s.serverError(w, err)
		return
	}

	filename := fmt.Sprintf("rfm-segments-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := workbook.Write(w); err != nil {
		s.logger.WithError(err).Error("failed to stream RFM workbook")
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.WithError(err).Error("request failed")
	s.writeError(w, http.StatusInternalServerError, domain.CodeInternal, "internal error")
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func pagination(rawLimit, rawOffset string) (int, int) {
	limit := defaultPageSize
	if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
		limit = min(n, maxPageSize)
	}
	offset := 0
	if n, err := strconv.Atoi(rawOffset); err == nil && n > 0 {
		offset = n
	}
	return limit, offset
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// window defaults to the trailing year ending now.
func window(rawFrom, rawTo string) (time.Time, time.Time, error) {
	to, err := parseTime(rawTo)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be RFC3339")
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	from, err := parseTime(rawFrom)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be RFC3339")
	}
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must precede to")
	}
	return from, to, nil
}
