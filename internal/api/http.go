// Package api exposes the monitor over HTTP: event ingestion, queries,
// live watch, audit access, metrics, and health.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/opspulse/streammon/internal/audit"
	"github.com/opspulse/streammon/internal/engine"
	"github.com/opspulse/streammon/internal/model"
	streamnats "github.com/opspulse/streammon/internal/nats"
)

const maxBodySize = 1 << 20 // 1MB

// Server is the HTTP surface of the monitor.
type Server struct {
	r      *chi.Mux
	engine *engine.Engine
	audit  *audit.Log
	nc     *nats.Conn
	schema *gojsonschema.Schema
	logger *slog.Logger
}

// NewServer builds the router. nc may be nil when NATS ingestion is
// disabled; readiness then only reflects the HTTP side.
func NewServer(eng *engine.Engine, log *audit.Log, nc *nats.Conn, logger *slog.Logger) (*Server, error) {
	schema, err := newEventValidator()
	if err != nil {
		return nil, err
	}

	s := &Server{
		r:      chi.NewRouter(),
		engine: eng,
		audit:  log,
		nc:     nc,
		schema: schema,
		logger: logger,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s, nil
}

// Handler returns the assembled http.Handler.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) routes() {
	s.r.Post("/v1/events", s.handleIngest)
	s.r.Post("/v1/query", s.handleQuery)
	s.r.Get("/v1/watch", s.handleWatch)

	s.r.Get("/v1/audit", s.handleAuditQuery)
	s.r.Get("/v1/audit/export", s.handleAuditExport)
	s.r.Get("/v1/audit/stats", s.handleAuditStats)
	s.r.Delete("/v1/audit", s.handleAuditClear)

	s.r.Handle("/metrics", promhttp.Handler())
	s.r.Get("/healthz", s.handleHealth)
	s.r.Get("/readyz", s.handleReady)
}

// handleIngest accepts one event or a JSON array of events, validated
// against the wire schema before they touch the engine.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	docs, err := splitEventDocs(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted := 0
	var rejections []string
	for i, doc := range docs {
		if errs := validateEventJSON(s.schema, doc); len(errs) > 0 {
			rejections = append(rejections, fmt.Sprintf("event %d: %s", i, strings.Join(errs, "; ")))
			continue
		}
		event, err := streamnats.ParseEvent(doc)
		if err != nil {
			rejections = append(rejections, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		if err := s.engine.IngestEvent(*event); err != nil {
			rejections = append(rejections, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		accepted++
	}

	status := http.StatusAccepted
	if accepted == 0 && len(rejections) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]interface{}{
		"accepted":  accepted,
		"rejected":  len(rejections),
		"errors":    rejections,
		"timestamp": time.Now().UTC(),
	})
}

// handleQuery runs one real-time query; policy context comes from headers.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var query model.RealTimeQuery
	if err := json.Unmarshal(body, &query); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse query")
		return
	}

	ctx := policyContextFromHeaders(r)
	result := s.engine.ExecuteQuery(query, ctx)

	status := http.StatusOK
	if !result.Success {
		switch result.ErrorCode {
		case model.ErrCodePolicyDenied:
			status = http.StatusForbidden
		case model.ErrCodeNoStreamState:
			status = http.StatusNotFound
		default:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, result)
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	entries := s.audit.Query(auditFilterFromQuery(r))
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":   entries,
		"count":     len(entries),
		"timestamp": time.Now().UTC(),
	})
}

// handleAuditExport streams the audit log as JSON or CSV, optionally
// gzip-compressed.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	filter := auditFilterFromQuery(r)

	var data []byte
	var err error
	contentType := "application/json"
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		data, err = s.audit.ExportJSON(filter)
	case "csv":
		data, err = s.audit.ExportCSV(filter)
		contentType = "text/csv"
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	if r.URL.Query().Get("gzip") == "1" {
		data, err = audit.ExportGzip(data)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "compression failed")
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleAuditClear drops audit entries older than the requested number of
// days (default 30).
func (s *Server) handleAuditClear(w http.ResponseWriter, r *http.Request) {
	days := audit.ParseRetention(r.URL.Query().Get("days"), 30)
	removed := s.audit.ClearOldEntries(days)
	s.logger.Info("Audit entries cleared", "retention_days", days, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed":        removed,
		"retention_days": days,
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	from := parseTimeParam(r, "from")
	to := parseTimeParam(r, "to")
	writeJSON(w, http.StatusOK, s.audit.GetStatistics(from, to))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	natsConnected := s.nc == nil || s.nc.IsConnected()

	status := "ready"
	code := http.StatusOK
	if !natsConnected {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":         status,
		"nats_connected": natsConnected,
		"timestamp":      time.Now().UTC(),
	})
}

// splitEventDocs returns the individual event documents in a body that is
// either one JSON object or a JSON array of objects.
func splitEventDocs(body []byte) ([][]byte, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("empty request body")
	}
	if trimmed[0] != '[' {
		return [][]byte{body}, nil
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse event array: %w", err)
	}
	out := make([][]byte, len(docs))
	for i, doc := range docs {
		out[i] = doc
	}
	return out, nil
}

// policyContextFromHeaders builds the requester identity from the headers
// set by the authenticating proxy in front of this service.
func policyContextFromHeaders(r *http.Request) model.PolicyContext {
	ctx := model.PolicyContext{
		UserID:          r.Header.Get("X-User-Id"),
		UserTenantID:    r.Header.Get("X-Tenant-Id"),
		OperatorID:      r.Header.Get("X-Operator-Id"),
		FederationAdmin: r.Header.Get("X-Federation-Admin") == "true",
	}
	if raw := r.Header.Get("X-Federations"); raw != "" {
		ctx.FederationIDs = strings.Split(raw, ",")
	}
	if raw := r.Header.Get("X-Permissions"); raw != "" {
		ctx.Permissions = strings.Split(raw, ",")
	}
	return ctx
}

func auditFilterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		Kind:     audit.Kind(q.Get("kind")),
		TenantID: q.Get("tenant_id"),
		Actor:    q.Get("actor"),
		From:     parseTimeParam(r, "from"),
		To:       parseTimeParam(r, "to"),
	}
	if raw := q.Get("limit"); raw != "" {
		fmt.Sscanf(raw, "%d", &f.Limit)
	}
	return f
}

func parseTimeParam(r *http.Request, key string) time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error":     msg,
		"timestamp": time.Now().UTC(),
	})
}
