package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/config"
	"github.com/JakeFAU/lead-finder/internal/lead"
	"github.com/JakeFAU/lead-finder/internal/metrics"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Server exposes the lead repository over read-only JSON endpoints.
type Server struct {
	router chi.Router
	repo   lead.Repository
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(repo lead.Repository, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		repo:   repo,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/sends", s.listSends)
		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.listLeads)
			r.Get("/{identity}", s.getLead)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warn("repository not ready", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "repository unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type leadsResponse struct {
	Leads  []lead.Lead `json:"leads"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLeadFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leads, err := s.repo.Find(r.Context(), filter)
	if err != nil {
		s.logger.Error("find leads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	writeJSON(w, http.StatusOK, leadsResponse{
		Leads:  leads,
		Count:  len(leads),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (s *Server) getLead(w http.ResponseWriter, r *http.Request) {
	identity, err := url.PathUnescape(chi.URLParam(r, "identity"))
	if err != nil || identity == "" {
		writeError(w, http.StatusBadRequest, "invalid identity")
		return
	}
	l, err := s.repo.Get(r.Context(), identity)
	switch {
	case errors.Is(err, lead.ErrNotFound):
		writeError(w, http.StatusNotFound, "lead not found")
		return
	case err != nil:
		s.logger.Error("get lead failed", zap.String("identity", identity), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load lead")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lead": l})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.repo.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listSends(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSendFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.repo.ListSends(r.Context(), filter)
	if err != nil {
		s.logger.Error("list sends failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sends")
		return
	}
	if records == nil {
		records = []lead.SendRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sends": records, "count": len(records)})
}

func parseLeadFilter(q url.Values) (lead.Filter, error) {
	f := lead.Filter{
		Country:       q.Get("country"),
		Source:        lead.Source(q.Get("source")),
		EmailStatus:   lead.EmailStatus(q.Get("email_status")),
		ContactStatus: lead.ContactStatus(q.Get("contact_status")),
		Limit:         defaultPageSize,
	}
	if f.EmailStatus != "" && !f.EmailStatus.Valid() {
		return f, fmt.Errorf("unknown email_status %q", f.EmailStatus)
	}
	if f.ContactStatus != "" && !f.ContactStatus.Valid() {
		return f, fmt.Errorf("unknown contact_status %q", f.ContactStatus)
	}
	for name, target := range map[string]**bool{"has_email": &f.HasEmail, "has_website": &f.HasWebsite} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("%s must be a boolean", name)
		}
		*target = &v
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPageSize {
			return f, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func parseSendFilter(q url.Values) (lead.SendFilter, error) {
	f := lead.SendFilter{
		Identity:   q.Get("identity"),
		TemplateID: q.Get("template"),
		Outcome:    lead.SendOutcome(q.Get("outcome")),
	}
	if f.Outcome != "" && f.Outcome != lead.SendSent && f.Outcome != lead.SendFailed {
		return f, fmt.Errorf("unknown outcome %q", f.Outcome)
	}
	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, fmt.Errorf("until: %w", err)
	}
	return f, nil
}

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
