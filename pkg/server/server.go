package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elonfeng/shoptrend/internal/metrics"
	"github.com/elonfeng/shoptrend/internal/store"
	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/elonfeng/shoptrend/pkg/trend"
	"github.com/sirupsen/logrus"
)

// Server provides the HTTP API.
type Server struct {
	cache   *trend.Cache
	store   store.Store
	opts    trend.Options
	metrics *metrics.Registry
	log     logrus.FieldLogger
	port    int
}

// New creates a new HTTP server. opts are the ranking defaults that query
// parameters override per request.
func New(cache *trend.Cache, s store.Store, opts trend.Options, m *metrics.Registry, log logrus.FieldLogger, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Server{
		cache:   cache,
		store:   s,
		opts:    opts,
		metrics: m,
		log:     log,
		port:    port,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/products/popular", s.handlePopular)
	mux.HandleFunc("/api/v1/views", s.handleViews)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.Handle("/metrics", s.metrics.Handler())
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("shoptrend server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts, err := s.optionsFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ranking, err := s.cache.Get(r.Context(), opts)
	switch {
	case errors.Is(err, trend.ErrInvalidOptions):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, trend.ErrSourceUnavailable):
		s.log.WithError(err).Error("popular products: source unavailable")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ranking temporarily unavailable"})
		return
	case err != nil:
		s.log.WithError(err).Error("popular products")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ranking)
}

func (s *Server) optionsFromQuery(r *http.Request) (trend.Options, error) {
	opts := s.opts
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("limit: %q is not an integer", v)
		}
		opts.ResultLimit = n
	}
	if v := q.Get("candidates"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("candidates: %q is not an integer", v)
		}
		opts.CandidateLimit = n
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("threshold: %q is not a number", v)
		}
		opts.Threshold = f
	}
	return opts, nil
}

type viewRequest struct {
	ProductID string `json:"productId"`
	UserID    string `json:"userId"`
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req viewRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "productId is required"})
		return
	}

	v := &event.View{
		ProductID: req.ProductID,
		UserID:    req.UserID,
		IPAddress: clientIP(r),
	}
	if err := s.store.RecordView(r.Context(), v); err != nil {
		s.log.WithError(err).WithField("product_id", req.ProductID).Error("record view")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.metrics.ViewsRecorded.Inc()

	writeJSON(w, http.StatusCreated, map[string]string{"id": v.ID})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// clientIP prefers the first X-Forwarded-For hop and falls back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
