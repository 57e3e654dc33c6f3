// Package server exposes search, query compilation, health and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/gorilla/mux"

	"github.com/GabrielNunesIT/logindex/internal/config"
	"github.com/GabrielNunesIT/logindex/internal/index"
	"github.com/GabrielNunesIT/logindex/internal/metrics"
	"github.com/GabrielNunesIT/logindex/internal/search"
)

// MaxLimit caps the rows one search request may return.
const MaxLimit = 10000

// Searcher runs compiled clauses against the index.
type Searcher interface {
	Search(ctx context.Context, clause string, limit int) ([]index.Row, error)
	ReverseDomains(ctx context.Context, ips []string) (map[string]string, error)
}

// Option configures the Server.
type Option func(*Server)

// WithSearcher enables the search endpoint.
func WithSearcher(s Searcher) Option {
	return func(srv *Server) {
		srv.searcher = s
	}
}

// WithMetrics serves c on /metrics and counts queries on it.
func WithMetrics(c *metrics.Collector) Option {
	return func(srv *Server) {
		srv.metrics = c
	}
}

// WithCompiler replaces the compiler built from the search config.
func WithCompiler(c *search.Compiler) Option {
	return func(srv *Server) {
		srv.compiler = c
	}
}

// Server is the HTTP front end.
type Server struct {
	cfg      config.ServerConfig
	limit    int
	compiler *search.Compiler
	searcher Searcher
	metrics  *metrics.Collector
	router   *mux.Router
	logger   logger.ILogger
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Query          string            `json:"query"`
	Clause         string            `json:"clause"`
	Count          int               `json:"count"`
	Rows           []index.Row       `json:"rows"`
	ReverseDomains map[string]string `json:"reverse_domains,omitempty"`
}

// CompileResponse is the body of a compile request.
type CompileResponse struct {
	Query  string `json:"query"`
	Clause string `json:"clause"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a server. An unknown search timezone falls back to UTC.
func New(cfg config.ServerConfig, searchCfg config.SearchConfig, log logger.ILogger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		limit:  searchCfg.Limit,
		logger: log.SubLogger("Server"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.compiler == nil {
		compiler, err := search.NewInZone(searchCfg.Timezone)
		if err != nil {
			s.logger.Warningf("search timezone unknown, using UTC: %v", err)
		}
		s.compiler = compiler
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/compile", s.compileHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/search", s.searchHandler).Methods(http.MethodGet)
	s.router = r

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("http server listening: address=%s", s.cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Debug("http server stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) compileHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, CompileResponse{Query: q, Clause: s.compiler.Compile(q)})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "index is not enabled"})
		return
	}

	params := r.URL.Query()
	q := params.Get("q")

	limit := s.limit
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	clause := s.compiler.Compile(q)
	if clause == "" {
		s.metrics.Query(clause, nil)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("query %q has no searchable terms", q)})
		return
	}

	rows, err := s.searcher.Search(r.Context(), clause, limit)
	s.metrics.Query(clause, err)
	if err != nil {
		s.logger.Errorf("search failed: clause=%s, error=%v", clause, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := SearchResponse{Query: q, Clause: clause, Count: len(rows), Rows: rows}
	if resp.Rows == nil {
		resp.Rows = []index.Row{}
	}

	if v, _ := strconv.ParseBool(params.Get("reverse")); v && len(rows) > 0 {
		ips := make([]string, 0, len(rows))
		for _, row := range rows {
			ips = append(ips, row.IP)
		}
		domains, err := s.searcher.ReverseDomains(r.Context(), ips)
		if err != nil {
			s.logger.Warningf("reverse domain lookup failed: %v", err)
		} else {
			resp.ReverseDomains = domains
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
