// Package gateway serves the capability-token and provenance protocol over
// HTTP and provides the matching retrying client.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/avs/pkg/capability"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/observability"
	"github.com/Mindburn-Labs/avs/pkg/provenance"
	"github.com/Mindburn-Labs/avs/pkg/store"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Options wires a Server. Tokens and Provenance are required.
type Options struct {
	Tokens     *capability.Service
	Provenance *provenance.Service
	Store      store.TraceStore
	// RateLimit is requests per second per client IP; zero disables limiting.
	RateLimit float64
	Burst     int
	Telemetry *observability.Provider
	Logger    *slog.Logger
}

type Server struct {
	tokens     *capability.Service
	provenance *provenance.Service
	store      store.TraceStore
	schema     *jsonschema.Schema
	limiter    *RateLimiter
	telemetry  *observability.Provider
	logger     *slog.Logger
}

func NewServer(opts Options) (*Server, error) {
	if opts.Tokens == nil || opts.Provenance == nil {
		return nil, errors.New("gateway: token and provenance services are required")
	}
	schema, err := compileRecordSchema()
	if err != nil {
		return nil, err
	}
	s := &Server{
		tokens:     opts.Tokens,
		provenance: opts.Provenance,
		store:      opts.Store,
		schema:     schema,
		telemetry:  opts.Telemetry,
		logger:     opts.Logger,
	}
	if s.store == nil {
		s.store = store.NewMemoryStore()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "gateway")
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.Burst)
	}
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/mint-ct", s.instrument("/mint-ct", s.handleMint))
	r.Post("/introspect-ct", s.instrument("/introspect-ct", s.handleIntrospect))
	r.Post("/ingest-pr", s.instrument("/ingest-pr", s.handleIngest))
	r.Get("/traces/{traceID}", s.instrument("/traces", s.handleTrace))
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.InfoContext(ctx, "gateway shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	if s.telemetry == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, done := s.telemetry.TrackOperation(r.Context(), "gateway.request", observability.GatewayOperation(route)...)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r.WithContext(ctx))
		var err error
		if ww.Status() >= http.StatusBadRequest {
			err = fmt.Errorf("%s returned %d", route, ww.Status())
		}
		done(err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// MintRequest is the /mint-ct body. TTL is in seconds; omitted selects the
// service default.
type MintRequest struct {
	Sub    string         `json:"sub"`
	Act    string         `json:"act"`
	Res    string         `json:"res"`
	Scope  []string       `json:"scope"`
	Limits map[string]any `json:"limits,omitempty"`
	TTL    *int64         `json:"ttl,omitempty"`
}

type MintResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req MintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	issue := capability.IssueRequest{
		Subject:  req.Sub,
		Action:   req.Act,
		Resource: req.Res,
		Scope:    req.Scope,
		Limits:   req.Limits,
	}
	if req.TTL != nil {
		if *req.TTL <= 0 {
			writeError(w, r, malformed("ttl must be positive"))
			return
		}
		issue.TTL = time.Duration(*req.TTL) * time.Second
	}

	tok, err := s.tokens.Issue(r.Context(), issue)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MintResponse{Token: tok.Raw})
}

type IntrospectRequest struct {
	Token string `json:"token"`
}

type IntrospectResponse struct {
	Valid   bool                        `json:"valid"`
	Payload *contracts.CapabilityClaims `json:"payload,omitempty"`
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req IntrospectRequest
	err := decodeBody(r, &req)
	if err == nil && req.Token == "" {
		err = malformed("token is required")
	}
	var claims *contracts.CapabilityClaims
	if err == nil {
		claims, err = s.tokens.Verify(req.Token)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, introspectFailure{Valid: false, ErrorBody: errorBody(w, err)})
		return
	}
	writeJSON(w, http.StatusOK, IntrospectResponse{Valid: true, Payload: claims})
}

type IngestResponse struct {
	OK   bool   `json:"ok"`
	Hash string `json:"hash"`
}

// handleIngest validates the record against the schema, verifies its hash
// and signature, then stores it. Re-ingesting a stored record succeeds.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, malformed("read body: %v", err))
		return
	}
	if err := validateRecordJSON(s.schema, raw); err != nil {
		writeError(w, r, err)
		return
	}
	var rec contracts.ProvenanceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		writeError(w, r, malformed("decode record: %v", err))
		return
	}
	if err := s.provenance.Verify(rec); err != nil {
		s.logger.WarnContext(r.Context(), "rejected provenance record", "agent", rec.Agent, "action", rec.Action, "error", err)
		writeError(w, r, err)
		return
	}
	if err := s.store.Append(r.Context(), rec); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{OK: true, Hash: rec.Hash})
}

type TraceResponse struct {
	TraceID string                       `json:"trace_id"`
	Records []contracts.ProvenanceRecord `json:"records"`
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "traceID")
	records, err := s.store.ListByTrace(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorBody{
			Error:     fmt.Sprintf("trace %q not found", id),
			RequestID: w.Header().Get(requestIDHeader),
		})
		return
	}
	writeJSON(w, http.StatusOK, TraceResponse{TraceID: id, Records: records})
}
