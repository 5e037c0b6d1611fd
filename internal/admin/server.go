// Package admin serves the operational HTTP surface of a running node:
// liveness, readiness, Prometheus metrics and a dry-run translate endpoint.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"pupper/internal/logging"
	"pupper/internal/metrics"
	"pupper/internal/node"
	"pupper/internal/types"
)

const maxTranslateBody = 64 << 10

// Translator runs a translation without publishing it.
type Translator interface {
	Translate(ctx context.Context, req types.CommandRequest) node.Outcome
}

// Config configures the admin server.
type Config struct {
	Addr        string
	ServiceName string
	Version     string
	// TranslateLimit is requests per minute per client IP; 0 disables the limit.
	TranslateLimit int
	ReadyTimeout   time.Duration
}

// Deps are optional collaborators. A nil Translator leaves /v1/translate
// unregistered; nil Metrics leaves /metrics unregistered.
type Deps struct {
	Metrics    *metrics.Metrics
	Translator Translator
	Checkers   []Checker
	Logger     *zap.Logger
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	health *healthManager
	router chi.Router
	logger *zap.Logger
	seq    atomic.Uint64
}

// TranslateRequest is the POST /v1/translate body.
type TranslateRequest struct {
	Utterance string `json:"utterance"`
}

// TranslateResponse is the POST /v1/translate result.
type TranslateResponse struct {
	RequestID string   `json:"request_id"`
	State     string   `json:"state"`
	Actions   []string `json:"actions"`
	Payload   string   `json:"payload"`
	Dropped   []string `json:"dropped,omitempty"`
	Failure   *Failure `json:"failure,omitempty"`
	Duration  string   `json:"duration"`
}

// Failure describes a failed translation.
type Failure struct {
	Kind   types.FailureKind `json:"kind"`
	Stage  types.Stage       `json:"stage"`
	Detail string            `json:"detail,omitempty"`
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pupper"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		health: &healthManager{
			version:  cfg.Version,
			timeout:  cfg.ReadyTimeout,
			checkers: deps.Checkers,
			logger:   logger,
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.health.serveHealth)
	r.Get("/readyz", s.health.serveReady)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	if s.deps.Translator != nil {
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return otelhttp.NewHandler(next, s.cfg.ServiceName,
					otelhttp.WithTracerProvider(otel.GetTracerProvider()),
					otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
						return "HTTP " + r.Method + " " + r.URL.Path
					}),
				)
			})
			if s.cfg.TranslateLimit > 0 {
				r.Use(rateLimit(s.cfg.TranslateLimit, time.Minute))
			}
			r.Post("/v1/translate", s.handleTranslate)
		})
	}
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var body TranslateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTranslateBody))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)}, s.logger)
		return
	}

	req := types.CommandRequest{
		Seq:        s.seq.Add(1),
		ID:         uuid.NewString(),
		Utterance:  body.Utterance,
		ReceivedAt: time.Now(),
	}
	out := s.deps.Translator.Translate(r.Context(), req)

	resp := TranslateResponse{
		RequestID: req.ID,
		State:     string(out.State),
		Actions:   out.Sequence.Strings(),
		Payload:   out.Payload,
		Dropped:   out.Dropped,
		Duration:  out.Duration.String(),
	}
	if f := out.Failure; f != nil {
		resp.Failure = &Failure{Kind: f.Kind, Stage: f.Stage}
		if f.Err != nil {
			resp.Failure.Detail = f.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.API("admin server listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down admin server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
