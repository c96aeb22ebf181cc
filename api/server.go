// Package api - Thin HTTP layer over the engine
// The API is ONLY responsible for: input ingestion, engine orchestration, output serialization.
// The API NEVER scores or allocates.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"portfolio-optimizer/core/engine"
	"portfolio-optimizer/internal/errors"
	"portfolio-optimizer/internal/logging"
	"portfolio-optimizer/internal/metrics"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = 0

// Options configures the server
type Options struct {
	Address      string
	Version      string
	Registry     *engine.Registry
	Metrics      *metrics.Registry
	Logger       *zap.Logger
	SolveTimeout time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the API server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	registry *engine.Registry
	metrics  *metrics.Registry
	logger   *zap.Logger
	version  string
	timeout  time.Duration
	upgrader websocket.Upgrader
}

// New creates a server. Registry is required; Metrics may be nil.
func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.Config("api server needs an engine registry", nil)
	}
	s := &Server{
		router:   chi.NewRouter(),
		registry: opts.Registry,
		metrics:  opts.Metrics,
		logger:   logging.Named(logging.OrNop(opts.Logger), "api"),
		version:  opts.Version,
		timeout:  opts.SolveTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         opts.Address,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestID)
	s.router.Use(s.loggingMiddleware)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/portfolios/{id}", func(r chi.Router) {
		r.Post("/signals", s.handleSignals)
		r.Post("/optimize", s.handleOptimize)
		r.Get("/recommendations", s.handleHistory)
		r.Get("/recommendations/latest", s.handleLatest)
		r.Get("/recommendations/{version}", s.handleVersionGet)
		r.Get("/recommendations/{version}/diff", s.handleDiff)
		r.Get("/alerts", s.handleAlerts)
	})

	s.router.Get("/ws/portfolios/{id}", s.handlePortfolioStream)
	s.router.Get("/ws/alerts", s.handleAlertStream)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestID assigns a uuid to every request, keeping a caller-supplied one
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestIDFrom returns the request ID stored on a context
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// loggingMiddleware logs HTTP requests and counts them by route
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.RecordRequest(route, ww.Status())
		}
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestIDFrom(r.Context())),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, status := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("request_id", RequestIDFrom(r.Context())), zap.Error(err))
	}
	s.writeJSON(w, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   err.Error(),
		RequestID: RequestIDFrom(r.Context()),
	}}, status)
}

// classify maps the error taxonomy to an error code and HTTP status
func classify(err error) (string, int) {
	t, ok := errors.TypeOf(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "CANCELLED", http.StatusServiceUnavailable
		}
		return string(errors.TypeInternal), http.StatusInternalServerError
	}
	switch t {
	case errors.TypeValidation:
		return string(t), http.StatusBadRequest
	case errors.TypeNotFound:
		return string(t), http.StatusNotFound
	case errors.TypeCyclicDependency, errors.TypeInfeasible:
		return string(t), http.StatusUnprocessableEntity
	case errors.TypeSuperseded:
		return string(t), http.StatusConflict
	case errors.TypeStorage:
		return string(t), http.StatusServiceUnavailable
	default:
		return string(t), http.StatusInternalServerError
	}
}
