package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gitdeployer/internal/runner"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 60 * time.Second

	// ShutdownTimeout bounds the graceful shutdown of the listener. Running
	// deployments are always waited for.
	ShutdownTimeout = 30 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit  = 60 // Global rate limit per minute
	TriggerRateLimit = 6  // Deploy and webhook rate limit per minute
)

// Server represents the HTTP server
type Server struct {
	Runner   *runner.Runner
	Logger   *slog.Logger
	TestMode bool

	// baseCtx bounds the deployments started asynchronously. It outlives
	// the requests that start them.
	baseCtx context.Context
}

// NewServer creates a server triggering deployments through r. Test mode
// disables rate limiting.
func NewServer(r *runner.Runner, logger *slog.Logger, testMode bool) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Runner:   r,
		Logger:   logger,
		TestMode: testMode,
		baseCtx:  context.Background(),
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	if !s.TestMode {
		r.Use(NewRateLimitMiddleware("global", GlobalRateLimit, s.Logger))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Get("/health", s.HandleHealth)
		r.Get("/status/{target}", s.HandleStatus)
	})

	// Triggers get a stricter limit. Synchronous deploys may outlive the
	// request timeout, so it does not apply here.
	r.Group(func(r chi.Router) {
		if !s.TestMode {
			r.Use(NewRateLimitMiddleware("trigger", TriggerRateLimit, s.Logger))
		}
		r.Post("/deploy/{target}", s.HandleDeploy)
		r.Post("/in/{target}", s.HandleWebhook)
	})

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

// Start serves HTTP until ctx is cancelled, then shuts the listener down and
// waits for in-flight deployments.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Runner.Wait()
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	s.WaitForDeployments()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// WaitForDeployments waits for all in-flight async deployments to complete.
func (s *Server) WaitForDeployments() {
	s.Runner.Wait()
}
