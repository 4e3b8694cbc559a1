// Package api serves scan status and Prometheus metrics over HTTP while a
// scan is running.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/qubo/internal/logging"
	"github.com/anstrom/qubo/internal/metrics"
	"github.com/anstrom/qubo/internal/scanning"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 5 * time.Second
)

// StatusProvider reports the state of the running scan.
type StatusProvider interface {
	Status() scanning.Status
}

// Config holds status server configuration.
type Config struct {
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`
}

// DefaultConfig returns default status server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           9100,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
		EnableCORS:     false,
		CORSOrigins:    []string{"*"},
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server represents the status server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	provider   StatusProvider
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
	version    string
	startTime  time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a status server. metrics may be nil, in which case /metrics is
// not served.
func New(cfg Config, provider StatusProvider, pm *metrics.PrometheusMetrics, logger *logging.Logger, version string) *Server {
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:    mux.NewRouter(),
		provider:  provider,
		metrics:   pm,
		logger:    logger.WithComponent("api"),
		version:   version,
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.setupMiddleware(cfg)

	s.httpServer = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	return s
}

// Listen binds the configured address. Start calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.logger.Info("Starting status server", "address", s.Addr())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("status server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Status server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Status server stopped")
	return nil
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/version", s.versionHandler).Methods(http.MethodGet)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware(cfg Config) {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	if cfg.EnableCORS {
		corsOptions := handlers.AllowedOrigins(cfg.CORSOrigins)
		corsMethods := handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions})
		s.router.Use(handlers.CORS(corsOptions, corsMethods))
	}
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse wraps the scan status with server information.
type StatusResponse struct {
	scanning.Status
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"liveness": "/api/v1/liveness",
		"status":   "/api/v1/status",
		"version":  "/api/v1/version",
	}
	if s.metrics != nil {
		endpoints["metrics"] = "/metrics"
	}

	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"service":   "qubo",
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.provider == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("no scan attached"))
		return
	}

	s.WriteJSON(w, r, http.StatusOK, StatusResponse{
		Status:    s.provider.Status(),
		Uptime:    time.Since(s.startTime).String(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"service":   "qubo",
		"version":   s.version,
		"timestamp": time.Now().UTC(),
	})
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	payload, err := sonic.Marshal(data)
	if err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Warn("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.WriteJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in API handler",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method)
				s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
