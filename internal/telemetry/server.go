package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dyluth/exofit/internal/mcmc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":9090"

// Pinger checks connectivity to the chain store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state,omitempty"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server serves /healthz and /metrics for a running fit.
type Server struct {
	addr    string
	metrics *Metrics
	state   StateSource
	store   Pinger
	logger  *zap.Logger

	server   *http.Server
	listener net.Listener
}

// NewServer creates a server. store may be nil when no chain store is used.
func NewServer(addr string, metrics *Metrics, state StateSource, store Pinger, logger *zap.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{addr: addr, metrics: metrics, state: state, store: store, logger: logger}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthCheckHandler)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("telemetry server error", zap.String("component", "telemetry"), zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// healthCheckHandler returns 200 with the fit state, or 503 when the chain
// store is configured but unreachable.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "healthy"}
	if s.state != nil {
		response.State = string(s.state.State())
	}

	status := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Redis = "disconnected"
			response.Error = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Redis = "connected"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// compile-time check that the orchestrator can back the health endpoint
var _ StateSource = (*mcmc.Orchestrator)(nil)
