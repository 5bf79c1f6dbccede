// Package health serves a node's /healthz and /metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dyluth/hive/internal/hive"
)

// Pinger checks transport connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusFunc fetches the node's current state.
type StatusFunc func(ctx context.Context) (hive.State, error)

// Server provides HTTP health check and metrics endpoints for a node.
type Server struct {
	addr     string
	pinger   Pinger
	status   StatusFunc
	gatherer prometheus.Gatherer
	log      zerolog.Logger
}

// NewServer creates a health server. A nil gatherer disables /metrics.
func NewServer(addr string, pinger Pinger, status StatusFunc, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		pinger:   pinger,
		status:   status,
		gatherer: gatherer,
		log:      log,
	}
}

// Handler returns the server's routes.
func (h *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.healthCheckHandler)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (h *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	return h.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (h *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	h.log.Info().Str("event", "health_server_started").Str("addr", ln.Addr().String()).Msg("")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// healthCheckHandler handles GET /healthz requests.
// Returns 200 OK if the transport is reachable, 503 Service Unavailable otherwise.
func (h *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Transport: "connected"}
	code := http.StatusOK

	if err := h.pinger.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Transport = "disconnected"
		response.Error = err.Error()
		code = http.StatusServiceUnavailable
	}

	if h.status != nil {
		if state, err := h.status(ctx); err == nil {
			response.Node = &state
		} else if response.Error == "" {
			response.Status = "unhealthy"
			response.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status    string      `json:"status"`
	Transport string      `json:"transport"`
	Error     string      `json:"error,omitempty"`
	Node      *hive.State `json:"node,omitempty"`
}
