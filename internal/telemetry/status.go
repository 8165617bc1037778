package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/readygate/internal/probe"
)

// HealthStatus represents the readiness state reported over HTTP
type HealthStatus string

const (
	HealthStatusReady   HealthStatus = "ready"
	HealthStatusWaiting HealthStatus = "waiting"
)

// Status tracks which targets have accepted a connection so far.
type Status struct {
	mu      sync.RWMutex
	order   []string
	up      map[string]bool
	started time.Time
}

func NewStatus(targets []string) *Status {
	return &Status{
		order:   append([]string(nil), targets...),
		up:      make(map[string]bool, len(targets)),
		started: time.Now(),
	}
}

// ObserveAttempt marks the target up after its first successful probe.
func (s *Status) ObserveAttempt(_ context.Context, r probe.Result) {
	if !r.OK {
		return
	}
	s.mu.Lock()
	s.up[r.Target] = true
	s.mu.Unlock()
}

// Pending returns the targets not yet reachable, in evaluation order.
func (s *Status) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, name := range s.order {
		if !s.up[name] {
			out = append(out, name)
		}
	}
	return out
}

func (s *Status) Ready() bool { return len(s.Pending()) == 0 }

// HealthResponse is the body served on /health.
type HealthResponse struct {
	Status  HealthStatus `json:"status"`
	Pending []string     `json:"pending,omitempty"`
	Waited  string       `json:"waited"`
}

// StatusServer serves readiness and metrics while the gate is waiting
type StatusServer struct {
	status    *Status
	collector *Collector
	server    *http.Server
	ln        net.Listener
}

// NewStatusServer creates a new status server. collector may be nil.
func NewStatusServer(addr string, status *Status, collector *Collector) *StatusServer {
	ss := &StatusServer{status: status, collector: collector}
	mux := http.NewServeMux()
	ss.setupRoutes(mux)
	ss.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ss
}

func (ss *StatusServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", ss.healthHandler)
	mux.HandleFunc("/metrics", ss.metricsHandler)
	mux.HandleFunc("/api/metrics", ss.apiMetricsHandler)
}

// healthHandler returns 200 once every target is up and 503 before that
func (ss *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	pending := ss.status.Pending()
	resp := HealthResponse{
		Status:  HealthStatusReady,
		Pending: pending,
		Waited:  time.Since(ss.status.started).Truncate(time.Millisecond).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if len(pending) > 0 {
		resp.Status = HealthStatusWaiting
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// metricsHandler provides Prometheus-style metrics
func (ss *StatusServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if ss.collector == nil {
		return
	}
	typed := map[string]bool{}
	for _, metric := range ss.collector.GetMetrics() {
		labelStr := formatLabels(metric.Labels)
		switch metric.Type {
		case Timer:
			if !typed[metric.Name] {
				fmt.Fprintf(w, "# TYPE %s_ms summary\n", metric.Name)
				typed[metric.Name] = true
			}
			fmt.Fprintf(w, "%s_ms_sum%s %g\n", metric.Name, labelStr, metric.Value)
			fmt.Fprintf(w, "%s_ms_count%s %d\n", metric.Name, labelStr, metric.Count)
		default:
			if !typed[metric.Name] {
				fmt.Fprintf(w, "# TYPE %s_total counter\n", metric.Name)
				typed[metric.Name] = true
			}
			fmt.Fprintf(w, "%s_total%s %g\n", metric.Name, labelStr, metric.Value)
		}
	}
}

// apiMetricsHandler provides JSON metrics API
func (ss *StatusServer) apiMetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := []Metric{}
	if ss.collector != nil {
		metrics = ss.collector.GetMetrics()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metrics)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, v))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

// Start binds the listener and serves in the background.
func (ss *StatusServer) Start() error {
	ln, err := net.Listen("tcp", ss.server.Addr)
	if err != nil {
		return fmt.Errorf("listen status: %w", err)
	}
	ss.ln = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("Starting status server")
	go func() {
		if err := ss.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (ss *StatusServer) Addr() string {
	if ss.ln == nil {
		return ss.server.Addr
	}
	return ss.ln.Addr().String()
}

// Shutdown gracefully shuts down the status server
func (ss *StatusServer) Shutdown(ctx context.Context) error {
	if ss.ln == nil {
		return nil
	}
	return ss.server.Shutdown(ctx)
}
