// Package httpmetrics exposes faketun's metrics over HTTP: Prometheus text
// format, JSON, and a simple auto-refreshing dashboard.
package httpmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/opd-ai/faketun/pkg/logger"
	"github.com/opd-ai/faketun/pkg/metrics"
)

// MetricsProvider supplies the snapshot the server exposes.
type MetricsProvider interface {
	Snapshot() *metrics.Snapshot
}

// Server provides HTTP-based metrics exposition.
type Server struct {
	address         string
	metricsProvider MetricsProvider
	logger          *logger.Logger
	server          *http.Server
	listener        net.Listener
	mux             *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new HTTP metrics server.
func NewServer(address string, metricsProvider MetricsProvider, log *logger.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	mux := http.NewServeMux()

	if log == nil {
		log = logger.NewDefault()
	}

	s := &Server{
		address:         address,
		metricsProvider: metricsProvider,
		logger:          log.Component("httpmetrics"),
		mux:             mux,
		ctx:             ctx,
		cancel:          cancel,
	}

	mux.HandleFunc("/metrics", s.handlePrometheusMetrics)
	mux.HandleFunc("/metrics/json", s.handleJSONMetrics)
	mux.HandleFunc("/debug/metrics", s.handleDashboard)
	mux.HandleFunc("/", s.handleIndex)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP metrics server.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	s.listener = listener
	s.logger.Info("HTTP metrics server listening", "address", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP metrics server.
func (s *Server) Stop() error {
	s.logger.Info("stopping HTTP metrics server")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	s.logger.Info("HTTP metrics server stopped")
	return nil
}

// GetAddress returns the actual listening address.
func (s *Server) GetAddress() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.metricsProvider.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	writeCounter(w, "faketun_pool_allocations_total", "Total fake-IP allocations", snap.PoolAllocations)
	writeCounter(w, "faketun_pool_hits_total", "Fake-IP allocations served from an existing entry", snap.PoolHits)
	writeCounter(w, "faketun_pool_misses_total", "Fake-IP allocations that created a new entry", snap.PoolMisses)
	writeCounter(w, "faketun_pool_gc_reclaimed_total", "Pool entries reclaimed by GC", snap.PoolGCReclaimed)
	writeGauge(w, "faketun_pool_active_entries", "Current number of pool entries in use", snap.PoolActive)

	writeCounter(w, "faketun_dns_queries_total", "Total fake-DNS queries received", snap.DNSQueries)
	writeCounter(w, "faketun_dns_answered_total", "Fake-DNS queries answered with a fake address", snap.DNSAnswered)
	writeCounter(w, "faketun_dns_nxdomain_total", "Fake-DNS queries with no matching resolver entry", snap.DNSNXDomain)
	writeCounter(w, "faketun_dns_rejected_total", "Fake-DNS queries rejected as malformed or unsupported", snap.DNSRejected)

	writeCounter(w, "faketun_socks5_connections_total", "Total SOCKS5 connections accepted", snap.Socks5Connections)
	writeCounter(w, "faketun_socks5_http_connect_total", "Connections handled via the HTTP CONNECT fallback", snap.Socks5HTTPConnections)
	writeCounter(w, "faketun_socks5_errors_total", "SOCKS5 handshake errors", snap.Socks5Errors)

	writeCounter(w, "faketun_tproxy_accepted_total", "Total TPROXY connections accepted", snap.TProxyAccepted)
	writeCounter(w, "faketun_tproxy_dial_failures_total", "Upstream dial failures from the TPROXY bridge", snap.TProxyDialFailures)
	writeGauge(w, "faketun_tproxy_active_sessions", "Current number of active TPROXY sessions", snap.TProxyActiveSessions)

	writeCounter(w, "faketun_tunnel_handshakes_total", "Total tunnel handshake attempts", snap.TunnelHandshakes)
	writeCounter(w, "faketun_tunnel_handshake_failures_total", "Failed tunnel handshakes", snap.TunnelHandshakeFailures)
	writeCounter(w, "faketun_tunnel_bytes_relayed_total", "Total bytes relayed through tunnel sessions", snap.TunnelBytesRelayed)
	writeGauge(w, "faketun_tunnel_active_sessions", "Current number of active tunnel sessions", snap.TunnelActiveSessions)
	fmt.Fprintf(w, "# HELP faketun_tunnel_handshake_duration_seconds_avg Average tunnel handshake duration in seconds\n")
	fmt.Fprintf(w, "# TYPE faketun_tunnel_handshake_duration_seconds_avg gauge\n")
	fmt.Fprintf(w, "faketun_tunnel_handshake_duration_seconds_avg %.3f\n", snap.TunnelHandshakeTimeAvg.Seconds())
	fmt.Fprintf(w, "# HELP faketun_tunnel_handshake_duration_seconds_p95 95th percentile tunnel handshake duration in seconds\n")
	fmt.Fprintf(w, "# TYPE faketun_tunnel_handshake_duration_seconds_p95 gauge\n")
	fmt.Fprintf(w, "faketun_tunnel_handshake_duration_seconds_p95 %.3f\n", snap.TunnelHandshakeTimeP95.Seconds())

	writeGauge(w, "faketun_uptime_seconds", "Process uptime in seconds", snap.UptimeSeconds)
}

func writeCounter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func writeGauge(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func (s *Server) handleJSONMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.metricsProvider.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		s.logger.Error("failed to encode metrics", "error", err)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.metricsProvider.Snapshot()
	tmpl := template.Must(template.New("dashboard").Parse(dashboardTemplate))

	data := struct {
		Metrics   *metrics.Snapshot
		Timestamp time.Time
	}{
		Metrics:   snap,
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if err := tmpl.Execute(w, data); err != nil {
		s.logger.Error("failed to render dashboard", "error", err)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>faketun metrics</title></head>
<body>
<h1>faketun metrics</h1>
<ul>
<li><a href="/metrics">/metrics</a> - Prometheus format metrics</li>
<li><a href="/metrics/json">/metrics/json</a> - JSON format metrics</li>
<li><a href="/debug/metrics">/debug/metrics</a> - Real-time dashboard</li>
</ul>
</body>
</html>`)
}

const dashboardTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>faketun metrics dashboard</title>
    <meta http-equiv="refresh" content="5">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
        .container { max-width: 1200px; margin: 0 auto; }
        h1 { color: #333; border-bottom: 3px solid #2a7ae2; padding-bottom: 10px; }
        .timestamp { color: #666; font-size: 0.9em; margin-bottom: 20px; }
        .metrics-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(300px, 1fr)); gap: 20px; }
        .metric-card { background: white; border-radius: 8px; padding: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .metric-card h2 { margin-top: 0; color: #555; font-size: 1.2em; border-bottom: 2px solid #eee; padding-bottom: 10px; }
        .metric-row { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #f0f0f0; }
        .metric-row:last-child { border-bottom: none; }
        .metric-label { color: #666; font-weight: 500; }
        .metric-value { color: #333; font-weight: bold; }
        .danger { color: #dc3545; }
    </style>
</head>
<body>
    <div class="container">
        <h1>faketun metrics dashboard</h1>
        <div class="timestamp">Last updated: {{.Timestamp.Format "2006-01-02 15:04:05 MST"}} (auto-refresh every 5s)</div>
        <div class="metrics-grid">
            <div class="metric-card">
                <h2>Fake-IP pool</h2>
                <div class="metric-row"><span class="metric-label">Active entries:</span><span class="metric-value">{{.Metrics.PoolActive}}</span></div>
                <div class="metric-row"><span class="metric-label">Allocations:</span><span class="metric-value">{{.Metrics.PoolAllocations}}</span></div>
                <div class="metric-row"><span class="metric-label">Hits:</span><span class="metric-value">{{.Metrics.PoolHits}}</span></div>
                <div class="metric-row"><span class="metric-label">Misses:</span><span class="metric-value">{{.Metrics.PoolMisses}}</span></div>
                <div class="metric-row"><span class="metric-label">GC reclaimed:</span><span class="metric-value">{{.Metrics.PoolGCReclaimed}}</span></div>
            </div>
            <div class="metric-card">
                <h2>Fake-DNS</h2>
                <div class="metric-row"><span class="metric-label">Queries:</span><span class="metric-value">{{.Metrics.DNSQueries}}</span></div>
                <div class="metric-row"><span class="metric-label">Answered:</span><span class="metric-value">{{.Metrics.DNSAnswered}}</span></div>
                <div class="metric-row"><span class="metric-label">NXDOMAIN:</span><span class="metric-value">{{.Metrics.DNSNXDomain}}</span></div>
                <div class="metric-row"><span class="metric-label">Rejected:</span><span class="metric-value danger">{{.Metrics.DNSRejected}}</span></div>
            </div>
            <div class="metric-card">
                <h2>SOCKS5</h2>
                <div class="metric-row"><span class="metric-label">Connections:</span><span class="metric-value">{{.Metrics.Socks5Connections}}</span></div>
                <div class="metric-row"><span class="metric-label">HTTP CONNECT:</span><span class="metric-value">{{.Metrics.Socks5HTTPConnections}}</span></div>
                <div class="metric-row"><span class="metric-label">Errors:</span><span class="metric-value danger">{{.Metrics.Socks5Errors}}</span></div>
            </div>
            <div class="metric-card">
                <h2>TPROXY bridge</h2>
                <div class="metric-row"><span class="metric-label">Accepted:</span><span class="metric-value">{{.Metrics.TProxyAccepted}}</span></div>
                <div class="metric-row"><span class="metric-label">Active sessions:</span><span class="metric-value">{{.Metrics.TProxyActiveSessions}}</span></div>
                <div class="metric-row"><span class="metric-label">Dial failures:</span><span class="metric-value danger">{{.Metrics.TProxyDialFailures}}</span></div>
            </div>
            <div class="metric-card">
                <h2>Tunnel</h2>
                <div class="metric-row"><span class="metric-label">Handshakes:</span><span class="metric-value">{{.Metrics.TunnelHandshakes}}</span></div>
                <div class="metric-row"><span class="metric-label">Failures:</span><span class="metric-value danger">{{.Metrics.TunnelHandshakeFailures}}</span></div>
                <div class="metric-row"><span class="metric-label">Active sessions:</span><span class="metric-value">{{.Metrics.TunnelActiveSessions}}</span></div>
                <div class="metric-row"><span class="metric-label">Bytes relayed:</span><span class="metric-value">{{.Metrics.TunnelBytesRelayed}}</span></div>
                <div class="metric-row"><span class="metric-label">Avg handshake time:</span><span class="metric-value">{{printf "%.3fs" .Metrics.TunnelHandshakeTimeAvg.Seconds}}</span></div>
            </div>
            <div class="metric-card">
                <h2>System</h2>
                <div class="metric-row"><span class="metric-label">Uptime:</span><span class="metric-value">{{.Metrics.UptimeSeconds}}s</span></div>
            </div>
        </div>
    </div>
</body>
</html>`
