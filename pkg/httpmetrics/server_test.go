package httpmetrics

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/faketun/pkg/metrics"
)

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	s := NewServer("127.0.0.1:0", m, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, m
}

func TestPrometheusMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(t)
	m.PoolAllocations.Inc()

	resp, err := http.Get("http://" + s.GetAddress() + "/metrics")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "faketun_pool_allocations_total 1") {
		t.Fatalf("missing pool allocations line in:\n%s", body)
	}
}

func TestJSONMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(t)
	m.Socks5Connections.Inc()

	resp, err := http.Get("http://" + s.GetAddress() + "/metrics/json")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if snap.Socks5Connections != 1 {
		t.Fatalf("Socks5Connections = %d, want 1", snap.Socks5Connections)
	}
}

func TestDashboardEndpointRenders(t *testing.T) {
	s, _ := newTestServer(t)

	resp, err := http.Get("http://" + s.GetAddress() + "/debug/metrics")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "faketun metrics dashboard") {
		t.Fatalf("dashboard body missing title:\n%s", body)
	}
}

func TestIndexEndpointListsLinks(t *testing.T) {
	s, _ := newTestServer(t)

	resp, err := http.Get("http://" + s.GetAddress() + "/")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "/metrics/json") {
		t.Fatalf("index body missing link:\n%s", body)
	}
}

func TestStopAfterStartIsClean(t *testing.T) {
	m := metrics.New()
	s := NewServer("127.0.0.1:0", m, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}
