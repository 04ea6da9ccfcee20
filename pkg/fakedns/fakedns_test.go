package fakedns

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/faketun/pkg/pool"
)

func newTestServerPool(t *testing.T) *pool.AddressPool {
	t.Helper()
	p, err := pool.New(&pool.Config{BaseAddress: "100.64.0.0", CIDRLen: 10, InitialCap: 16}, nil)
	if err != nil {
		t.Fatalf("pool.New() error: %v", err)
	}
	return p
}

func buildQuery(name string) []byte {
	buf := make([]byte, 12, 128)
	buf[4], buf[5] = 0, 1 // QDCOUNT=1
	for _, label := range splitLabels(name) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, []byte(label)...)
	}
	buf = append(buf, 0, 0, 1, 0, 1) // root, TYPE=A, CLASS=IN
	return buf
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestServerAnswersQuery(t *testing.T) {
	addrPool := newTestServerPool(t)
	srv, err := New("127.0.0.1:0", addrPool, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	client, err := net.Dial("udp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()

	query := buildQuery("example.com")
	if _, err := client.Write(query); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 512)
	n, err := client.Read(resp)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if n <= len(query) {
		t.Fatalf("response length %d should exceed query length %d", n, len(query))
	}

	fakeAddr, err := addrPool.Get("example.com")
	if err != nil {
		t.Fatalf("pool.Get() error: %v", err)
	}
	gotAddr := net.IP(resp[n-4 : n]).String()
	if gotAddr != fakeAddr {
		t.Fatalf("answer address = %s, want %s", gotAddr, fakeAddr)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after context cancellation")
	}
}
