package pool

import (
	"testing"
	"time"
)

func newTestPool(t *testing.T, cidrLen int) *AddressPool {
	t.Helper()
	p, err := New(&Config{BaseAddress: "100.64.0.0", CIDRLen: cidrLen, InitialCap: 16}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestGetIsStableAndBijective(t *testing.T) {
	p := newTestPool(t, 10)

	a1, err := p.Get("example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	a2, err := p.Get("example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("repeated Get() for the same name returned different addresses: %s vs %s", a1, a2)
	}

	b, err := p.Get("other.example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if a1 == b {
		t.Fatalf("distinct names received the same address: %s", a1)
	}

	name, err := p.GetReverse(a1)
	if err != nil {
		t.Fatalf("GetReverse() error: %v", err)
	}
	if name != "example.com" {
		t.Fatalf("GetReverse(%s) = %s, want example.com", a1, name)
	}
}

func TestGetReverseUnknownAddressErrors(t *testing.T) {
	p := newTestPool(t, 10)
	if _, err := p.GetReverse("100.64.0.5"); err == nil {
		t.Fatalf("expected error for unallocated address")
	}
}

func TestPoolWrapsAroundAndOverwrites(t *testing.T) {
	// A /30 CIDR leaves a 2-bit host space (4 addresses); allocate beyond
	// capacity and confirm the cursor wraps instead of growing unbounded.
	p := newTestPool(t, 30)

	names := []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com", "e.example.com"}
	addrs := make(map[string]string)
	for _, n := range names {
		addr, err := p.Get(n)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", n, err)
		}
		addrs[n] = addr
	}

	if stats := p.Stats(); stats.Size > 4 {
		t.Fatalf("pool should never hold more entries than its address space: size=%d", stats.Size)
	}

	// The most recently allocated name must still resolve.
	last := names[len(names)-1]
	if name, err := p.GetReverse(addrs[last]); err != nil || name != last {
		t.Fatalf("GetReverse(%s) = %s, %v; want %s, nil", addrs[last], name, err, last)
	}
}

func TestGCReclaimsIdleEntries(t *testing.T) {
	p := newTestPool(t, 10)

	addr, err := p.Get("stale.example.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	removed := p.GC(0)
	if removed != 1 {
		t.Fatalf("GC(0) removed %d entries, want 1", removed)
	}

	if _, err := p.GetReverse(addr); err == nil {
		t.Fatalf("expected reclaimed address to no longer resolve")
	}
}

func TestGCKeepsRecentlyAccessedEntries(t *testing.T) {
	p := newTestPool(t, 10)

	if _, err := p.Get("fresh.example.com"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	removed := p.GC(time.Hour)
	if removed != 0 {
		t.Fatalf("GC(1h) removed %d entries, want 0", removed)
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	p := newTestPool(t, 10)

	if _, err := p.Get("example.com"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if _, err := p.Get("example.com"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	stats := p.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Fatalf("Stats() = %+v, want 1 miss and 1 hit", stats)
	}
}
