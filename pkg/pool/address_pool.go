// Package pool provides the fake-IP address pool that backs the fake-DNS
// responder: a bijective mapping between domain names and synthetic IPv4
// addresses drawn from a private range, plus buffer reuse for the tunnel's
// record codec.
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/faketun/pkg/logger"
)

// entry tracks when a fake address was allocated or last resolved back to
// its name by GetReverse, so the GC sweep can reclaim addresses nothing has
// connected to recently. Repeated Get calls for the name do not refresh it.
type entry struct {
	name       string
	lastAccess time.Time
}

// Config configures an AddressPool.
type Config struct {
	// BaseAddress is the first address of the pool's CIDR block, e.g. 100.64.0.0.
	BaseAddress string
	// CIDRLen is the network prefix length, e.g. 10 for a /10.
	CIDRLen int
	// InitialCap hints the initial size of the pool's internal maps.
	InitialCap int
}

// DefaultConfig returns the pool defaults used by faketun's gateway.
func DefaultConfig() *Config {
	return &Config{
		BaseAddress: "100.64.0.0",
		CIDRLen:     10,
		InitialCap:  0x1000,
	}
}

// AddressPool assigns synthetic IPv4 addresses to domain names on first
// lookup and reverses them back to the originating name once a client
// connects to the address. The mapping is a true bijection: each name maps
// to exactly one address at a time and vice versa.
type AddressPool struct {
	mu      sync.Mutex
	log     *logger.Logger
	base    uint32
	mask    uint32
	current uint32
	entries map[string]uint32 // name -> offset into the pool
	reverse map[uint32]*entry // offset -> entry

	hits   uint64
	misses uint64
}

// New creates an AddressPool over the CIDR block described by cfg.
func New(cfg *Config, log *logger.Logger) (*AddressPool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CIDRLen < 0 || cfg.CIDRLen > 32 {
		return nil, fmt.Errorf("invalid CIDRLen: %d", cfg.CIDRLen)
	}

	base, err := ip4ToU32(cfg.BaseAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseAddress: %w", err)
	}

	mask := uint32(0)
	if cfg.CIDRLen < 32 {
		mask = (uint32(1) << (32 - cfg.CIDRLen)) - 1
	}

	if log == nil {
		log = logger.NewDefault()
	}

	return &AddressPool{
		log:     log.Component("pool"),
		base:    base,
		mask:    mask,
		entries: make(map[string]uint32, cfg.InitialCap),
		reverse: make(map[uint32]*entry, cfg.InitialCap),
	}, nil
}

// Get returns the fake IPv4 address assigned to name, allocating a new one
// if name hasn't been seen before. Allocation scans forward from the cursor
// (the first name gets the base address) for a free slot, wrapping around;
// once the space is exhausted it overwrites the slot the scan started from,
// which is the oldest allocation in cursor order.
func (p *AddressPool) Get(name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset, ok := p.entries[name]; ok {
		p.hits++
		return u32ToIP4(p.base + offset), nil
	}

	p.misses++
	start := p.current
	for {
		if _, taken := p.reverse[p.current]; !taken {
			break
		}
		p.current = (p.current + 1) & p.mask
		if p.current == start {
			// Pool exhausted: overwrite the slot the scan started from.
			break
		}
	}

	if old, taken := p.reverse[p.current]; taken {
		delete(p.entries, old.name)
	}

	offset := p.current
	p.current = (offset + 1) & p.mask
	p.entries[name] = offset
	p.reverse[offset] = &entry{name: name, lastAccess: time.Now()}

	p.log.Name(name).Debug("allocated fake address", "addr", u32ToIP4(p.base+offset))
	return u32ToIP4(p.base + offset), nil
}

// GetReverse resolves a fake IPv4 address back to the domain name it was
// allocated for, refreshing its last-access time so the GC sweep keeps it
// alive. Returns an error if addr was never allocated (or was already
// reclaimed).
func (p *AddressPool) GetReverse(addr string) (string, error) {
	target, err := ip4ToU32(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	offset := target - p.base
	e, ok := p.reverse[offset]
	if !ok {
		return "", fmt.Errorf("no name assigned to %s", addr)
	}
	e.lastAccess = time.Now()
	return e.name, nil
}

// GC removes entries that have not been accessed within timeout. Returns the
// number of entries reclaimed.
func (p *AddressPool) GC(timeout time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	removed := 0
	for offset, e := range p.reverse {
		if now.Sub(e.lastAccess) >= timeout {
			delete(p.reverse, offset)
			delete(p.entries, e.name)
			removed++
		}
	}

	if removed > 0 {
		p.log.Debug("gc reclaimed entries", "removed", removed, "total", len(p.reverse))
	}
	return removed
}

// Stats reports the current size of the pool's live mapping plus cumulative
// hit/miss counters for Get.
type Stats struct {
	Size   int
	Hits   uint64
	Misses uint64
}

// Stats returns a snapshot of the pool's current statistics.
func (p *AddressPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:   len(p.entries),
		Hits:   p.hits,
		Misses: p.misses,
	}
}
