package pool

import (
	"sync"
)

// BufferPool provides a pool of byte slices for reuse
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

// Get retrieves a buffer from the pool
func (p *BufferPool) Get() []byte {
	// Safe type assertion with ok check (AUDIT-R-001: Fixed)
	obj := p.pool.Get()
	bufPtr, ok := obj.(*[]byte)
	if !ok {
		// This should never happen with our pool, but be defensive
		// Return a new buffer instead of panicking (AUDIT-R-001)
		// This prevents crashing the entire process on unexpected pool behavior
		buf := make([]byte, p.size)
		return buf
	}
	return (*bufPtr)[:p.size]
}

// Put returns a buffer to the pool
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) < p.size {
		// Don't pool buffers that are too small
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// DNSMessageBufferPool is a pre-configured pool for UDP DNS message buffers
// (512 bytes covers the non-EDNS0 datagram size the fake-DNS responder
// expects).
var DNSMessageBufferPool = NewBufferPool(512)

// TunnelRecordBufferPool is a pre-configured pool for the tunnel's framed
// record ciphertext, sized to the common case so steady-state relay traffic
// rarely needs a fresh allocation; larger records fall back to one.
var TunnelRecordBufferPool = NewBufferPool(4096)
