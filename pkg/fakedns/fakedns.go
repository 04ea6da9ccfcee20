// Package fakedns runs a UDP service that answers every A-record query with
// a synthetic address drawn from an AddressPool, so a client's normal DNS
// resolution path can be redirected through a TPROXY bridge without the
// client ever learning the destination's real address.
package fakedns

import (
	"context"
	"net"
	"strings"

	"github.com/opd-ai/faketun/pkg/dnswire"
	"github.com/opd-ai/faketun/pkg/ferrors"
	"github.com/opd-ai/faketun/pkg/logger"
	"github.com/opd-ai/faketun/pkg/pool"
)

// defaultTTL is returned in every answer. It is kept at 1 second on purpose:
// a longer TTL would let a client cache a fake address past the pool's GC
// sweep, so short-lived answers encourage the client to re-resolve instead.
const defaultTTL = 1

// Server answers A-record queries by allocating (or reusing) a fake address
// for the queried name in an AddressPool.
type Server struct {
	conn *net.UDPConn
	pool *pool.AddressPool
	log  *logger.Logger
}

// New binds a UDP listener at listenAddr and returns a Server ready to Run.
func New(listenAddr string, addrPool *pool.AddressPool, log *logger.Logger) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, ferrors.DNSErr("resolve listen address", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, ferrors.DNSErr("listen", err)
	}

	if log == nil {
		log = logger.NewDefault()
	}

	return &Server{conn: conn, pool: addrPool, log: log.Component("fakedns")}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close closes the underlying UDP socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run processes datagrams until ctx is cancelled or the socket errors.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := pool.DNSMessageBufferPool.Get()
	defer pool.DNSMessageBufferPool.Put(buf)

	for {
		n, clientAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return ferrors.DNSErr("read datagram", err)
			}
		}

		respLen := s.handle(buf, n)
		if respLen == 0 {
			continue
		}
		if _, err := s.conn.WriteToUDP(buf[:respLen], clientAddr); err != nil {
			s.log.Warn("failed to write response", "error", err, "client", clientAddr.String())
		}
	}
}

// handle parses and answers a single datagram in place, returning the
// response length (0 if the datagram should be dropped silently).
func (s *Server) handle(buf []byte, n int) int {
	msg, err := dnswire.Parse(buf, n)
	if err != nil {
		s.log.Debug("dropping unparseable datagram", "error", err)
		return 0
	}

	return msg.RespondWith(func(labels []string) ([4]byte, uint32, bool) {
		name := strings.Join(labels, ".")
		addrStr, err := s.pool.Get(name)
		if err != nil {
			s.log.Warn("pool allocation failed", "name", name, "error", err)
			return [4]byte{}, 0, false
		}
		ip := net.ParseIP(addrStr).To4()
		if ip == nil {
			return [4]byte{}, 0, false
		}
		var addr [4]byte
		copy(addr[:], ip)
		return addr, defaultTTL, true
	})
}
