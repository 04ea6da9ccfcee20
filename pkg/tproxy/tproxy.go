// Package tproxy implements a Linux transparent-proxy bridge: it accepts
// connections redirected by an IP_TRANSPARENT TPROXY iptables rule, recovers
// the client's original destination from the accepted socket's local
// address, reverses that fake address back to a domain name via an
// AddressPool, and relays the connection through an upstream SOCKS5 proxy
// using the domain name (never the fake address) as the CONNECT target.
//
// TPROXY differs from REDIRECT: REDIRECT rewrites the destination and
// exposes the original one via SO_ORIGINAL_DST, while TPROXY preserves the
// original destination as the socket's own local address and requires the
// listening socket to carry IP_TRANSPARENT (and the process CAP_NET_ADMIN).
package tproxy

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/opd-ai/faketun/pkg/ferrors"
	"github.com/opd-ai/faketun/pkg/logger"
	"github.com/opd-ai/faketun/pkg/pool"
	"github.com/opd-ai/faketun/pkg/socks5"
	"golang.org/x/sys/unix"
)

// Bridge accepts TPROXY-redirected connections and relays them through an
// upstream SOCKS5 proxy.
type Bridge struct {
	ln           net.Listener
	pool         *pool.AddressPool
	upstreamAddr string
	log          *logger.Logger
}

// Listen binds a TPROXY-capable TCP listener at addr. The calling process
// needs CAP_NET_ADMIN for IP_TRANSPARENT to take effect.
func Listen(addr, upstreamAddr string, addrPool *pool.AddressPool, log *logger.Logger) (*Bridge, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var controlErr error
			err := c.Control(func(fd uintptr) {
				controlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
			})
			if err != nil {
				return err
			}
			return controlErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, ferrors.TProxyErr("listen with IP_TRANSPARENT", err)
	}

	if log == nil {
		log = logger.NewDefault()
	}

	return &Bridge{ln: ln, pool: addrPool, upstreamAddr: upstreamAddr, log: log.Component("tproxy")}, nil
}

// Addr returns the address the bridge is listening on.
func (b *Bridge) Addr() net.Addr {
	return b.ln.Addr()
}

// Close closes the underlying listener.
func (b *Bridge) Close() error {
	return b.ln.Close()
}

// Run accepts connections until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.ln.Close()
	}()

	for {
		conn, err := b.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return ferrors.TProxyErr("accept", err)
			}
		}
		go b.handle(ctx, conn)
	}
}

// handle resolves conn's original destination and relays it through the
// upstream SOCKS5 proxy.
func (b *Bridge) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok || local.IP.To4() == nil {
		b.log.Warn("accepted connection without an IPv4 local address", "local", conn.LocalAddr())
		return
	}

	name, err := b.pool.GetReverse(local.IP.String())
	if err != nil {
		b.log.Warn("no fake-pool entry for destination", "addr", local.IP.String(), "error", err)
		return
	}

	log := b.log.Conn(conn.RemoteAddr().String()).Name(name)

	upstream, err := net.Dial("tcp", b.upstreamAddr)
	if err != nil {
		log.Warn("failed to dial upstream socks5 proxy", "error", err)
		return
	}
	defer upstream.Close()

	dst := socks5.Dst{Domain: name, Port: uint16(local.Port)}
	if err := socks5.ClientHandshake(upstream, dst); err != nil {
		log.Warn("socks5 handshake with upstream failed", "error", err)
		return
	}

	relay(conn, upstream)
}

// halfCloser is implemented by net.TCPConn and similar connections that can
// shut down one direction without tearing down the whole socket.
type halfCloser interface {
	CloseWrite() error
}

// relay copies in both directions until both sides reach EOF, half-closing
// each side's write half as its own copy finishes so the opposite direction
// can still drain in flight rather than being torn down mid-write.
func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer shutdownWrite(b)
		io.Copy(b, a)
		done <- struct{}{}
	}()
	go func() {
		defer shutdownWrite(a)
		io.Copy(a, b)
		done <- struct{}{}
	}()

	<-done
	<-done
}

// shutdownWrite half-closes conn's write side if it supports it, falling
// back to a full close otherwise. Either way the peer observes EOF.
func shutdownWrite(conn net.Conn) {
	if hc, ok := conn.(halfCloser); ok {
		hc.CloseWrite()
		return
	}
	conn.Close()
}
