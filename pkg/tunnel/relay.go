package tunnel

import (
	"crypto/cipher"
	"io"
	"net"

	"github.com/opd-ai/faketun/pkg/logger"
)

// halfCloser is implemented by net.TCPConn and similar connections that can
// shut down one direction without tearing down the whole socket.
type halfCloser interface {
	CloseWrite() error
}

// Relay moves data between local (a plaintext application connection) and
// remote (the AEAD tunnel connection) until both directions have ended,
// sealing everything written to remote and opening everything read from it.
// Both directions are always shut down on return, regardless of which side
// errored first, so neither a server nor a client hangs with a half-open
// connection.
func Relay(local, remote net.Conn, aead cipher.AEAD, log *logger.Logger) {
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.Component("tunnel")

	enc := NewEncryptWriter(remote, aead)
	dec := NewDecryptReader(remote, aead)

	done := make(chan struct{}, 2)

	go func() {
		defer shutdownWrite(remote)
		if _, err := io.Copy(enc, local); err != nil {
			log.Debug("local-to-remote copy ended", "error", err)
		}
		done <- struct{}{}
	}()

	go func() {
		defer shutdownWrite(local)
		if _, err := io.Copy(local, dec); err != nil {
			log.Debug("remote-to-local copy ended", "error", err)
		}
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
