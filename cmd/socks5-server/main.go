// Command socks5-server runs a standalone SOCKS5 (plus HTTP CONNECT
// fallback) proxy that dials each requested destination directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/faketun/pkg/config"
	"github.com/opd-ai/faketun/pkg/logger"
	"github.com/opd-ai/faketun/pkg/socks5"
)

func main() {
	cfg := config.DefaultSocks5Config()

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to accept SOCKS5/HTTP CONNECT clients on")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout).Component("socks5-server")

	if err := run(cfg, log); err != nil {
		log.Error("socks5-server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Socks5Config, log *logger.Logger) error {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}
	defer ln.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info("socks5-server listening", "address", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go handle(conn, log)
	}
}

func handle(conn net.Conn, log *logger.Logger) {
	defer conn.Close()

	dst, wrapped, err := socks5.ServerHandshake(conn)
	if err != nil {
		log.Debug("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	log = log.Conn(conn.RemoteAddr().String()).Name(dst.String())

	target, err := net.Dial("tcp", dst.String())
	if err != nil {
		log.Warn("dial target failed", "error", err)
		return
	}
	defer target.Close()

	relay(wrapped, target)
}

func relay(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
}
