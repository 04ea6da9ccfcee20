// Command tunnel runs either side of faketun's camouflaged AEAD tunnel, or
// generates a fresh pre-shared key for a server/client pair.
package main

import (
	"context"
	"crypto/cipher"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/faketun/pkg/config"
	"github.com/opd-ai/faketun/pkg/logger"
	"github.com/opd-ai/faketun/pkg/metrics"
	"github.com/opd-ai/faketun/pkg/socks5"
	"github.com/opd-ai/faketun/pkg/tunnel"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "client":
		runClient(os.Args[2:])
	case "gen-psk":
		runGenPSK(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tunnel <server|client|gen-psk> [flags]")
}

func runGenPSK(args []string) {
	fs := flag.NewFlagSet("gen-psk", flag.ExitOnError)
	fs.Parse(args)

	psk, err := tunnel.GeneratePSK()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate psk: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(psk)
}

func runServer(args []string) {
	cfg := config.DefaultTunnelServerConfig()
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	fs.StringVar(&cfg.PSKPath, "k", cfg.PSKPath, "path to the pre-shared key file")
	fs.StringVar(&cfg.ListenAddr, "l", cfg.ListenAddr, "address to accept tunnel clients on")
	fs.StringVar(&cfg.FakeHeader.Path, "f", cfg.FakeHeader.Path, "path to the fake response header file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	fs.Parse(args)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout).Component("tunnel-server")

	if err := serve(cfg, log); err != nil {
		log.Error("tunnel server exited with error", "error", err)
		os.Exit(1)
	}
}

func serve(cfg *config.TunnelServerConfig, log *logger.Logger) error {
	aead, err := tunnel.LoadCipher(cfg.PSKPath)
	if err != nil {
		return fmt.Errorf("load cipher: %w", err)
	}
	fakeHeader := tunnel.LoadFakeHeader(cfg.FakeHeader.Path)

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

	m := metrics.New()
	log.Info("tunnel server listening", "address", ln.Addr().String())

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
		go handleServerConn(conn, aead, fakeHeader, m, log)
	}
}

func handleServerConn(remote net.Conn, aead cipher.AEAD, fakeHeader []byte, m *metrics.Metrics, log *logger.Logger) {
	defer remote.Close()

	start := time.Now()
	dst, err := tunnel.ServerHandshake(remote, fakeHeader, aead)
	m.RecordTunnelHandshake(err == nil, time.Since(start))
	if err != nil {
		log.Debug("tunnel handshake failed", "remote", remote.RemoteAddr(), "error", err)
		return
	}

	log = log.Conn(remote.RemoteAddr().String()).Name(net.JoinHostPort(dst.Host, fmt.Sprint(dst.Port)))

	target, err := net.Dial("tcp", net.JoinHostPort(dst.Host, fmt.Sprint(dst.Port)))
	if err != nil {
		log.Warn("dial target failed", "error", err)
		return
	}
	defer target.Close()

	tunnel.Relay(target, remote, aead, log)
}

func runClient(args []string) {
	cfg := config.DefaultTunnelClientConfig()
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	fs.StringVar(&cfg.PSKPath, "k", cfg.PSKPath, "path to the pre-shared key file")
	fs.StringVar(&cfg.ListenAddr, "l", cfg.ListenAddr, "local address to accept SOCKS5/HTTP CONNECT clients on")
	fs.StringVar(&cfg.ServerAddr, "s", cfg.ServerAddr, "tunnel server address to connect to")
	fs.StringVar(&cfg.FakeHeader.Path, "f", cfg.FakeHeader.Path, "path to the fake request header file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	fs.Parse(args)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(level, os.Stdout).Component("tunnel-client")

	if err := client(cfg, log); err != nil {
		log.Error("tunnel client exited with error", "error", err)
		os.Exit(1)
	}
}

func client(cfg *config.TunnelClientConfig, log *logger.Logger) error {
	aead, err := tunnel.LoadCipher(cfg.PSKPath)
	if err != nil {
		return fmt.Errorf("load cipher: %w", err)
	}
	fakeHeader := tunnel.LoadFakeHeader(cfg.FakeHeader.Path)

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

	m := metrics.New()
	log.Info("tunnel client listening", "address", ln.Addr().String(), "server", cfg.ServerAddr)

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
		go handleClientConn(conn, cfg.ServerAddr, aead, fakeHeader, m, log)
	}
}

func handleClientConn(local net.Conn, serverAddr string, aead cipher.AEAD, fakeHeader []byte, m *metrics.Metrics, log *logger.Logger) {
	defer local.Close()

	dst, wrapped, err := socks5.ServerHandshake(local)
	if err != nil {
		log.Debug("local handshake failed", "remote", local.RemoteAddr(), "error", err)
		return
	}

	remote, err := net.Dial("tcp", serverAddr)
	if err != nil {
		log.Warn("dial tunnel server failed", "error", err)
		return
	}
	defer remote.Close()

	host := dst.Domain
	if host == "" {
		host = dst.Addr.String()
	}

	start := time.Now()
	err = tunnel.ClientHandshake(remote, fakeHeader, aead, tunnel.Dst{Host: host, Port: dst.Port})
	m.RecordTunnelHandshake(err == nil, time.Since(start))
	if err != nil {
		log.Warn("tunnel handshake failed", "dst", dst.String(), "error", err)
		return
	}

	tunnel.Relay(wrapped, remote, aead, log)
}
