// Command gateway runs the fake-DNS responder and TPROXY bridge together,
// giving a client transparent outbound access through an upstream SOCKS5
// proxy without ever learning a destination's real address.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/faketun/pkg/config"
	"github.com/opd-ai/faketun/pkg/fakedns"
	"github.com/opd-ai/faketun/pkg/logger"
	"github.com/opd-ai/faketun/pkg/pool"
	"github.com/opd-ai/faketun/pkg/tproxy"
)

func main() {
	cfg := config.DefaultGatewayConfig()

	flag.StringVar(&cfg.Pool.BaseAddress, "pool-base", cfg.Pool.BaseAddress, "base IPv4 address of the fake-IP pool")
	flag.IntVar(&cfg.Pool.CIDRLen, "pool-cidr", cfg.Pool.CIDRLen, "prefix length of the fake-IP pool")
	flag.IntVar(&cfg.Pool.InitialCap, "pool-cap", cfg.Pool.InitialCap, "initial capacity hint for the fake-IP pool")
	flag.DurationVar(&cfg.Pool.GCInterval, "gc-interval", cfg.Pool.GCInterval, "how often the pool GC sweep runs")
	flag.DurationVar(&cfg.Pool.GCTimeout, "gc-timeout", cfg.Pool.GCTimeout, "idle duration after which a pool entry is reclaimed")
	flag.StringVar(&cfg.FakeDNSAddr, "dns-listen", cfg.FakeDNSAddr, "UDP listen address for the fake-DNS responder")
	flag.StringVar(&cfg.TProxyAddr, "tcp-listen", cfg.TProxyAddr, "TCP listen address for the TPROXY bridge")
	flag.StringVar(&cfg.UpstreamAddr, "upstream", cfg.UpstreamAddr, "upstream SOCKS5 proxy address")
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
	log := logger.New(level, os.Stdout)

	if err := run(cfg, log); err != nil {
		log.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.GatewayConfig, log *logger.Logger) error {
	addrPool, err := pool.New(&pool.Config{
		BaseAddress: cfg.Pool.BaseAddress,
		CIDRLen:     cfg.Pool.CIDRLen,
		InitialCap:  cfg.Pool.InitialCap,
	}, log)
	if err != nil {
		return fmt.Errorf("create address pool: %w", err)
	}

	dnsServer, err := fakedns.New(cfg.FakeDNSAddr, addrPool, log)
	if err != nil {
		return fmt.Errorf("start fake-dns responder: %w", err)
	}
	defer dnsServer.Close()

	bridge, err := tproxy.Listen(cfg.TProxyAddr, cfg.UpstreamAddr, addrPool, log)
	if err != nil {
		return fmt.Errorf("start tproxy bridge: %w", err)
	}
	defer bridge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- dnsServer.Run(ctx) }()
	go func() { errCh <- bridge.Run(ctx) }()

	go gcLoop(ctx, addrPool, cfg.Pool.GCInterval, cfg.Pool.GCTimeout, log)

	log.Info("gateway started",
		"dns", dnsServer.Addr().String(),
		"tproxy", bridge.Addr().String(),
		"upstream", cfg.UpstreamAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func gcLoop(ctx context.Context, p *pool.AddressPool, interval, timeout time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := p.GC(timeout)
			if n > 0 {
				log.Debug("pool GC reclaimed idle entries", "count", n)
			}
		}
	}
}
