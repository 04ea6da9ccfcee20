package config

import "testing"

func TestDefaultPoolConfigValidates(t *testing.T) {
	c := DefaultPoolConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("default pool config should validate: %v", err)
	}
}

func TestPoolConfigRejectsBadCIDR(t *testing.T) {
	c := DefaultPoolConfig()
	c.CIDRLen = 40
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range CIDRLen")
	}
}

func TestDefaultGatewayConfigValidates(t *testing.T) {
	c := DefaultGatewayConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("default gateway config should validate: %v", err)
	}
}

func TestGatewayConfigCloneIsIndependent(t *testing.T) {
	c := DefaultGatewayConfig()
	clone := c.Clone()
	clone.Pool.CIDRLen = 24
	if c.Pool.CIDRLen == 24 {
		t.Fatalf("mutating the clone's pool should not affect the original")
	}
}

func TestGatewayConfigRejectsMissingAddr(t *testing.T) {
	c := DefaultGatewayConfig()
	c.FakeDNSAddr = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty FakeDNSAddr")
	}
}

func TestTunnelConfigsValidate(t *testing.T) {
	if err := DefaultTunnelServerConfig().Validate(); err != nil {
		t.Fatalf("default tunnel server config should validate: %v", err)
	}
	if err := DefaultTunnelClientConfig().Validate(); err != nil {
		t.Fatalf("default tunnel client config should validate: %v", err)
	}
}

func TestSocks5ConfigValidate(t *testing.T) {
	c := DefaultSocks5Config()
	if err := c.Validate(); err != nil {
		t.Fatalf("default socks5 config should validate: %v", err)
	}
	c.ListenAddr = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for empty ListenAddr")
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	c := DefaultSocks5Config()
	c.LogLevel = "verbose"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for invalid LogLevel")
	}
}
