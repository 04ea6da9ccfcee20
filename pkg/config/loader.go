// Package config provides configuration file loading for faketun-compatible
// "key value" gateway configuration files.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LoadGatewayFromFile loads gateway configuration from a file with one
// option per line, the key and its value separated by whitespace. Lines
// starting with # are comments; empty lines are ignored. Unknown keys are
// ignored for forward compatibility.
func LoadGatewayFromFile(path string, cfg *GatewayConfig) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePath(path); err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - path is validated by validatePath
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 1 {
			continue
		}

		key := parts[0]
		value := ""
		if len(parts) > 1 {
			value = strings.Join(parts[1:], " ")
		}

		if err := processGatewayOption(cfg, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

func processGatewayOption(cfg *GatewayConfig, key, value string) error {
	switch key {
	case "PoolBaseAddress":
		cfg.Pool.BaseAddress = value

	case "PoolCIDRLen":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PoolCIDRLen value: %s", value)
		}
		cfg.Pool.CIDRLen = n

	case "PoolInitialCap":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PoolInitialCap value: %s", value)
		}
		cfg.Pool.InitialCap = n

	case "PoolGCInterval":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid PoolGCInterval: %w", err)
		}
		cfg.Pool.GCInterval = d

	case "PoolGCTimeout":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid PoolGCTimeout: %w", err)
		}
		cfg.Pool.GCTimeout = d

	case "FakeDNSAddr":
		cfg.FakeDNSAddr = value

	case "TProxyAddr":
		cfg.TProxyAddr = value

	case "UpstreamAddr":
		cfg.UpstreamAddr = value

	case "LogLevel":
		cfg.LogLevel = strings.ToLower(value)

	default:
		// Ignore unknown options for forward compatibility.
	}

	return nil
}

// parseDuration parses a duration string with support for common time units.
// Supports: seconds (s), minutes (m), hours (h), days (d)
// Examples: "60s", "5m", "2h", "1d"
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration format: %s", s)
	}

	suffix := s[len(s)-1:]
	valueStr := s[:len(s)-1]

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", s)
	}

	switch suffix {
	case "s", "S":
		return time.Duration(value) * time.Second, nil
	case "m", "M":
		return time.Duration(value) * time.Minute, nil
	case "h", "H":
		return time.Duration(value) * time.Hour, nil
	case "d", "D":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		val, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", s)
		}
		return time.Duration(val) * time.Second, nil
	}
}

// validatePath validates a file path to prevent directory traversal attacks.
func validatePath(path string) error {
	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid path: directory traversal detected")
	}

	if !filepath.IsAbs(path) && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("invalid path: attempts to escape working directory")
	}

	return nil
}

// SaveGatewayToFile saves the gateway configuration as "key value" lines
// that LoadGatewayFromFile reads back.
func SaveGatewayToFile(path string, cfg *GatewayConfig) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePath(path); err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	file, err := os.Create(path) // #nosec G304 - path is validated by validatePath
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	fmt.Fprintf(writer, "# faketun gateway configuration file\n")
	fmt.Fprintf(writer, "# Generated automatically - edit with care\n\n")

	fmt.Fprintf(writer, "# Fake-IP pool\n")
	fmt.Fprintf(writer, "PoolBaseAddress %s\n", cfg.Pool.BaseAddress)
	fmt.Fprintf(writer, "PoolCIDRLen %d\n", cfg.Pool.CIDRLen)
	fmt.Fprintf(writer, "PoolInitialCap %d\n", cfg.Pool.InitialCap)
	fmt.Fprintf(writer, "PoolGCInterval %s\n", formatDuration(cfg.Pool.GCInterval))
	fmt.Fprintf(writer, "PoolGCTimeout %s\n\n", formatDuration(cfg.Pool.GCTimeout))

	fmt.Fprintf(writer, "# Listeners\n")
	fmt.Fprintf(writer, "FakeDNSAddr %s\n", cfg.FakeDNSAddr)
	fmt.Fprintf(writer, "TProxyAddr %s\n", cfg.TProxyAddr)
	fmt.Fprintf(writer, "UpstreamAddr %s\n\n", cfg.UpstreamAddr)

	fmt.Fprintf(writer, "# Logging\n")
	fmt.Fprintf(writer, "LogLevel %s\n", cfg.LogLevel)

	return writer.Flush()
}

// formatDuration formats a duration for writing to a config file
func formatDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 && d >= 24*time.Hour {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	if d%time.Hour == 0 && d >= time.Hour {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	if d%time.Minute == 0 && d >= time.Minute {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}
