package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// OTLP transport protocols accepted in config.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"`
	Protocol       string         `koanf:"protocol"` // ProtocolGRPC (default) or ProtocolHTTP
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Insecure       bool           `koanf:"insecure"` // plaintext transport, local endpoints only
	TLSSkipVerify  bool           `koanf:"tls_skip_verify"`
	Sampling       SamplingConfig `koanf:"sampling"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0, default 1.0
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns telemetry defaults. Export is off until the
// user opts in; most coco installs have no collector running. Set
// COCO_TELEMETRY_ENABLED=true or enable it in coco.yaml.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		ServiceName:    "coco",
		ServiceVersion: "0.1.0",
		Insecure:       true, // local collector default; TLS for anything remote
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 15 * time.Second,
		},
		Shutdown: ShutdownConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}

	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}

	// Plaintext export of pipeline internals stops at the loopback.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}

	if c.Metrics.Enabled && c.Metrics.ExportInterval <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}

	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	return nil
}

// protocol returns the effective transport, defaulting to gRPC.
func (c *Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolGRPC
	}
	return c.Protocol
}

// isLocalEndpoint reports whether the endpoint points at this host.
func (c *Config) isLocalEndpoint() bool {
	host := c.Endpoint

	switch {
	case strings.HasPrefix(host, "["):
		// Bracketed IPv6, with or without a port: [::1]:4317, [::1]
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	case strings.Count(host, ":") == 1:
		// IPv4 or hostname with port: localhost:4317
		if idx := strings.LastIndex(host, ":"); idx != -1 {
			host = host[:idx]
		}
	}
	// Unbracketed IPv6 (::1) falls through with the port attached; the
	// prefix check below still matches it.

	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(c.Endpoint, "::1")
}
