package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// SecurityConfig defines security settings.
type SecurityConfig struct {
	AuthEnabled bool     `json:"auth_enabled"`
	AuthTokens  []string `json:"auth_tokens"`
	TLSEnabled  bool     `json:"tls_enabled"`
	TLSCert     string   `json:"tls_cert"`
	TLSKey      string   `json:"tls_key"`
}

// RateLimitConfig defines rate limiting settings.
type RateLimitConfig struct {
	Enabled        bool    `json:"enabled"`
	RequestsPerSec float64 `json:"requests_per_sec"`
	Burst          int     `json:"burst"`
}

// ConnectionLimitConfig defines connection limit settings.
type ConnectionLimitConfig struct {
	MaxTotal int64 `json:"max_total_connections"`
	MaxPerIP int64 `json:"max_per_ip"`
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled         bool  `json:"enabled"`
	MaxFailures     int32 `json:"max_failures"`
	ResetTimeoutSec int   `json:"reset_timeout_sec"`
	SuccessThresh   int32 `json:"success_threshold"`
}

// RetryConfig defines retry settings.
type RetryConfig struct {
	Enabled         bool    `json:"enabled"`
	MaxAttempts     int     `json:"max_attempts"`
	InitialDelaySec int     `json:"initial_delay_sec"`
	MaxDelaySec     int     `json:"max_delay_sec"`
	Multiplier      float64 `json:"multiplier"`
	JitterFraction  float64 `json:"jitter_fraction"`
}

// Config defines the ingest server's settings: listen addresses, the RTMP
// protocol defaults every session inherits, and the ambient resilience
// knobs (security, rate/connection limiting, circuit breaker, retry).
type Config struct {
	ListenAddr string `json:"listen_addr"`
	HTTPAddr   string `json:"http_addr"`

	RecvTimeout     Duration `json:"recv_timeout"`
	ReadBuffer      int      `json:"read_buffer"`
	WriteBuffer     int      `json:"write_buffer"`
	MonitorInterval Duration `json:"monitor_interval"`

	MaxConnections         int64  `json:"max_connections"`
	InboundChunkSizeCap    uint32 `json:"inbound_chunk_size_cap"`
	WindowAckSize          uint32 `json:"window_ack_size"`
	PeerBandwidth          uint32 `json:"peer_bandwidth"`
	PeerBandwidthLimitType uint8  `json:"peer_bandwidth_limit_type"`
	MaxMessageSize         uint32 `json:"max_message_size"`

	Security        SecurityConfig        `json:"security,omitempty"`
	RateLimit       RateLimitConfig       `json:"rate_limit,omitempty"`
	ConnectionLimit ConnectionLimitConfig `json:"connection_limit,omitempty"`
	CircuitBreaker  CircuitBreakerConfig  `json:"circuit_breaker,omitempty"`
	Retry           RetryConfig           `json:"retry,omitempty"`
}

// Default returns the ingest core's documented defaults.
func Default() Config {
	return Config{
		ListenAddr:             ":1935",
		HTTPAddr:               ":8080",
		RecvTimeout:            Duration(30_000_000_000), // 30s
		ReadBuffer:             64 * 1024,
		WriteBuffer:            64 * 1024,
		MonitorInterval:        Duration(1_000_000_000), // 1s
		MaxConnections:         10,
		InboundChunkSizeCap:    65536,
		WindowAckSize:          2_500_000,
		PeerBandwidth:          2_500_000,
		PeerBandwidthLimitType: 2, // dynamic
		MaxMessageSize:         16 << 20,
	}
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

const (
	MinBufferSize = 4 * 1024    // 4 KB
	MaxBufferSize = 1024 * 1024 // 1 MB
)

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.ReadBuffer <= 0 {
		return errors.New("read_buffer must be positive")
	}
	if c.WriteBuffer <= 0 {
		return errors.New("write_buffer must be positive")
	}
	if c.ReadBuffer < MinBufferSize || c.ReadBuffer > MaxBufferSize {
		return fmt.Errorf("read_buffer must be between %d and %d bytes", MinBufferSize, MaxBufferSize)
	}
	if c.WriteBuffer < MinBufferSize || c.WriteBuffer > MaxBufferSize {
		return fmt.Errorf("write_buffer must be between %d and %d bytes", MinBufferSize, MaxBufferSize)
	}
	if c.MaxConnections < 0 {
		return errors.New("max_connections must be >= 0 (0 means unlimited)")
	}
	if c.MaxMessageSize == 0 {
		return errors.New("max_message_size must be positive")
	}
	if c.PeerBandwidthLimitType > 2 {
		return errors.New("peer_bandwidth_limit_type must be 0 (hard), 1 (soft), or 2 (dynamic)")
	}
	if c.Security.AuthEnabled && len(c.Security.AuthTokens) == 0 {
		return errors.New("auth_enabled requires at least one auth token")
	}
	if c.Security.TLSEnabled {
		if strings.TrimSpace(c.Security.TLSCert) == "" || strings.TrimSpace(c.Security.TLSKey) == "" {
			return errors.New("tls_enabled requires tls_cert and tls_key")
		}
	}
	return nil
}
