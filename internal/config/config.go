package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

type Config struct {
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	NatsURL        string
	PushSubject    string
	Hub            HubConfig
}

// HubConfig holds the timings of the realtime hub.
type HubConfig struct {
	HeartbeatInterval time.Duration
	MaxMissedPings    int
	IdleThreshold     time.Duration
	IdleSweepInterval time.Duration
	SendBufferSize    int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		HeartbeatInterval: 25 * time.Second,
		MaxMissedPings:    2,
		IdleThreshold:     5 * time.Minute,
		IdleSweepInterval: 30 * time.Second,
		SendBufferSize:    256,
	}
}

func (hc HubConfig) Validate() error {
	if hc.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if hc.MaxMissedPings < 1 {
		return fmt.Errorf("max missed pings must be at least 1")
	}
	if hc.IdleThreshold <= 0 {
		return fmt.Errorf("idle threshold must be positive")
	}
	if hc.IdleSweepInterval <= 0 {
		return fmt.Errorf("idle sweep interval must be positive")
	}
	if hc.SendBufferSize < 1 {
		return fmt.Errorf("send buffer size must be at least 1")
	}
	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		PushSubject:    "huddle.push",
		Hub:            DefaultHubConfig(),
	}, nil
}
