package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	// DefaultReapInterval is how often the coordinator sweeps for idle rooms.
	DefaultReapInterval = time.Minute
	// DefaultRoomIdleTimeout is how long an empty room may sit inactive
	// before the sweep evicts it.
	DefaultRoomIdleTimeout = 5 * time.Minute
)

type Config struct {
	DatabaseDSN     string
	ServerAddr      string
	SigningKey      []byte
	AllowedOrigins  []string
	ReapInterval    time.Duration
	RoomIdleTimeout time.Duration
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

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:     databaseDSN,
		ServerAddr:      serverAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		ReapInterval:    DefaultReapInterval,
		RoomIdleTimeout: DefaultRoomIdleTimeout,
	}, nil
}
