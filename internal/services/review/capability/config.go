package capability

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// capabilityEnv holds raw env values before post-parse validation.
type capabilityEnv struct {
	Issuer               string `env:"REVIEWDESK_CAPABILITY_ISSUER"          envDefault:"reviewdesk"`
	Audience             string `env:"REVIEWDESK_CAPABILITY_AUDIENCE"        envDefault:"reviewdesk-links"`
	PrivateKey           string `env:"REVIEWDESK_CAPABILITY_PRIVATE_KEY"`
	UpdateRequestMaxDays int    `env:"REVIEWDESK_UPDATE_REQUEST_MAX_DAYS"    envDefault:"30"`
}

// Config defines how capability tokens are signed and verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PrivateKey
	// UpdateRequestMaxTTL bounds update-request tokens. Reviewer purposes
	// use ReviewerMaxTTL.
	UpdateRequestMaxTTL time.Duration
	Now                 func() time.Time
	NewID               func() (string, error)
}

// LoadConfigFromEnv reads capability signing configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw capabilityEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse capability env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("REVIEWDESK_CAPABILITY_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("REVIEWDESK_CAPABILITY_AUDIENCE is required")
	}
	if privateKey == "" {
		return Config{}, fmt.Errorf("REVIEWDESK_CAPABILITY_PRIVATE_KEY is required")
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return Config{}, err
	}
	if raw.UpdateRequestMaxDays <= 0 {
		return Config{}, fmt.Errorf("REVIEWDESK_UPDATE_REQUEST_MAX_DAYS must be positive")
	}
	return Config{
		Issuer:              issuer,
		Audience:            audience,
		Key:                 key,
		UpdateRequestMaxTTL: time.Duration(raw.UpdateRequestMaxDays) * 24 * time.Hour,
		Now:                 now,
	}, nil
}

// ParsePrivateKey decodes a base64 ed25519 private key. Both the 32-byte
// seed and the 64-byte expanded key are accepted.
func ParsePrivateKey(value string) (ed25519.PrivateKey, error) {
	keyBytes, err := decodeBase64(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("decode capability private key: %w", err)
	}
	switch len(keyBytes) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(keyBytes), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(keyBytes), nil
	default:
		return nil, fmt.Errorf("capability private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// EncodeKey returns the base64 form accepted by ParsePrivateKey.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
