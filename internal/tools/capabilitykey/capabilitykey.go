// Package capabilitykey generates the ed25519 key that signs capability
// links.
package capabilitykey

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/louisbranch/reviewdesk/internal/services/review/capability"
)

// Config holds key generation options.
type Config struct {
	// Seed prints the 32-byte seed instead of the expanded private key.
	Seed bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "print the 32-byte seed instead of the 64-byte key")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates a key pair and writes shell exports to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate capability key: %w", err)
	}
	private := []byte(privateKey)
	if cfg.Seed {
		private = privateKey.Seed()
	}
	if _, err := fmt.Fprintf(out, "export REVIEWDESK_CAPABILITY_PRIVATE_KEY=%s\n", capability.EncodeKey(private)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "# public key: %s\n", capability.EncodeKey(publicKey))
	return err
}
