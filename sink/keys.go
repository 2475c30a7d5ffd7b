package sink

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// LoadOrCreateKey resolves the 32-byte sealing key: the SCOPELOG_MASTER_KEY
// environment variable (hex) wins, then the key file at path, and otherwise
// a fresh key is generated and saved there with 0600 permissions. The bool
// reports whether a new key was generated.
func LoadOrCreateKey(path string) ([]byte, bool, error) {
	if env := os.Getenv("SCOPELOG_MASTER_KEY"); env != "" {
		key, err := hex.DecodeString(strings.TrimSpace(env))
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, false, fmt.Errorf("sink: SCOPELOG_MASTER_KEY is not %d hex bytes", chacha20poly1305.KeySize)
		}
		return key, false, nil
	}

	if data, err := os.ReadFile(path); err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, false, fmt.Errorf("sink: key file %s is not %d hex bytes", path, chacha20poly1305.KeySize)
		}
		return key, false, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("sink: generate key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("sink: save key to %s: %w", path, err)
	}
	return key, true, nil
}
