package wallet

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// LoadKeypairFile reads a signer from a solana-keygen JSON file or a base58 text file
func LoadKeypairFile(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair file: %w", err)
	}
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("[")) {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse keygen file %s: %w", path, err)
		}
		return key, nil
	}
	return DecodeKey(string(data))
}

// DecodeKey parses a base58 encoded 64-byte ed25519 private key
func DecodeKey(s string) (solana.PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("private key has %d bytes, want 64", len(raw))
	}
	if !bytes.Equal(ed25519.NewKeyFromSeed(raw[:32]), raw) {
		return nil, fmt.Errorf("private key does not match its public half")
	}
	return solana.PrivateKey(raw), nil
}

// EncodeKey renders key in the base58 form DecodeKey reads
func EncodeKey(key solana.PrivateKey) string {
	return base58.Encode(key)
}

// ParseKeys decodes a comma separated list of base58 keys
func ParseKeys(list string) ([]solana.PrivateKey, error) {
	var keys []solana.PrivateKey
	for i, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		key, err := DecodeKey(part)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// LoadSigners collects signers from keypair files and the named environment variable
func LoadSigners(paths []string, envVar string) ([]solana.PrivateKey, error) {
	var keys []solana.PrivateKey
	for _, p := range paths {
		key, err := LoadKeypairFile(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			parsed, err := ParseKeys(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", envVar, err)
			}
			keys = append(keys, parsed...)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no signers configured")
	}
	return keys, nil
}
