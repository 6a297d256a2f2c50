// Package integrity signs and verifies snapshot payloads.
//
// Signatures are HMAC-SHA256 over the canonical snapshot bytes, keyed by a
// machine-local secret derived with scrypt from stable host identity. The
// secret never leaves the process and is never written to disk, so a
// snapshot copied to another machine fails verification there.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters; interactive-grade since derivation happens once per process
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

var (
	keyOnce sync.Once
	key     []byte
	keyErr  error
)

// signingKey derives and memoizes the machine-local signing key.
func signingKey() ([]byte, error) {
	keyOnce.Do(func() {
		key, keyErr = deriveKey()
	})
	return key, keyErr
}

func deriveKey() ([]byte, error) {
	salt, err := machineSalt()
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("reading hostname: %w", err)
	}

	derived, err := scrypt.Key([]byte(hostname), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving signing key: %w", err)
	}
	return derived, nil
}

// machineSalt reads a stable machine identifier to salt the derivation.
// Falls back to the hostname digest on hosts without a machine-id file.
func machineSalt() ([]byte, error) {
	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		id := strings.TrimSpace(string(data))
		if id != "" {
			sum := sha256.Sum256([]byte(id))
			return sum[:], nil
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("no machine identity available: %w", err)
	}
	sum := sha256.Sum256([]byte("hostname:" + hostname))
	return sum[:], nil
}

// Sign computes the hex-encoded HMAC-SHA256 signature of payload.
func Sign(payload []byte) (string, error) {
	k, err := signingKey()
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, k)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signature matches payload. Comparison is
// constant-time so verification latency leaks nothing about the expected
// signature.
func Verify(payload []byte, signature string) (bool, error) {
	expected, err := Sign(payload)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1, nil
}

// resetForTest clears the memoized key so tests can exercise derivation.
func resetForTest() {
	keyOnce = sync.Once{}
	key = nil
	keyErr = nil
}
