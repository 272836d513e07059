package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	LivePrefix = "ldr_live_"
	TestPrefix = "ldr_test_"

	// PrefixLength is the number of leading characters stored in clear
	// and indexed for lookup.
	PrefixLength = 16

	secretBytes = 32
)

var ErrMalformedKey = errors.New("malformed api key")

// GenerateAPIKey returns a new key built on the given environment prefix
// (LivePrefix or TestPrefix), its public lookup prefix and the SHA-256
// hash to store. The raw key must be shown to the user once and dropped.
func GenerateAPIKey(envPrefix string) (rawKey, prefix, keyHash string, err error) {
	buf := make([]byte, secretBytes) // 256 bits of entropy
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}

	rawKey = envPrefix + hex.EncodeToString(buf)
	prefix = rawKey[:PrefixLength]
	return rawKey, prefix, HashAPIKey(rawKey), nil
}

// HashAPIKey returns the hex SHA-256 hash of the raw key
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// SplitPrefix extracts the lookup prefix from a presented key
func SplitPrefix(rawKey string) (string, error) {
	if len(rawKey) <= PrefixLength {
		return "", ErrMalformedKey
	}
	if !strings.HasPrefix(rawKey, LivePrefix) && !strings.HasPrefix(rawKey, TestPrefix) {
		return "", ErrMalformedKey
	}
	return rawKey[:PrefixLength], nil
}

// MatchesHash compares the hash of rawKey against storedHash in constant time.
func MatchesHash(rawKey, storedHash string) bool {
	computed := HashAPIKey(rawKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
