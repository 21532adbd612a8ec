package utils

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	SHA1   HashAlgorithm = "sha1"
	XXHash HashAlgorithm = "xxhash"
)

// Hasher provides extensible hashing functionality
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{
		algorithm: algorithm,
	}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

// Hash computes a hex encoded hash of the input data
func (h *Hasher) Hash(data []byte) string {
	switch h.algorithm {
	case SHA1:
		hash := sha1.Sum(data)
		return hex.EncodeToString(hash[:])
	case XXHash:
		return strconv.FormatUint(xxhash.Sum64(data), 16)
	default:
		hash := sha256.Sum256(data)
		return hex.EncodeToString(hash[:])
	}
}

// HashString computes a hash of a string
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// HashJSON computes a hash of a JSON-serializable object.
// Map keys are sorted, so equal objects produce equal hashes.
func (h *Hasher) HashJSON(v interface{}) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return h.Hash(data), nil
}

// ShortHash truncates a hash to n characters for display and file names.
func ShortHash(fullHash string, n int) string {
	if len(fullHash) < n {
		return fullHash
	}
	return fullHash[:n]
}

// CanonicalJSON encodes v with sorted map keys.
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// Fingerprint64 returns the xxhash of the canonical JSON encoding of v.
func Fingerprint64(v interface{}) (uint64, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}
