package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix enables future algorithm
// migration.
const (
	DomainFingerprint = "atsguard/candidate-fingerprint/v1"
	DomainTransition  = "atsguard/transition/v1"
)

// HashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func HashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashCanonical hashes the canonical JSON form of v under domain.
func HashCanonical(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash canonical: %w", err)
	}
	return HashWithDomain(domain, canonical), nil
}

// ChainLink hashes one audit entry together with its predecessor's hash, so
// that altering or removing any entry breaks every later link.
// prevHash is "" for the first entry of a chain.
func ChainLink(prevHash string, entry map[string]any) (string, error) {
	linked := make(map[string]any, len(entry)+1)
	for k, v := range entry {
		linked[k] = v
	}
	linked["prev_hash"] = prevHash
	return HashCanonical(DomainTransition, linked)
}
