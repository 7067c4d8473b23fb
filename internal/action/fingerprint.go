package action

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Domain prefix for fingerprint hashing. The version suffix leaves room for
// an algorithm migration without colliding with old fingerprints.
const fingerprintDomain = "offline-sync/fingerprint/v1"

// Fingerprint derives the dedup key of a mutation: SHA-256 over the domain
// prefix, the uppercased method, the endpoint, and the canonicalized
// payload, each separated by a null byte to prevent boundary ambiguity.
//
// Two submissions with the same method, endpoint, and logically equal
// payload always fingerprint identically, no matter how the payload JSON
// was formatted. At most one pending entry per fingerprint may exist in
// the queue store at any time.
func Fingerprint(method, endpoint string, payload json.RawMessage) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(fingerprintDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0x00})
	h.Write([]byte(endpoint))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only in tests or when the payload is known to be valid JSON.
func MustFingerprint(method, endpoint string, payload json.RawMessage) string {
	fp, err := Fingerprint(method, endpoint, payload)
	if err != nil {
		panic(err)
	}
	return fp
}
