package condition

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint identifies a canonical condition: lower-case hex of the first
// 128 bits of SHA-256 over the canonical JSON. Stable across restarts.
type Fingerprint string

// Fingerprint computes the content hash of the condition. The condition must
// already be canonical; callers go through Canonicalize first so that
// formatting (key order, whitespace, numeric scale) cannot affect the hash.
func (c *Condition) Fingerprint() (Fingerprint, error) {
	payload, err := c.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return hashPayload(payload), nil
}

// CanonicalJSON renders the canonical byte form the fingerprint hashes.
// encoding/json emits struct fields in declaration order and map keys
// sorted, which makes the output deterministic.
func (c *Condition) CanonicalJSON() ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical condition: %w", err)
	}
	return payload, nil
}

func hashPayload(payload []byte) Fingerprint {
	sum := sha256.Sum256(payload)
	return Fingerprint(hex.EncodeToString(sum[:16]))
}

func (f Fingerprint) String() string { return string(f) }
