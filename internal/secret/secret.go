package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// DefaultKeyPrefix marks issued secrets as org-platform API keys.
	DefaultKeyPrefix = "xop_"

	// LookupPrefixLen is how many leading characters of the secret are
	// stored in clear for indexed lookup. Prefix match only narrows the
	// candidate set; it never authenticates on its own.
	LookupPrefixLen = 12

	randomBytes = 24
)

// Issued is the one-time result of minting a secret. Plaintext leaves the
// process exactly once, in this struct.
type Issued struct {
	Plaintext string
	Prefix    string
	Hash      string
}

// Issue mints a new high-entropy bearer secret: keyPrefix followed by 48
// random hex characters. The secret itself carries the entropy, so the
// digest is deliberately salt-free and deterministic.
func Issue(keyPrefix string) (Issued, error) {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return Issued{}, fmt.Errorf("secret entropy: %w", err)
	}
	plain := keyPrefix + hex.EncodeToString(buf)
	return Issued{
		Plaintext: plain,
		Prefix:    Prefix(plain),
		Hash:      Hash(plain),
	}, nil
}

// Prefix returns the indexed lookup prefix of a candidate secret.
func Prefix(s string) string {
	if len(s) < LookupPrefixLen {
		return s
	}
	return s[:LookupPrefixLen]
}

// Hash reduces a secret to its hex SHA-256 digest.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// WellFormed reports whether a candidate even looks like an issued secret,
// so obviously bogus tokens are rejected before any store lookup.
func WellFormed(s, keyPrefix string) bool {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return strings.HasPrefix(s, keyPrefix) && len(s) == len(keyPrefix)+randomBytes*2
}

// Verify compares a candidate secret against a stored digest. Both sides are
// reduced to digests first; a length mismatch short-circuits to false before
// any byte-wise comparison, and equal-length digests are compared in
// constant time.
func Verify(candidate, storedHash string) bool {
	digest := Hash(candidate)
	if len(digest) != len(storedHash) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(digest), []byte(storedHash)) == 1
}
