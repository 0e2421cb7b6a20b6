package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue_Format(t *testing.T) {
	iss, err := Issue("")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(iss.Plaintext, DefaultKeyPrefix))
	assert.Len(t, iss.Plaintext, len(DefaultKeyPrefix)+48)
	assert.Equal(t, iss.Plaintext[:LookupPrefixLen], iss.Prefix)
	// SHA-256 digest, hex encoded
	assert.Len(t, iss.Hash, 64)
	assert.Equal(t, Hash(iss.Plaintext), iss.Hash)
}

func TestIssue_CustomPrefix(t *testing.T) {
	iss, err := Issue("acme_")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(iss.Plaintext, "acme_"))
	assert.True(t, WellFormed(iss.Plaintext, "acme_"), "issued secret should be well-formed under its own prefix")
}

func TestIssue_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		iss, err := Issue("")
		require.NoError(t, err)
		require.False(t, seen[iss.Plaintext], "duplicate secret issued")
		seen[iss.Plaintext] = true
	}
}

func TestHash_Deterministic(t *testing.T) {
	assert.Equal(t, Hash("xop_abc"), Hash("xop_abc"))
	assert.NotEqual(t, Hash("xop_abc"), Hash("xop_abd"))
}

func TestWellFormed(t *testing.T) {
	iss, err := Issue("")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"issued secret", iss.Plaintext, true},
		{"empty", "", false},
		{"wrong prefix", "sk_" + strings.Repeat("a", 48), false},
		{"too short", DefaultKeyPrefix + "abc", false},
		{"too long", iss.Plaintext + "a", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, WellFormed(tc.in, ""), tc.name)
	}
}

func TestVerify(t *testing.T) {
	iss, err := Issue("")
	require.NoError(t, err)

	assert.True(t, Verify(iss.Plaintext, iss.Hash), "issued secret must verify against its own hash")
	assert.False(t, Verify(iss.Plaintext+"x", iss.Hash), "tampered secret must not verify")

	other, err := Issue("")
	require.NoError(t, err)
	assert.False(t, Verify(other.Plaintext, iss.Hash), "another tenant's secret must not verify")
}

func TestVerify_LengthMismatchShortCircuits(t *testing.T) {
	// Candidate digests are always 64 hex chars; any stored hash of a
	// different length must fail before byte comparison.
	assert.False(t, Verify("anything", "deadbeef"))
	assert.False(t, Verify("anything", ""))
}
