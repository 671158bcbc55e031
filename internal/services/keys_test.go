package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testArgon2Params keeps hashing fast in tests
func testArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestGenerateKey(t *testing.T) {
	t.Run("has prefix and length", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, KeyPrefix))
		assert.Len(t, key, len(KeyPrefix)+KeyRandomLength)
	})

	t.Run("only alphanumeric after prefix", func(t *testing.T) {
		key, err := GenerateKey()
		require.NoError(t, err)
		for _, r := range strings.TrimPrefix(key, KeyPrefix) {
			assert.True(t, strings.ContainsRune(keyAlphabet, r), "unexpected rune %q", r)
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		k1, _ := GenerateKey()
		k2, _ := GenerateKey()
		assert.NotEqual(t, k1, k2)
	})
}

func TestKeyVerifier_RoundTrip(t *testing.T) {
	v := NewKeyVerifier(testArgon2Params())

	hash, err := v.Hash("sk_plain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=64,t=1,p=1$"))

	assert.True(t, v.Verify("sk_plain", hash))
	assert.False(t, v.Verify("sk_other", hash))
	assert.False(t, v.Verify("", hash))
}

func TestKeyVerifier_Salted(t *testing.T) {
	v := NewKeyVerifier(testArgon2Params())

	h1, err := v.Hash("sk_same")
	require.NoError(t, err)
	h2, err := v.Hash("sk_same")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.True(t, v.Verify("sk_same", h1))
	assert.True(t, v.Verify("sk_same", h2))
}

func TestKeyVerifier_UsesStoredParams(t *testing.T) {
	hasher := NewKeyVerifier(testArgon2Params())
	hash, err := hasher.Hash("sk_abc")
	require.NoError(t, err)

	// A verifier configured with different costs still verifies old hashes.
	verifier := NewKeyVerifier(DefaultArgon2Params())
	assert.True(t, verifier.Verify("sk_abc", hash))
}

func TestKeyVerifier_MalformedHashes(t *testing.T) {
	v := NewKeyVerifier(testArgon2Params())

	hashes := []string{
		"",
		"plaintext",
		"$2a$12$abcdefghijklmnopqrstuv",
		"$argon2i$v=19$m=64,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=64,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=64,t=1,p=1$c2FsdA$",
	}

	for _, h := range hashes {
		assert.False(t, v.Verify("sk_anything", h), "Verify against %q should be false", h)
	}
}

func TestRandomString(t *testing.T) {
	s, err := RandomString("ab", 64)
	require.NoError(t, err)
	assert.Len(t, s, 64)
	assert.Empty(t, strings.Trim(s, "ab"))

	_, err = RandomString("", 4)
	assert.Error(t, err)
}
