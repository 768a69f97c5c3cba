package shortcode

import (
	"crypto/rand"
	"crypto/sha256"
)

// Entropy supplies the randomness and hashing used by the generator.
// Injecting it keeps code generation deterministic under test.
type Entropy interface {
	// RandomBytes fills and returns n bytes of randomness
	RandomBytes(n int) []byte
	// SumSHA256 returns the SHA-256 digest of b
	SumSHA256(b []byte) []byte
}

// CryptoEntropy is the production Entropy backed by crypto/rand.
// Codes must not be predictable, so a time-seeded PRNG is not acceptable here.
type CryptoEntropy struct{}

// RandomBytes returns n cryptographically strong random bytes
func (CryptoEntropy) RandomBytes(n int) []byte {
	b := make([]byte, n)
	// rand.Read only fails if the OS entropy source is broken,
	// at which point there is nothing sensible to fall back to.
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// SumSHA256 returns the SHA-256 digest of b
func (CryptoEntropy) SumSHA256(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
