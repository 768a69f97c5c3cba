package shortcode

import (
	"encoding/binary"
	"errors"
	"math/big"
	"strings"
)

const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

const (
	// MinLength and MaxLength bound every generated code
	MinLength = 5
	MaxLength = 10

	// deterministicLength is the fixed length of the first, hash-derived attempt
	deterministicLength = 7

	// maxAttempts bounds the generate loop; the base62 space at 5-10 chars is
	// large enough that repeated exhaustion points at a systemic problem
	maxAttempts = 8

	// maxAliasSuffixes bounds how many suffix variants an alias gets before
	// falling back to a hinted random code
	maxAliasSuffixes = 6
)

// ErrExhausted is returned when no unique code could be produced
// within the attempt budget.
var ErrExhausted = errors.New("shortcode: exhausted generation attempts")

// TakenFunc reports whether a candidate code is already in use.
// The check spans both the durable store and the cache.
type TakenFunc func(code string) bool

// Generator produces short codes. The first attempt for a plain URL is
// deterministic (hash-derived) so identical URLs tend to reuse a code;
// retries and alias salvage are randomized.
type Generator struct {
	entropy Entropy
}

// NewGenerator creates a generator using the given entropy source.
// Passing nil selects the production crypto-backed source.
func NewGenerator(entropy Entropy) *Generator {
	if entropy == nil {
		entropy = CryptoEntropy{}
	}
	return &Generator{entropy: entropy}
}

// Generate returns a code for targetURL that taken reports as free.
// A non-empty alias is sanitized and salvaged before random fallback.
func (g *Generator) Generate(targetURL, alias string, taken TakenFunc) (string, error) {
	if alias != "" {
		return g.salvageAlias(alias, taken)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var code string
		if attempt == 0 {
			code = g.hashCode(targetURL, deterministicLength)
		} else {
			// Seed retries with a short stable hint from the same hash so
			// related URLs stay visually related.
			hint := g.hashCode(targetURL, 3)
			code = g.randomCode(MinLength, MaxLength, hint)
		}
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// salvageAlias tries to honor a caller-supplied alias, preferring variants
// that keep a recognizable fragment of it over strict collision failure.
func (g *Generator) salvageAlias(alias string, taken TakenFunc) (string, error) {
	sanitized := sanitize(alias)

	// Nothing usable left after sanitization: plain random codes.
	if sanitized == "" {
		for attempt := 0; attempt < maxAttempts; attempt++ {
			code := g.randomCode(MinLength, MaxLength, "")
			if !taken(code) {
				return code, nil
			}
		}
		return "", ErrExhausted
	}

	if len(sanitized) >= MinLength && len(sanitized) <= MaxLength {
		// Use the alias verbatim first, then grow it with short suffixes.
		candidate := sanitized
		for i := 0; i <= maxAliasSuffixes; i++ {
			if !taken(candidate) {
				return candidate, nil
			}
			suffix := g.randomCode(1, 2, sanitized)
			candidate = sanitized + suffix
			if len(candidate) > MaxLength {
				candidate = candidate[:MaxLength]
			}
		}
	} else {
		// Alias too short or too long: craft a code that embeds a snippet.
		targetLen := g.randomInt(MinLength, MaxLength+1)
		snippetLen := min(len(sanitized), min(3, targetLen-2))
		snippet := sanitized[:snippetLen]

		for tries := 0; tries < maxAttempts; tries++ {
			tail := g.randomCode(targetLen-snippetLen, targetLen-snippetLen, snippet)
			candidate := snippet + tail
			if !taken(candidate) {
				return candidate, nil
			}
		}
	}

	// Fully random fallback that still carries a hint of the alias.
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := g.randomCode(MinLength, MaxLength, sanitized)
		if !taken(code) {
			return code, nil
		}
	}
	return "", ErrExhausted
}

// hashCode derives a fixed-length code from the SHA-256 of input.
// The digest is reduced as one big integer so every base62 digit draws on
// the full hash magnitude rather than just the low bytes.
func (g *Generator) hashCode(input string, length int) string {
	digest := g.entropy.SumSHA256([]byte(input))
	bi := new(big.Int).SetBytes(digest)

	base := big.NewInt(int64(len(base62Chars)))
	rem := new(big.Int)

	var sb strings.Builder
	for sb.Len() < length {
		if bi.Sign() == 0 {
			// Hash digits ran out; pad with random characters.
			sb.WriteByte(base62Chars[g.randomInt(0, len(base62Chars))])
			continue
		}
		bi.QuoRem(bi, base, rem)
		sb.WriteByte(base62Chars[rem.Int64()])
	}
	return sb.String()
}

// randomCode builds a random code with length in [minLen, maxLen], optionally
// splicing a 1-3 char snippet of hint at a random position.
func (g *Generator) randomCode(minLen, maxLen int, hint string) string {
	if minLen < 1 {
		minLen = MinLength
	}
	if maxLen < minLen {
		maxLen = minLen
	}

	targetLen := g.randomInt(minLen, maxLen+1)
	var sb strings.Builder

	if hint = sanitize(hint); hint != "" {
		maxSnippet := min(3, len(hint))
		snippetLen := g.randomInt(1, maxSnippet+1)
		start := g.randomInt(0, len(hint)-snippetLen+1)
		snippet := hint[start : start+snippetLen]

		if snippetLen <= targetLen {
			insertAt := g.randomInt(0, targetLen-snippetLen+1)
			for sb.Len() < insertAt {
				sb.WriteByte(base62Chars[g.randomInt(0, len(base62Chars))])
			}
			sb.WriteString(snippet)
		}
	}

	for sb.Len() < targetLen {
		sb.WriteByte(base62Chars[g.randomInt(0, len(base62Chars))])
	}

	code := sb.String()
	if len(code) > targetLen {
		code = code[:targetLen]
	}
	return code
}

// randomInt returns a uniform value in [minInclusive, maxExclusive)
func (g *Generator) randomInt(minInclusive, maxExclusive int) int {
	diff := maxExclusive - minInclusive
	if diff <= 0 {
		return minInclusive
	}
	v := binary.BigEndian.Uint32(g.entropy.RandomBytes(4))
	return minInclusive + int(v%uint32(diff))
}

// sanitize strips every character outside the base62 alphabet
func sanitize(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(base62Chars, s[i]) >= 0 {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}
