// Package seed maps coil fingerprints onto real-valued seeds in [0, 1) and
// blends a chain's seeds into a single composite.
package seed

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"arcintegrity/internal/envelope"
	"arcintegrity/internal/phi"
)

// prefixLen is the number of hex characters (64 bits) read from a fingerprint.
const prefixLen = 16

// FallbackSeed is used when an envelope has no coils to derive a seed from.
const FallbackSeed = 0.123456789

// Seed mapping errors.
var (
	ErrInvalidFingerprint = errors.New("seed: invalid fingerprint")
	ErrEmptySeedList      = errors.New("seed: empty seed list")
	ErrUnknownBlendMode   = errors.New("seed: unknown blend mode")
)

// FromFingerprint reads the first 64 bits of a hex digest and scales them
// into [0, 1). Only the top 53 bits survive the conversion to float64, so
// the largest prefix maps to 1-2^-53 rather than rounding up to 1.
func FromFingerprint(fp string) (float64, error) {
	if len(fp) < prefixLen {
		return 0, fmt.Errorf("%w: need at least %d hex characters, got %d", ErrInvalidFingerprint, prefixLen, len(fp))
	}
	if !isHex(fp) {
		return 0, fmt.Errorf("%w: not a hex string", ErrInvalidFingerprint)
	}

	v, err := strconv.ParseUint(fp[:prefixLen], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFingerprint, err)
	}
	return float64(v>>11) / (1 << 53), nil
}

func isHex(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F')
	}) < 0
}

// Extract maps every coil fingerprint to a seed, preserving chain order.
func Extract(coils []envelope.CoilRecord) ([]float64, error) {
	seeds := make([]float64, 0, len(coils))
	for i, c := range coils {
		s, err := FromFingerprint(c.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("coil %d: %w", i, err)
		}
		seeds = append(seeds, s)
	}
	return seeds, nil
}

// BlendMode selects how a chain's seeds collapse into one.
type BlendMode int

const (
	// BlendComposite weights seed i by phi^-i, normalized.
	BlendComposite BlendMode = iota
	// BlendFirst uses the first coil's seed unchanged.
	BlendFirst
)

func (m BlendMode) String() string {
	switch m {
	case BlendComposite:
		return "composite"
	case BlendFirst:
		return "first"
	default:
		return "unknown"
	}
}

// ParseBlendMode parses "composite" or "first".
func ParseBlendMode(s string) (BlendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "composite", "":
		return BlendComposite, nil
	case "first":
		return BlendFirst, nil
	default:
		return 0, fmt.Errorf("%w: %q (use composite or first)", ErrUnknownBlendMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m BlendMode) MarshalText() ([]byte, error) {
	if m != BlendComposite && m != BlendFirst {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBlendMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *BlendMode) UnmarshalText(b []byte) error {
	mode, err := ParseBlendMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Weights returns the normalized composite weights for n seeds. They sum
// to 1 and decay by a factor of phi per position.
func Weights(n int) []float64 {
	w := make([]float64, n)
	var sum float64
	for i := range w {
		w[i] = phi.Pow(-i)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// Blend collapses seeds according to mode.
func Blend(seeds []float64, mode BlendMode) (float64, error) {
	if len(seeds) == 0 {
		return 0, ErrEmptySeedList
	}

	switch mode {
	case BlendFirst:
		return seeds[0], nil
	case BlendComposite:
		if len(seeds) == 1 {
			return seeds[0], nil
		}
		var blended float64
		for i, w := range Weights(len(seeds)) {
			blended += w * seeds[i]
		}
		return math.Mod(blended, 1), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownBlendMode, int(mode))
	}
}
