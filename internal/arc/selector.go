package arc

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"arcintegrity/internal/phi"
)

// SelectorKind chooses how center draws are produced.
type SelectorKind int

const (
	// SelectorPCG draws from a PCG generator seeded by the trajectory seed.
	SelectorPCG SelectorKind = iota
	// SelectorGolden steps s <- (s + phi) mod 1, a low-discrepancy rotation.
	SelectorGolden
)

// pcgStream fixes the second PCG word so that streams differ only by seed.
const pcgStream = 0x9e3779b97f4a7c15

func (k SelectorKind) String() string {
	switch k {
	case SelectorPCG:
		return "pcg"
	case SelectorGolden:
		return "golden"
	default:
		return "unknown"
	}
}

// ParseSelector parses "pcg" or "golden".
func ParseSelector(s string) (SelectorKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pcg", "":
		return SelectorPCG, nil
	case "golden":
		return SelectorGolden, nil
	default:
		return 0, fmt.Errorf("arc: unknown selector %q (use pcg or golden)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k SelectorKind) MarshalText() ([]byte, error) {
	if k != SelectorPCG && k != SelectorGolden {
		return nil, fmt.Errorf("arc: unknown selector %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *SelectorKind) UnmarshalText(b []byte) error {
	v, err := ParseSelector(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// selector yields uniform draws in [0, 1). Each trajectory owns its own.
type selector interface {
	next() float64
}

type pcgSelector struct {
	r *rand.Rand
}

func (p *pcgSelector) next() float64 { return p.r.Float64() }

type goldenSelector struct {
	s float64
}

func (g *goldenSelector) next() float64 {
	g.s = math.Mod(g.s+phi.Phi, 1)
	return g.s
}

func newSelector(kind SelectorKind, seed float64) (selector, error) {
	switch kind {
	case SelectorPCG:
		return &pcgSelector{r: rand.New(rand.NewPCG(math.Float64bits(seed), pcgStream))}, nil
	case SelectorGolden:
		return &goldenSelector{s: seed}, nil
	default:
		return nil, fmt.Errorf("arc: unknown selector %d", int(kind))
	}
}
