package chain

import (
	"fmt"

	"arcintegrity/internal/envelope"
	"arcintegrity/internal/phi"
)

// GenerateOptions controls envelope generation.
type GenerateOptions struct {
	Coils       int
	Genesis     string
	ResonanceHz int

	// PhiRatio overrides the recorded ratio; nil records phi.Phi.
	PhiRatio *float64

	// Source names the generator in the external fingerprint list. Empty
	// omits the external entry.
	Source string
}

// DefaultGenerateOptions returns a thirteen-coil chain with the default
// chain constants.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Coils:       13,
		Genesis:     envelope.DefaultGenesis,
		ResonanceHz: envelope.DefaultResonanceHz,
		Source:      "arcintegrity",
	}
}

// Generate builds a consistent envelope: a coil chain derived from the
// chain constants, the observed ratio, and the eternal fingerprint sealing
// the result.
func Generate(opts GenerateOptions) (*envelope.Envelope, error) {
	if opts.Coils < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCoilCount, opts.Coils)
	}
	if opts.Genesis == "" {
		opts.Genesis = envelope.DefaultGenesis
	}
	if opts.ResonanceHz == 0 {
		opts.ResonanceHz = envelope.DefaultResonanceHz
	}
	ratio := phi.Phi
	if opts.PhiRatio != nil {
		ratio = *opts.PhiRatio
	}

	coils := make([]envelope.CoilRecord, 0, opts.Coils)
	generations := make([]any, 0, opts.Coils)
	prev2, prev1 := emptyParent, emptyParent
	for i := 0; i < opts.Coils; i++ {
		fp := CoilFingerprint(prev2, prev1, opts.Genesis, opts.ResonanceHz)
		parents := []string{abbreviate(prev2), abbreviate(prev1)}

		coils = append(coils, envelope.CoilRecord{Index: i, Fingerprint: fp, Parents: parents})
		generations = append(generations, map[string]any{
			"coil":        i,
			"fingerprint": fp,
			"parents":     []any{parents[0], parents[1]},
		})
		prev2, prev1 = prev1, fp
	}

	core := map[string]any{
		envelope.KeyGenesis:          opts.Genesis,
		envelope.KeyResonanceHz:      opts.ResonanceHz,
		envelope.KeyGenerations:      generations,
		envelope.KeyPhiRatioObserved: ratio,
	}
	blob, err := envelope.Canonical(core)
	if err != nil {
		return nil, fmt.Errorf("canonicalize core: %w", err)
	}
	eternal := Digest(blob)
	core[envelope.KeyEternalFingerprint] = eternal

	env := &envelope.Envelope{
		Core:               core,
		EternalFingerprint: eternal,
		Coils:              coils,
		PhiRatioObserved:   ratio,
		Genesis:            opts.Genesis,
		ResonanceHz:        opts.ResonanceHz,
	}
	if opts.Source != "" {
		env.ExternalFingerprints = []envelope.ExternalFingerprint{{
			Source:    opts.Source,
			Algorithm: "SHA3-512",
			Digest:    eternal,
		}}
	}
	return env, nil
}

func abbreviate(fp string) string {
	if fp == emptyParent || len(fp) <= 8 {
		return fp
	}
	return fp[:8] + "..."
}
