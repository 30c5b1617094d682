// Package chain verifies the two digest structures of an integrity
// envelope: the eternal fingerprint sealing the core payload, and the coil
// chain in which every link is derived from the two links before it.
//
// Every check reports independently. A broken coil never stops the walk,
// so corruption further down the chain (or agreement after it) remains
// visible in the result.
package chain

import (
	"fmt"
	"strings"

	"arcintegrity/internal/envelope"
	"arcintegrity/internal/phi"
)

// Coil failure reasons.
const (
	ReasonIndexMismatch       = "index_mismatch"
	ReasonInvalidFormat       = "invalid_fingerprint_format"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
)

// EternalResult is the outcome of the eternal fingerprint check.
type EternalResult struct {
	OK bool `json:"ok" yaml:"ok"`
	// Expected is the recomputed digest, Actual the stored one.
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   string `json:"actual,omitempty" yaml:"actual,omitempty"`
}

// CoilResult is the outcome for one coil.
type CoilResult struct {
	Index    int      `json:"index" yaml:"index"`
	OK       bool     `json:"ok" yaml:"ok"`
	Reasons  []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Expected string   `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty" yaml:"actual,omitempty"`
	// DeclaredIndex is set when the coil's own index disagrees with its position.
	DeclaredIndex *int `json:"declared_index,omitempty" yaml:"declared_index,omitempty"`
}

// Err returns a descriptive error for a failed coil, nil otherwise.
func (c CoilResult) Err() error {
	if c.OK {
		return nil
	}
	return fmt.Errorf("%w: coil %d: %s", ErrFingerprintMismatch, c.Index, strings.Join(c.Reasons, ", "))
}

// CoilChainResult is the outcome of the coil chain walk.
type CoilChainResult struct {
	OK             bool         `json:"ok" yaml:"ok"`
	CoilsChecked   int          `json:"coils_checked" yaml:"coils_checked"`
	FailingIndices []int        `json:"failing_indices" yaml:"failing_indices"`
	Coils          []CoilResult `json:"details,omitempty" yaml:"details,omitempty"`
}

// ExternalEntry identifies an external fingerprint by origin.
type ExternalEntry struct {
	Source    string `json:"source" yaml:"source"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
}

// ExternalResult describes external fingerprints. It cannot fail.
type ExternalResult struct {
	Count   int             `json:"count" yaml:"count"`
	Entries []ExternalEntry `json:"entries" yaml:"entries"`
	// Verified is reserved for recomputation against the originating
	// material and is always nil.
	Verified *bool `json:"verified" yaml:"verified"`
}

// Result aggregates all envelope checks.
type Result struct {
	OK       bool            `json:"ok" yaml:"ok"`
	Eternal  EternalResult   `json:"eternal_fingerprint" yaml:"eternal_fingerprint"`
	Coils    CoilChainResult `json:"coil_chain" yaml:"coil_chain"`
	Ratio    phi.Result      `json:"phi_ratio" yaml:"phi_ratio"`
	External ExternalResult  `json:"external_fingerprints" yaml:"external_fingerprints"`
}

// VerifyEternal recomputes the digest over the canonical core with the
// eternal_fingerprint field removed and compares it to the stored value,
// ignoring hex case.
func VerifyEternal(env *envelope.Envelope) (EternalResult, error) {
	if env == nil || env.Core == nil {
		return EternalResult{}, fmt.Errorf("%w: missing core", ErrMalformedEnvelope)
	}
	if env.EternalFingerprint == "" {
		return EternalResult{}, fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, envelope.KeyEternalFingerprint)
	}

	sealed := make(map[string]any, len(env.Core))
	for k, v := range env.Core {
		if k == envelope.KeyEternalFingerprint {
			continue
		}
		sealed[k] = v
	}

	blob, err := envelope.Canonical(sealed)
	if err != nil {
		return EternalResult{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	recomputed := Digest(blob)

	return EternalResult{
		OK:       strings.EqualFold(recomputed, env.EternalFingerprint),
		Expected: recomputed,
		Actual:   env.EternalFingerprint,
	}, nil
}

// VerifyCoils walks the chain in order, recomputing each coil from the two
// stored fingerprints before it. Parents are chosen by position, not by the
// coil's declared index.
func VerifyCoils(env *envelope.Envelope) CoilChainResult {
	res := CoilChainResult{
		OK:             true,
		FailingIndices: []int{},
	}
	if env == nil {
		return res
	}

	// prev2 and prev1 hold the stored fingerprints at positions i-2 and i-1.
	prev2, prev1 := emptyParent, emptyParent
	for i, coil := range env.Coils {
		cr := CoilResult{Index: i, OK: true, Actual: coil.Fingerprint}

		if coil.Index != i {
			declared := coil.Index
			cr.DeclaredIndex = &declared
			cr.Reasons = append(cr.Reasons, ReasonIndexMismatch)
		}

		if !IsDigestHex(coil.Fingerprint) {
			cr.Reasons = append(cr.Reasons, ReasonInvalidFormat)
		} else {
			cr.Expected = CoilFingerprint(prev2, prev1, env.Genesis, env.ResonanceHz)
			if !strings.EqualFold(cr.Expected, coil.Fingerprint) {
				cr.Reasons = append(cr.Reasons, ReasonFingerprintMismatch)
			}
		}

		if len(cr.Reasons) > 0 {
			cr.OK = false
			res.OK = false
			res.FailingIndices = append(res.FailingIndices, i)
		}
		res.Coils = append(res.Coils, cr)
		res.CoilsChecked++

		prev2, prev1 = prev1, coil.Fingerprint
	}

	return res
}

// DescribeExternal lists external fingerprints. Their originating
// material is not available locally, so nothing is recomputed.
func DescribeExternal(env *envelope.Envelope) ExternalResult {
	res := ExternalResult{Entries: []ExternalEntry{}}
	if env == nil {
		return res
	}
	for _, e := range env.ExternalFingerprints {
		res.Entries = append(res.Entries, ExternalEntry{Source: e.Source, Algorithm: e.Algorithm})
	}
	res.Count = len(res.Entries)
	return res
}

// Verifier runs every envelope check with a fixed ratio tolerance. The
// zero value uses phi.DefaultTolerance.
type Verifier struct {
	Tolerance float64
}

// NewVerifier returns a verifier with the given tolerance.
func NewVerifier(tolerance float64) *Verifier {
	return &Verifier{Tolerance: tolerance}
}

// Verify runs the eternal, coil, ratio and external checks. Only a
// malformed envelope or an invalid tolerance produce an error; failed
// checks are reported in the result.
func (v *Verifier) Verify(env *envelope.Envelope) (*Result, error) {
	tol := v.Tolerance
	if tol == 0 {
		tol = phi.DefaultTolerance
	}

	eternal, err := VerifyEternal(env)
	if err != nil {
		return nil, err
	}

	ratio, err := phi.Check(env.PhiRatioObserved, tol)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Eternal:  eternal,
		Coils:    VerifyCoils(env),
		Ratio:    ratio,
		External: DescribeExternal(env),
	}
	res.OK = res.Eternal.OK && res.Coils.OK && res.Ratio.OK
	return res, nil
}
