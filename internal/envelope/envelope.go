// Package envelope decodes integrity envelope documents into the read-only
// form consumed by the chain verifier and the seed mapper.
//
// A document carries a core payload (sealed by the eternal fingerprint),
// the coil chain inside that core, the observed golden ratio and an
// optional list of externally produced fingerprints:
//
//	{
//	  "serpent_bloom_core": {
//	    "genesis": "2025-12-02T23:59:59Z",
//	    "resonance_hz": 963,
//	    "generations": [{"coil": 0, "fingerprint": "…"}, …],
//	    "phi_ratio_observed": 1.618033988749895,
//	    "eternal_fingerprint": "…"
//	  },
//	  "external_fingerprints": [{"source": "…", "algorithm": "SHA3-512", "value": "…"}]
//	}
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Document keys.
const (
	KeyCore                 = "serpent_bloom_core"
	KeyCoreAlias            = "core"
	KeyEternalFingerprint   = "eternal_fingerprint"
	KeyGenerations          = "generations"
	KeyCoilsAlias           = "coils"
	KeyGenesis              = "genesis"
	KeyResonanceHz          = "resonance_hz"
	KeyPhiRatioObserved     = "phi_ratio_observed"
	KeyExternalFingerprints = "external_fingerprints"
)

// Chain constants used when the core does not carry its own.
const (
	DefaultGenesis     = "2025-12-02T23:59:59Z"
	DefaultResonanceHz = 963
)

// ErrMalformedEnvelope indicates a missing or mistyped required field.
var ErrMalformedEnvelope = errors.New("envelope: malformed envelope")

// Envelope is a decoded integrity envelope. It is never mutated after
// decoding.
type Envelope struct {
	// Core is the raw sealed payload, numbers kept as json.Number.
	Core map[string]any

	EternalFingerprint   string
	Coils                []CoilRecord
	PhiRatioObserved     float64
	ExternalFingerprints []ExternalFingerprint

	// Genesis and ResonanceHz are mixed into every coil digest.
	Genesis     string
	ResonanceHz int
}

// CoilRecord is one link of the fingerprint chain.
type CoilRecord struct {
	// Index is the declared coil number; it defaults to the position.
	Index       int
	Fingerprint string
	Parents     []string
}

// ExternalFingerprint describes a digest produced outside this envelope.
type ExternalFingerprint struct {
	Source    string `json:"source" yaml:"source"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Digest    string `json:"digest,omitempty" yaml:"digest,omitempty"`
}

// Fingerprints returns the stored coil fingerprints in chain order.
func (e *Envelope) Fingerprints() []string {
	fps := make([]string, len(e.Coils))
	for i, c := range e.Coils {
		fps[i] = c.Fingerprint
	}
	return fps
}

// Load reads and decodes an envelope document from a file.
func Load(path string) (*Envelope, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Decode(data)
}

// Read decodes an envelope document from r.
func Read(r io.Reader) (*Envelope, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	return Decode(data)
}

// Decode parses and schema-validates an envelope document.
func Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformedEnvelope)
	}
	return fromDocument(root)
}

func fromDocument(root map[string]any) (*Envelope, error) {
	rawCore, ok := root[KeyCore]
	if !ok {
		rawCore, ok = root[KeyCoreAlias]
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, KeyCore)
	}
	core, ok := rawCore.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedEnvelope, KeyCore)
	}

	env := &Envelope{
		Core:        core,
		Genesis:     DefaultGenesis,
		ResonanceHz: DefaultResonanceHz,
	}

	fp, ok := core[KeyEternalFingerprint].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, KeyEternalFingerprint)
	}
	env.EternalFingerprint = fp

	if v, ok := core[KeyGenesis]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a string", ErrMalformedEnvelope, KeyGenesis)
		}
		env.Genesis = s
	}

	if v, ok := core[KeyResonanceHz]; ok {
		n, err := intValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyResonanceHz, err)
		}
		env.ResonanceHz = n
	}

	if v, ok := core[KeyPhiRatioObserved]; ok {
		f, err := floatValue(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, KeyPhiRatioObserved, err)
		}
		env.PhiRatioObserved = f
	}

	coils, err := decodeCoils(core)
	if err != nil {
		return nil, err
	}
	env.Coils = coils

	externals, err := decodeExternal(root[KeyExternalFingerprints])
	if err != nil {
		return nil, err
	}
	env.ExternalFingerprints = externals

	return env, nil
}

func decodeCoils(core map[string]any) ([]CoilRecord, error) {
	raw, ok := core[KeyGenerations]
	if !ok {
		raw, ok = core[KeyCoilsAlias]
	}
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformedEnvelope, KeyGenerations)
	}

	coils := make([]CoilRecord, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: coil %d is not an object", ErrMalformedEnvelope, i)
		}
		rec := CoilRecord{Index: i}
		if v, ok := obj["coil"]; ok {
			n, err := intValue(v)
			if err != nil {
				return nil, fmt.Errorf("%w: coil %d index: %v", ErrMalformedEnvelope, i, err)
			}
			rec.Index = n
		}
		if v, ok := obj["fingerprint"]; ok {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: coil %d fingerprint is not a string", ErrMalformedEnvelope, i)
			}
			rec.Fingerprint = s
		}
		if ps, ok := obj["parents"].([]any); ok {
			for _, p := range ps {
				if s, ok := p.(string); ok {
					rec.Parents = append(rec.Parents, s)
				}
			}
		}
		coils = append(coils, rec)
	}
	return coils, nil
}

func decodeExternal(raw any) ([]ExternalFingerprint, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformedEnvelope, KeyExternalFingerprints)
	}

	out := make([]ExternalFingerprint, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: external fingerprint %d is not an object", ErrMalformedEnvelope, i)
		}
		ext := ExternalFingerprint{}
		ext.Source, _ = obj["source"].(string)
		ext.Algorithm, _ = obj["algorithm"].(string)
		for _, key := range []string{"value", "fingerprint", "digest"} {
			if s, ok := obj[key].(string); ok && s != "" {
				ext.Digest = s
				break
			}
		}
		out = append(out, ext)
	}
	return out, nil
}

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %s", n)
		}
		return int(i), nil
	case int:
		return n, nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func floatValue(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// Encode writes env back out as an indented document.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil || env.Core == nil {
		return nil, fmt.Errorf("%w: no core", ErrMalformedEnvelope)
	}

	doc := map[string]any{KeyCore: env.Core}
	if len(env.ExternalFingerprints) > 0 {
		exts := make([]map[string]string, 0, len(env.ExternalFingerprints))
		for _, e := range env.ExternalFingerprints {
			exts = append(exts, map[string]string{
				"source":    e.Source,
				"algorithm": e.Algorithm,
				"value":     e.Digest,
			})
		}
		doc[KeyExternalFingerprints] = exts
	}
	return json.MarshalIndent(doc, "", "  ")
}
