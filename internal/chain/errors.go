package chain

import (
	"errors"

	"arcintegrity/internal/envelope"
)

// Chain verification errors.
var (
	// ErrMalformedEnvelope indicates the envelope lacks its core or seal.
	ErrMalformedEnvelope = envelope.ErrMalformedEnvelope

	// ErrFingerprintMismatch indicates a stored digest differs from its recomputation.
	ErrFingerprintMismatch = errors.New("chain: fingerprint mismatch")

	// ErrInvalidCoilCount is returned when asked to generate a negative number of coils.
	ErrInvalidCoilCount = errors.New("chain: coil count must not be negative")
)
