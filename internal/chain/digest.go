package chain

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// DigestHexLen is the length of a hex encoded SHA3-512 digest.
const DigestHexLen = 128

// emptyParent stands in for a predecessor that does not exist.
const emptyParent = "0"

// Digest returns the lowercase hex SHA3-512 of data.
func Digest(data []byte) string {
	sum := sha3.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// CoilFingerprint computes a coil digest from its two predecessors and the
// chain constants: SHA3-512(a || b || genesis || resonance).
func CoilFingerprint(parentA, parentB, genesis string, resonanceHz int) string {
	h := sha3.New512()
	h.Write([]byte(parentA))
	h.Write([]byte(parentB))
	h.Write([]byte(genesis))
	h.Write([]byte(strconv.Itoa(resonanceHz)))
	return hex.EncodeToString(h.Sum(nil))
}

// IsDigestHex reports whether s is a 128 character hex string.
func IsDigestHex(s string) bool {
	if len(s) != DigestHexLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
