// Package xmrcrypto implements the small slice of Monero cryptography the
// gateway needs to turn a view pair into subaddresses and recognize
// outputs paid to them: Keccak-256 hashing, scalar/point arithmetic on
// edwards25519, Monero's address base58 encoding, output ownership
// detection, and amount unblinding. It does not implement transaction
// construction, ring signatures, or anything that needs a spend secret.
package xmrcrypto

import "golang.org/x/crypto/sha3"

// Keccak256 computes the Keccak-256 digest used throughout the Monero
// protocol. This is the original Keccak padding, not the NIST SHA3-256
// finalization, hence golang.org/x/crypto/sha3's "Legacy" constructor.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
