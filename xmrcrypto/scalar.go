package xmrcrypto

import "filippo.io/edwards25519"

// hashToScalar is Monero's Hs(): Keccak-256 the input, then reduce the
// 32-byte digest modulo the curve order l. edwards25519.Scalar only
// exposes a 64-byte wide reduction (SetUniformBytes), but zero-extending
// our 32-byte digest to 64 bytes and feeding it through that routine
// computes exactly the same little-endian-integer-mod-l value as
// Monero's sc_reduce32, since the upper 32 bytes contribute nothing.
func hashToScalar(data ...[]byte) *edwards25519.Scalar {
	digest := Keccak256(data...)
	var wide [64]byte
	copy(wide[:32], digest)

	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		// SetUniformBytes only fails on wrong input length; wide is
		// always exactly 64 bytes.
		panic(err)
	}
	return s
}
