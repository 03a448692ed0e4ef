package xmrcrypto

import (
	"encoding/binary"

	"filippo.io/edwards25519"

	"github.com/xmrgateway/gateway/invoice"
)

// Derivation computes the shared secret point 8*a*R for a transaction
// public key R and the wallet's view secret a. The cofactor multiply
// matches the reference derivation so a scanner using this package
// agrees with every other Monero implementation on which outputs
// belong to which subaddress.
func Derivation(viewSecret *edwards25519.Scalar, txPubKey *edwards25519.Point) *edwards25519.Point {
	aR := new(edwards25519.Point).ScalarMult(viewSecret, txPubKey)
	return new(edwards25519.Point).MultByCofactor(aR)
}

// DerivationToScalar computes Hs(derivation || varint(outputIndex)), the
// per-output scalar used both to recover a one-time output's owning
// spend key and to derive its amount mask.
func DerivationToScalar(derivation *edwards25519.Point, outputIndex uint64) *edwards25519.Scalar {
	return hashToScalar(derivation.Bytes(), appendVarint(nil, outputIndex))
}

func appendVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := 0
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		tmp[n] = b
		n++
		if v == 0 {
			break
		}
	}
	return append(buf, tmp[:n]...)
}

// SubKeyChecker is a precomputed table of subaddress public spend keys
// covering a single major index (the one passed to NewSubKeyChecker)
// with minor indices [0, minorMax], plus the primary address (0,0),
// enabling a constant-time lookup from a candidate recovered spend
// public key back to the owning SubIndex.
type SubKeyChecker struct {
	major      uint32
	minorMax   uint32
	viewSecret *edwards25519.Scalar
	table      map[[32]byte]invoice.SubIndex
}

// NewSubKeyChecker builds a checker covering minor indices [0, minorMax]
// under the given major index, plus (0,0) for the wallet's primary
// address.
func NewSubKeyChecker(vp ViewPair, major, minorMax uint32) *SubKeyChecker {
	c := &SubKeyChecker{
		major:      major,
		minorMax:   minorMax,
		viewSecret: vp.ViewSecret,
		table:      make(map[[32]byte]invoice.SubIndex, minorMax+2),
	}
	c.table[bytes32(vp.SpendPublic.Bytes())] = invoice.SubIndex{Major: 0, Minor: 0}
	for minor := uint32(0); minor <= minorMax; minor++ {
		D := SubaddressSpendPublic(vp, major, minor)
		c.table[bytes32(D.Bytes())] = invoice.SubIndex{Major: major, Minor: minor}
	}
	return c
}

// MinorMax reports the highest minor index the checker currently
// covers.
func (c *SubKeyChecker) MinorMax() uint32 { return c.minorMax }

// Derivation computes the shared-secret point for the given transaction
// public key using this checker's view secret.
func (c *SubKeyChecker) Derivation(txPubKey *edwards25519.Point) *edwards25519.Point {
	return Derivation(c.viewSecret, txPubKey)
}

// Check looks up the candidate recovered spend public key (output
// public key minus Hs(derivation||index)*G) in the table. ok is false
// if the output does not belong to any subaddress the checker covers.
func (c *SubKeyChecker) Check(candidateSpendPublic *edwards25519.Point) (invoice.SubIndex, bool) {
	sub, ok := c.table[bytes32(candidateSpendPublic.Bytes())]
	return sub, ok
}

// bytes32 adapts Point.Bytes (a []byte) to a comparable map key.
func bytes32(b []byte) (out [32]byte) {
	copy(out[:], b)
	return out
}
