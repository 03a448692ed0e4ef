package xmrcrypto

import (
	"encoding/binary"

	"filippo.io/edwards25519"
)

// subAddrDomain is the domain-separation prefix Monero uses when hashing
// a view secret and (major, minor) pair into a subaddress scalar. The
// trailing NUL is part of the reference prefix.
var subAddrDomain = []byte("SubAddr\x00")

// GetSubaddress derives the base58 address for (major, minor) under vp.
// Index (0,0) is never issued to invoices (see SubIndex.IsPrimary) but
// is handled correctly here too: it returns the wallet's own primary
// address, computed directly from the account keys rather than through
// the subaddress derivation formula, matching the reference
// implementation's special case.
func GetSubaddress(vp ViewPair, major, minor uint32) string {
	if major == 0 && minor == 0 {
		viewPublic := new(edwards25519.Point).ScalarBaseMult(vp.ViewSecret)
		return encodeAddress(mainnetPrimaryTag, vp.SpendPublic, viewPublic)
	}

	m := subaddressScalar(vp.ViewSecret, major, minor)
	// D = B + m*G
	mG := new(edwards25519.Point).ScalarBaseMult(m)
	D := new(edwards25519.Point).Add(vp.SpendPublic, mG)
	// C = a*D
	C := new(edwards25519.Point).ScalarMult(vp.ViewSecret, D)

	return encodeAddress(mainnetSubaddressTag, D, C)
}

// SubaddressSpendPublic returns the public spend key D for (major,
// minor) under vp, without encoding a full address. (0,0) returns the
// wallet's own spend public key B, matching GetSubaddress's special
// case.
func SubaddressSpendPublic(vp ViewPair, major, minor uint32) *edwards25519.Point {
	if major == 0 && minor == 0 {
		return vp.SpendPublic
	}
	m := subaddressScalar(vp.ViewSecret, major, minor)
	mG := new(edwards25519.Point).ScalarBaseMult(m)
	return new(edwards25519.Point).Add(vp.SpendPublic, mG)
}

func subaddressScalar(viewSecret *edwards25519.Scalar, major, minor uint32) *edwards25519.Scalar {
	var majorBytes, minorBytes [4]byte
	binary.LittleEndian.PutUint32(majorBytes[:], major)
	binary.LittleEndian.PutUint32(minorBytes[:], minor)
	return hashToScalar(subAddrDomain, viewSecret.Bytes(), majorBytes[:], minorBytes[:])
}
