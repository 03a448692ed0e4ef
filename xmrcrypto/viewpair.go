package xmrcrypto

import (
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
)

const (
	mainnetPrimaryTag    = 18
	mainnetSubaddressTag = 42
	addressPayloadLen    = 1 + 32 + 32 // tag + spend pub + view pub
	addressChecksumLen   = 4
)

// ViewPair is the (private view key, public spend key) pair a gateway is
// configured with. It never holds a spend secret: this is what makes the
// gateway non-custodial.
type ViewPair struct {
	ViewSecret  *edwards25519.Scalar
	SpendPublic *edwards25519.Point
}

// ParseViewPair derives a ViewPair from a hex-encoded private view key
// and the wallet's base58 primary address.
func ParseViewPair(privateViewKeyHex, primaryAddress string) (ViewPair, error) {
	viewBytes, err := hex.DecodeString(privateViewKeyHex)
	if err != nil {
		return ViewPair{}, fmt.Errorf("xmrcrypto: decode view key: %w", err)
	}
	if len(viewBytes) != 32 {
		return ViewPair{}, fmt.Errorf("xmrcrypto: view key must be 32 bytes, got %d", len(viewBytes))
	}
	viewSecret, err := edwards25519.NewScalar().SetCanonicalBytes(viewBytes)
	if err != nil {
		return ViewPair{}, fmt.Errorf("xmrcrypto: view key is not a valid scalar: %w", err)
	}

	spendPublic, _, err := decodeAddress(primaryAddress)
	if err != nil {
		return ViewPair{}, err
	}

	return ViewPair{ViewSecret: viewSecret, SpendPublic: spendPublic}, nil
}

// decodeAddress validates and decodes a Monero base58 address, returning
// its public spend and view points regardless of whether it is a
// primary address or a subaddress.
func decodeAddress(address string) (spendPublic, viewPublic *edwards25519.Point, err error) {
	raw, err := DecodeAddress(address)
	if err != nil {
		return nil, nil, fmt.Errorf("xmrcrypto: decode address: %w", err)
	}
	if len(raw) != addressPayloadLen+addressChecksumLen {
		return nil, nil, fmt.Errorf("xmrcrypto: address has wrong length %d", len(raw))
	}
	payload, checksum := raw[:addressPayloadLen], raw[addressPayloadLen:]
	want := Keccak256(payload)[:addressChecksumLen]
	for i := range checksum {
		if checksum[i] != want[i] {
			return nil, nil, fmt.Errorf("xmrcrypto: address checksum mismatch")
		}
	}
	tag := payload[0]
	if tag != mainnetPrimaryTag && tag != mainnetSubaddressTag {
		return nil, nil, fmt.Errorf("xmrcrypto: unrecognized address tag %d", tag)
	}

	spendPublic, err = new(edwards25519.Point).SetBytes(payload[1:33])
	if err != nil {
		return nil, nil, fmt.Errorf("xmrcrypto: invalid spend public key: %w", err)
	}
	viewPublic, err = new(edwards25519.Point).SetBytes(payload[33:65])
	if err != nil {
		return nil, nil, fmt.Errorf("xmrcrypto: invalid view public key: %w", err)
	}
	return spendPublic, viewPublic, nil
}

func encodeAddress(tag byte, spendPublic, viewPublic *edwards25519.Point) string {
	payload := make([]byte, 0, addressPayloadLen+addressChecksumLen)
	payload = append(payload, tag)
	payload = append(payload, spendPublic.Bytes()...)
	payload = append(payload, viewPublic.Bytes()...)
	checksum := Keccak256(payload)[:addressChecksumLen]
	payload = append(payload, checksum...)
	return EncodeAddress(payload)
}
