package xmrcrypto

import (
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/xmrgateway/gateway/invoice"
)

// DetectedOutput is the result of successfully matching a transaction
// output against a SubKeyChecker and recovering its amount.
type DetectedOutput struct {
	SubIndex        invoice.SubIndex
	AmountPiconeros uint64
}

// DetectOutput checks whether the output at outputIndex, with public
// key outputKey, belongs to a subaddress the checker covers. It
// returns ok=false (with no error) for an output that simply isn't
// ours. An error return means outputKeyBytes is not a valid curve
// point. The output's target type is not examined here; the scanner
// rejects unsupported target types before calling DetectOutput.
func DetectOutput(checker *SubKeyChecker, derivation *edwards25519.Point, outputIndex uint64, outputKeyBytes [32]byte, encryptedAmount [8]byte) (DetectedOutput, bool, error) {
	outputKey, err := new(edwards25519.Point).SetBytes(outputKeyBytes[:])
	if err != nil {
		return DetectedOutput{}, false, fmt.Errorf("xmrcrypto: invalid output public key: %w", err)
	}

	hs := DerivationToScalar(derivation, outputIndex)
	hsG := new(edwards25519.Point).ScalarBaseMult(hs)
	candidate := new(edwards25519.Point).Subtract(outputKey, hsG)

	sub, owned := checker.Check(candidate)
	if !owned {
		return DetectedOutput{}, false, nil
	}

	amount := unblindAmount(hs, encryptedAmount)
	return DetectedOutput{SubIndex: sub, AmountPiconeros: amount}, true, nil
}

// unblindAmount recovers a RingCT v2+ "short amount" by XOR-ing the
// masked value with the first 8 bytes of Keccak-256("amount" ||
// hs.Bytes()).
func unblindAmount(hs *edwards25519.Scalar, encrypted [8]byte) uint64 {
	mask := Keccak256([]byte("amount"), hs.Bytes())
	var masked [8]byte
	for i := range masked {
		masked[i] = encrypted[i] ^ mask[i]
	}
	return binary.LittleEndian.Uint64(masked[:])
}
