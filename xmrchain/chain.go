// Package xmrchain holds the gateway's view of on-chain and in-pool
// data: blocks, transactions, and their outputs, in the shape the
// scanner needs to walk them. It deliberately does not reimplement
// Monero's portable binary transaction codec (no such decoder exists
// anywhere in the reference corpus or its dependency tree); instead it
// decodes the JSON transaction representation the daemon embeds
// alongside the binary blob in its RPC responses, which carries the
// same fields (outputs, unlock_time, the tx public key(s) in extra,
// ringCT ecdh info) under stable names.
package xmrchain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash is a 32-byte Monero hash (block id or transaction id).
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("xmrchain: decode hash: %w", err)
	}
	if len(decoded) != len(h) {
		return fmt.Errorf("xmrchain: hash has wrong length %d", len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HashFromHex decodes a hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("xmrchain: decode hash: %w", err)
	}
	if len(decoded) != len(h) {
		return h, fmt.Errorf("xmrchain: hash has wrong length %d", len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}

// Block is the header and transaction-hash list for a block at a known
// height. PrevID is the hash of the parent block, used by the block
// cache to detect reorgs.
type Block struct {
	Hash     Hash
	PrevID   Hash
	Height   uint64
	TxHashes []Hash
}

// OutputTarget is the spendability condition attached to an output.
// The gateway only understands the two key-based target kinds; any
// other kind is a fatal scan error (xmrerrors.UnsupportedOutputTarget).
type OutputTarget struct {
	Kind string // "txout_to_key" or "txout_to_tagged_key"
	Key  [32]byte
}

const (
	TargetToKey       = "txout_to_key"
	TargetToTaggedKey = "txout_to_tagged_key"
)

// Output is a single transaction output together with its RingCT
// masking data needed to recover the spent amount once ownership is
// established.
type Output struct {
	Target          OutputTarget
	EncryptedAmount [8]byte // ecdhInfo.amount, short form
	Commitment      [32]byte
}

// Transaction is the subset of a Monero transaction the scanner needs:
// its public key(s) (for output derivation), its unlock time (for
// timelock rejection), and its outputs.
type Transaction struct {
	Hash              Hash
	UnlockTime        uint64
	TxPubKey          [32]byte
	AdditionalPubKeys [][32]byte
	Outputs           []Output
}

// IsTimeLocked reports whether the transaction carries a non-zero
// unlock_time. Payment gateways must not count outputs from time-locked
// transactions, since the recipient cannot prove spendability yet.
func (tx Transaction) IsTimeLocked() bool { return tx.UnlockTime != 0 }
