package xmrchain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// wireTransaction mirrors the field names the daemon uses in the
// "json" string embedded in get_transactions/get_block responses
// (monerod's cryptonote::transaction_prefix JSON dump).
type wireTransaction struct {
	UnlockTime uint64 `json:"unlock_time"`
	Vout       []struct {
		Amount uint64 `json:"amount"`
		Target struct {
			Key       *string `json:"key"`
			TaggedKey *struct {
				Key     string `json:"key"`
				ViewTag string `json:"view_tag"`
			} `json:"tagged_key"`
		} `json:"target"`
	} `json:"vout"`
	Extra         []int `json:"extra"`
	RctSignatures struct {
		EcdhInfo []struct {
			Amount string `json:"amount"`
		} `json:"ecdhInfo"`
		OutPk []string `json:"outPk"`
	} `json:"rct_signatures"`
}

// ParseTransactionJSON decodes the daemon's JSON transaction
// representation (the "json" field returned alongside a transaction's
// binary blob) into a Transaction. hash is the transaction's id, taken
// from the surrounding RPC response rather than the JSON body (the
// daemon reports it separately).
func ParseTransactionJSON(hash Hash, raw string) (Transaction, error) {
	var wire wireTransaction
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return Transaction{}, fmt.Errorf("xmrchain: parse transaction json: %w", err)
	}

	pubKey, additional, err := extractTxPubKeys(wire.Extra)
	if err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		Hash:              hash,
		UnlockTime:        wire.UnlockTime,
		TxPubKey:          pubKey,
		AdditionalPubKeys: additional,
	}

	for i, vout := range wire.Vout {
		out := Output{}
		switch {
		case vout.Target.Key != nil:
			key, err := decodeKey32(*vout.Target.Key)
			if err != nil {
				return Transaction{}, err
			}
			out.Target = OutputTarget{Kind: TargetToKey, Key: key}
		case vout.Target.TaggedKey != nil:
			key, err := decodeKey32(vout.Target.TaggedKey.Key)
			if err != nil {
				return Transaction{}, err
			}
			out.Target = OutputTarget{Kind: TargetToTaggedKey, Key: key}
		default:
			out.Target = OutputTarget{Kind: "unknown"}
		}

		if i < len(wire.RctSignatures.EcdhInfo) {
			amt, err := decodeShortAmount(wire.RctSignatures.EcdhInfo[i].Amount)
			if err != nil {
				return Transaction{}, err
			}
			out.EncryptedAmount = amt
		}
		if i < len(wire.RctSignatures.OutPk) {
			commitment, err := decodeKey32(wire.RctSignatures.OutPk[i])
			if err != nil {
				return Transaction{}, err
			}
			out.Commitment = commitment
		}

		tx.Outputs = append(tx.Outputs, out)
	}

	return tx, nil
}

func decodeKey32(s string) ([32]byte, error) {
	var key [32]byte
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("xmrchain: decode key: %w", err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("xmrchain: key has wrong length %d", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

// decodeShortAmount decodes the 8-byte masked amount the daemon reports
// as a hex string in rct_signatures.ecdhInfo[i].amount (RingCT v2+
// "short amount" form).
func decodeShortAmount(s string) ([8]byte, error) {
	var out [8]byte
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("xmrchain: decode masked amount: %w", err)
	}
	if len(decoded) != 8 {
		return out, fmt.Errorf("xmrchain: masked amount has wrong length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// extractTxPubKeys walks a transaction's tx_extra byte field (reported
// by the daemon as an array of ints) looking for the tx pubkey field
// (tag 0x01, one 32-byte key) and the additional-pubkeys field (tag
// 0x04, a varint count followed by that many 32-byte keys).
func extractTxPubKeys(extra []int) (pubKey [32]byte, additional [][32]byte, err error) {
	buf := make([]byte, len(extra))
	for i, v := range extra {
		buf[i] = byte(v)
	}

	i := 0
	for i < len(buf) {
		tag := buf[i]
		i++
		switch tag {
		case 0x01: // tx pubkey
			if i+32 > len(buf) {
				return pubKey, additional, fmt.Errorf("xmrchain: truncated tx pubkey in extra")
			}
			copy(pubKey[:], buf[i:i+32])
			i += 32
		case 0x04: // additional pubkeys
			count, n := decodeVarint(buf[i:])
			i += n
			for k := uint64(0); k < count; k++ {
				if i+32 > len(buf) {
					return pubKey, additional, fmt.Errorf("xmrchain: truncated additional pubkey in extra")
				}
				var key [32]byte
				copy(key[:], buf[i:i+32])
				additional = append(additional, key)
				i += 32
			}
		case 0x00, 0x02, 0x03:
			// Padding, merge-mining tag, or (deprecated) nonce: skip a
			// length-prefixed field if present, otherwise stop (padding
			// runs to the end of extra).
			if tag == 0x00 {
				i = len(buf)
				continue
			}
			if i >= len(buf) {
				return pubKey, additional, nil
			}
			length := int(buf[i])
			i++
			i += length
		default:
			// Unknown field tag: extra is not self-describing enough to
			// skip it safely, so stop scanning. Any tx pubkey already
			// found remains valid.
			return pubKey, additional, nil
		}
	}
	return pubKey, additional, nil
}

func decodeVarint(buf []byte) (value uint64, consumed int) {
	shift := uint(0)
	for consumed < len(buf) {
		b := buf[consumed]
		value |= uint64(b&0x7f) << shift
		consumed++
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return value, consumed
}
