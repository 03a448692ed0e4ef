package xmrcrypto

import (
	"errors"
	"math/big"
)

// Monero does not use the usual big-integer base58 encoding every
// ecosystem base58 library implements (bitcoin/IPFS style). It encodes
// data in fixed 8-byte blocks, each block mapped to a fixed-width
// 11-character (or shorter, for the final partial block) base58 run, so
// that leading zero bytes within a block are preserved as leading '1'
// characters. No published Go base58 library implements this block
// scheme, so it is reproduced here directly from the reference
// algorithm (see DESIGN.md).
const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const fullBlockSize = 8
const fullEncodedBlockSize = 11

// encodedBlockSizes[n] is the encoded character width of an n-byte
// partial block, for n in [0, 8].
var encodedBlockSizes = [fullBlockSize + 1]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var alphabetIndex [256]int8

func init() {
	for i := range alphabetIndex {
		alphabetIndex[i] = -1
	}
	for i, c := range alphabet {
		alphabetIndex[byte(c)] = int8(i)
	}
}

// EncodeAddress base58-encodes address bytes the way the reference
// Monero client does: in 8-byte blocks.
func EncodeAddress(data []byte) string {
	var out []byte
	fullBlocks := len(data) / fullBlockSize
	for i := 0; i < fullBlocks; i++ {
		out = append(out, encodeBlock(data[i*fullBlockSize:(i+1)*fullBlockSize], fullEncodedBlockSize)...)
	}
	if rem := len(data) % fullBlockSize; rem > 0 {
		out = append(out, encodeBlock(data[fullBlocks*fullBlockSize:], encodedBlockSizes[rem])...)
	}
	return string(out)
}

func encodeBlock(block []byte, encodedSize int) []byte {
	num := new(big.Int).SetBytes(block)
	base := big.NewInt(58)
	rem := new(big.Int)

	out := make([]byte, encodedSize)
	for i := encodedSize - 1; i >= 0; i-- {
		num.DivMod(num, base, rem)
		out[i] = alphabet[rem.Int64()]
	}
	return out
}

// DecodeAddress reverses EncodeAddress.
func DecodeAddress(s string) ([]byte, error) {
	fullChars := len(s) / fullEncodedBlockSize
	out := []byte{}
	for i := 0; i < fullChars; i++ {
		block, err := decodeBlock(s[i*fullEncodedBlockSize:(i+1)*fullEncodedBlockSize], fullBlockSize)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	if rem := len(s) % fullEncodedBlockSize; rem > 0 {
		decodedSize := -1
		for n, sz := range encodedBlockSizes {
			if sz == rem {
				decodedSize = n
				break
			}
		}
		if decodedSize < 0 {
			return nil, errors.New("xmrcrypto: invalid base58 length")
		}
		block, err := decodeBlock(s[fullChars*fullEncodedBlockSize:], decodedSize)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}

func decodeBlock(s string, decodedSize int) ([]byte, error) {
	num := new(big.Int)
	base := big.NewInt(58)
	for i := 0; i < len(s); i++ {
		idx := alphabetIndex[s[i]]
		if idx < 0 {
			return nil, errors.New("xmrcrypto: invalid base58 character")
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(idx)))
	}
	raw := num.Bytes()
	if len(raw) > decodedSize {
		return nil, errors.New("xmrcrypto: base58 block overflow")
	}
	out := make([]byte, decodedSize)
	copy(out[decodedSize-len(raw):], raw)
	return out, nil
}
