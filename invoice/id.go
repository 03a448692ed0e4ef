package invoice

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// ID uniquely identifies an invoice by the combination of its
// subaddress index and creation height. Two invoices at the same
// subaddress created at different heights are distinct.
type ID struct {
	SubIndex       SubIndex
	CreationHeight uint64
}

func (id ID) String() string {
	return fmt.Sprintf("(%s,%d)", id.SubIndex, id.CreationHeight)
}

// idWireLen is the length in bytes of the big-endian
// major(4)|minor(4)|creation_height(8) encoding.
const idWireLen = 16

// Bytes returns the 16-byte big-endian major|minor|creation_height
// encoding of the ID. Storage backends that need a fixed-width sortable
// key use this directly rather than the base64 string form.
func (id ID) Bytes() [idWireLen]byte {
	var buf [idWireLen]byte
	binary.BigEndian.PutUint32(buf[0:4], id.SubIndex.Major)
	binary.BigEndian.PutUint32(buf[4:8], id.SubIndex.Minor)
	binary.BigEndian.PutUint64(buf[8:16], id.CreationHeight)
	return buf
}

// MarshalBase64 encodes the ID as 22 characters of unpadded URL-safe
// base64 over its 16-byte big-endian wire form.
func (id ID) MarshalBase64() string {
	b := id.Bytes()
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ParseIDBase64 decodes an ID previously produced by MarshalBase64. It
// rejects any input that does not decode to exactly 16 bytes.
func ParseIDBase64(s string) (ID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("invoice id is not valid base64: %w", err)
	}
	if len(raw) != idWireLen {
		return ID{}, fmt.Errorf("invoice id must decode to %d bytes, got %d", idWireLen, len(raw))
	}
	return ID{
		SubIndex: SubIndex{
			Major: binary.BigEndian.Uint32(raw[0:4]),
			Minor: binary.BigEndian.Uint32(raw[4:8]),
		},
		CreationHeight: binary.BigEndian.Uint64(raw[8:16]),
	}, nil
}
