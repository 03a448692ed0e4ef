package invoice

import "encoding/json"

// OrderMetadata is a convenience JSON envelope an outer server layer may
// choose to store in Invoice.Description. The core never constructs,
// parses, or otherwise inspects it — Description is opaque bytes as far
// as this package and the scanner are concerned.
type OrderMetadata struct {
	Memo        string `json:"memo,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Marshal encodes the metadata as JSON bytes suitable for use as an
// Invoice's Description.
func (m OrderMetadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseOrderMetadata decodes bytes previously produced by Marshal. It is
// provided purely as a convenience for callers that choose to use this
// envelope; the core itself never calls it.
func ParseOrderMetadata(b []byte) (OrderMetadata, error) {
	var m OrderMetadata
	err := json.Unmarshal(b, &m)
	return m, err
}
