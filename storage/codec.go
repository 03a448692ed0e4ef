package storage

import (
	"encoding/json"
	"fmt"

	"github.com/xmrgateway/gateway/invoice"
)

// wireTransfer and wireInvoice mirror invoice.Transfer/invoice.Invoice
// field-for-field; they exist only so persisted backends (kvstore,
// sqlstore) have a stable, explicit JSON encoding independent of
// invoice package internals, rather than relying on json tags the
// invoice package itself doesn't declare.
type wireTransfer struct {
	AmountPiconeros uint64  `json:"amount_piconeros"`
	Height          *uint64 `json:"height,omitempty"`
}

type wireInvoice struct {
	Major                 uint32         `json:"major"`
	Minor                 uint32         `json:"minor"`
	CreationHeight        uint64         `json:"creation_height"`
	Address               string         `json:"address"`
	AmountRequested       uint64         `json:"amount_requested"`
	ConfirmationsRequired uint64         `json:"confirmations_required"`
	ExpirationHeight      uint64         `json:"expiration_height"`
	Description           []byte         `json:"description,omitempty"`
	Transfers             []wireTransfer `json:"transfers,omitempty"`
	AmountPaid            uint64         `json:"amount_paid"`
	PaidHeight            *uint64        `json:"paid_height,omitempty"`
	CurrentHeight         uint64         `json:"current_height"`
}

// EncodeInvoice serializes inv to a stable JSON form suitable for
// persistence.
func EncodeInvoice(inv invoice.Invoice) ([]byte, error) {
	w := wireInvoice{
		Major:                 inv.Index.Major,
		Minor:                 inv.Index.Minor,
		CreationHeight:        inv.CreationHeight,
		Address:               inv.Address,
		AmountRequested:       inv.AmountRequested,
		ConfirmationsRequired: inv.ConfirmationsRequired,
		ExpirationHeight:      inv.ExpirationHeight,
		Description:           inv.Description,
		AmountPaid:            inv.AmountPaid,
		PaidHeight:            inv.PaidHeight,
		CurrentHeight:         inv.CurrentHeight,
	}
	for _, t := range inv.Transfers {
		w.Transfers = append(w.Transfers, wireTransfer{AmountPiconeros: t.AmountPiconeros, Height: t.Height})
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("storage: encode invoice: %w", err)
	}
	return b, nil
}

// DecodeInvoice is the inverse of EncodeInvoice.
func DecodeInvoice(b []byte) (invoice.Invoice, error) {
	var w wireInvoice
	if err := json.Unmarshal(b, &w); err != nil {
		return invoice.Invoice{}, fmt.Errorf("storage: decode invoice: %w", err)
	}
	inv := invoice.New(w.Address, invoice.SubIndex{Major: w.Major, Minor: w.Minor}, w.CreationHeight, w.AmountRequested, w.ConfirmationsRequired, w.ExpirationHeight-w.CreationHeight, w.Description)
	inv.AmountPaid = w.AmountPaid
	inv.PaidHeight = w.PaidHeight
	inv.CurrentHeight = w.CurrentHeight
	for _, t := range w.Transfers {
		inv.Transfers = append(inv.Transfers, invoice.Transfer{AmountPiconeros: t.AmountPiconeros, Height: t.Height})
	}
	return inv, nil
}
