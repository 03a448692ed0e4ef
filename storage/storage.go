// Package storage defines the three orthogonal capability sets the
// gateway's storage backend must provide — invoices, output keys, and
// the last scanned height — plus a composite Storage interface that
// bundles all three with a durability barrier. Concrete backends live
// in sibling packages (memstore, kvstore, sqlstore); storagetest holds
// a conformance suite every backend must pass.
package storage

import (
	"errors"

	"github.com/xmrgateway/gateway/invoice"
)

// ErrDuplicateInvoice is returned by InvoiceStore.Insert when an
// invoice with the same ID already exists.
var ErrDuplicateInvoice = errors.New("storage: invoice already exists")

// ErrDuplicateOutputKey is returned by OutputKeyStore.Insert when the
// given key is already associated with an output.
var ErrDuplicateOutputKey = errors.New("storage: output key already exists")

// InvoiceStore is the invoice-tracking half of a storage backend.
//
// Method names are qualified (InsertInvoice rather than Insert) because
// a single concrete backend implements InvoiceStore, OutputKeyStore and
// HeightStore simultaneously as the composite Storage interface, and
// Go has no method overloading.
type InvoiceStore interface {
	// InsertInvoice adds inv to the store. It returns
	// ErrDuplicateInvoice if an invoice with the same ID is already
	// present.
	InsertInvoice(inv invoice.Invoice) error

	// RemoveInvoice deletes the invoice with the given ID, returning it
	// if it existed, or (zero, false) if it did not.
	RemoveInvoice(id invoice.ID) (invoice.Invoice, bool, error)

	// UpdateInvoice replaces an existing invoice in place, returning
	// the prior value. If no invoice with that ID exists, UpdateInvoice
	// is a no-op and returns (zero, false).
	UpdateInvoice(inv invoice.Invoice) (invoice.Invoice, bool, error)

	// GetInvoice retrieves the invoice with the given ID, if any.
	GetInvoice(id invoice.ID) (invoice.Invoice, bool, error)

	// GetInvoiceIDs returns the IDs of every tracked invoice, in no
	// particular order.
	GetInvoiceIDs() ([]invoice.ID, error)

	// ContainsSubIndex reports whether any invoice — regardless of
	// creation height — is tracked under the given subaddress.
	ContainsSubIndex(sub invoice.SubIndex) (bool, error)

	// ForEachInvoice streams every tracked invoice to fn. Iteration
	// stops and ForEachInvoice returns fn's error the first time fn
	// returns a non-nil error.
	ForEachInvoice(fn func(invoice.Invoice) error) error

	// IsEmpty reports whether the store currently tracks zero invoices.
	IsEmpty() (bool, error)

	// LowestHeight returns the minimum CurrentHeight across all tracked
	// invoices, or (0, false) if the store is empty.
	LowestHeight() (uint64, bool, error)
}

// OutputPubKey is the 32-byte public key of a transaction output.
type OutputPubKey [32]byte

// OutputID identifies a specific output by the hash of its containing
// transaction and its index within that transaction.
type OutputID struct {
	TxHash [32]byte
	Index  uint8
}

// OutputKeyStore records every owned output key ever seen, as a defense
// against the burning bug: a duplicate output public key across two
// different transactions must only ever count once.
type OutputKeyStore interface {
	// InsertOutputKey records that key belongs to output id. It
	// returns ErrDuplicateOutputKey if key is already recorded.
	InsertOutputKey(key OutputPubKey, id OutputID) error

	// GetOutputKey returns the output ID previously recorded for key,
	// if any.
	GetOutputKey(key OutputPubKey) (OutputID, bool, error)
}

// HeightStore tracks the most recently fully-scanned block height.
type HeightStore interface {
	// UpsertHeight sets the stored height, returning the prior value
	// if one existed.
	UpsertHeight(height uint64) (uint64, bool, error)

	// GetHeight returns the stored height, if any.
	GetHeight() (uint64, bool, error)
}

// Storage bundles all three capability sets with a durability barrier.
// Flush must block until all prior mutations are durably persisted; for
// backends that are already synchronous on every write, it is a no-op.
type Storage interface {
	InvoiceStore
	OutputKeyStore
	HeightStore

	Flush() error
}
