// Package actor serializes access to a storage.Storage behind a single
// owning goroutine: every mutation and read is a message on one
// channel, handled FIFO, so the backend never needs its own locking and
// the scanner can treat storage I/O as just another blocking call on a
// handle it can freely share and clone.
//
// Grounded on the storage manager/client split in the original
// implementation's storage actor (a channel of tagged method requests,
// each carrying its own one-shot reply), translated to Go's request/
// reply-channel idiom in place of oneshot channels.
package actor

import (
	"context"
	"fmt"

	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage"
)

const inboxSize = 64

// request is the single message type accepted by the actor's goroutine.
// do is run against the owned store and its result sent back on reply.
type request struct {
	do    func(storage.Storage)
	reply chan struct{}
}

// Handle is a cloneable reference to a running storage actor. All of
// its methods are safe to call concurrently from any number of
// goroutines.
type Handle struct {
	inbox chan request
	done  chan struct{}
}

// Start spawns the actor goroutine owning store and returns a Handle to
// it. Closing the returned stop function closes the inbox, which lets
// the goroutine drain in-flight requests and then exit.
func Start(store storage.Storage) (handle *Handle, stop func()) {
	inbox := make(chan request, inboxSize)
	done := make(chan struct{})

	go func() {
		log := xlog.Named("storage-actor")
		defer func() {
			log.Debug("storage actor shutting down")
			close(done)
		}()
		for req := range inbox {
			req.do(store)
			close(req.reply)
		}
	}()

	h := &Handle{inbox: inbox, done: done}
	return h, func() { close(inbox) }
}

// Wait blocks until the actor goroutine has fully drained and exited.
func (h *Handle) Wait() {
	<-h.done
}

func (h *Handle) call(ctx context.Context, do func(storage.Storage)) error {
	reply := make(chan struct{})
	select {
	case h.inbox <- request{do: do, reply: reply}:
	case <-ctx.Done():
		return fmt.Errorf("storage actor: enqueue: %w", ctx.Err())
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("storage actor: await reply: %w", ctx.Err())
	}
}

// InsertInvoice mirrors storage.InvoiceStore.InsertInvoice.
func (h *Handle) InsertInvoice(ctx context.Context, inv invoice.Invoice) error {
	var result error
	err := h.call(ctx, func(s storage.Storage) { result = s.InsertInvoice(inv) })
	if err != nil {
		return err
	}
	return result
}

// RemoveInvoice mirrors storage.InvoiceStore.RemoveInvoice.
func (h *Handle) RemoveInvoice(ctx context.Context, id invoice.ID) (invoice.Invoice, bool, error) {
	var (
		inv invoice.Invoice
		ok  bool
		err error
	)
	callErr := h.call(ctx, func(s storage.Storage) { inv, ok, err = s.RemoveInvoice(id) })
	if callErr != nil {
		return invoice.Invoice{}, false, callErr
	}
	return inv, ok, err
}

// UpdateInvoice mirrors storage.InvoiceStore.UpdateInvoice.
func (h *Handle) UpdateInvoice(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, bool, error) {
	var (
		prior invoice.Invoice
		ok    bool
		err   error
	)
	callErr := h.call(ctx, func(s storage.Storage) { prior, ok, err = s.UpdateInvoice(inv) })
	if callErr != nil {
		return invoice.Invoice{}, false, callErr
	}
	return prior, ok, err
}

// GetInvoice mirrors storage.InvoiceStore.GetInvoice.
func (h *Handle) GetInvoice(ctx context.Context, id invoice.ID) (invoice.Invoice, bool, error) {
	var (
		inv invoice.Invoice
		ok  bool
		err error
	)
	callErr := h.call(ctx, func(s storage.Storage) { inv, ok, err = s.GetInvoice(id) })
	if callErr != nil {
		return invoice.Invoice{}, false, callErr
	}
	return inv, ok, err
}

// GetInvoiceIDs mirrors storage.InvoiceStore.GetInvoiceIDs.
func (h *Handle) GetInvoiceIDs(ctx context.Context) ([]invoice.ID, error) {
	var (
		ids []invoice.ID
		err error
	)
	callErr := h.call(ctx, func(s storage.Storage) { ids, err = s.GetInvoiceIDs() })
	if callErr != nil {
		return nil, callErr
	}
	return ids, err
}

// ContainsSubIndex mirrors storage.InvoiceStore.ContainsSubIndex.
func (h *Handle) ContainsSubIndex(ctx context.Context, sub invoice.SubIndex) (bool, error) {
	var (
		ok  bool
		err error
	)
	callErr := h.call(ctx, func(s storage.Storage) { ok, err = s.ContainsSubIndex(sub) })
	if callErr != nil {
		return false, callErr
	}
	return ok, err
}

// ForEachInvoice mirrors storage.InvoiceStore.ForEachInvoice. fn runs on
// the actor goroutine; it must not call back into the Handle.
func (h *Handle) ForEachInvoice(ctx context.Context, fn func(invoice.Invoice) error) error {
	var err error
	callErr := h.call(ctx, func(s storage.Storage) { err = s.ForEachInvoice(fn) })
	if callErr != nil {
		return callErr
	}
	return err
}

// IsEmpty mirrors storage.InvoiceStore.IsEmpty.
func (h *Handle) IsEmpty(ctx context.Context) (bool, error) {
	var (
		empty bool
		err   error
	)
	callErr := h.call(ctx, func(s storage.Storage) { empty, err = s.IsEmpty() })
	if callErr != nil {
		return false, callErr
	}
	return empty, err
}

// LowestHeight mirrors storage.InvoiceStore.LowestHeight.
func (h *Handle) LowestHeight(ctx context.Context) (uint64, bool, error) {
	var (
		height uint64
		ok     bool
		err    error
	)
	callErr := h.call(ctx, func(s storage.Storage) { height, ok, err = s.LowestHeight() })
	if callErr != nil {
		return 0, false, callErr
	}
	return height, ok, err
}

// InsertOutputKey mirrors storage.OutputKeyStore.InsertOutputKey.
func (h *Handle) InsertOutputKey(ctx context.Context, key storage.OutputPubKey, id storage.OutputID) error {
	var result error
	err := h.call(ctx, func(s storage.Storage) { result = s.InsertOutputKey(key, id) })
	if err != nil {
		return err
	}
	return result
}

// GetOutputKey mirrors storage.OutputKeyStore.GetOutputKey.
func (h *Handle) GetOutputKey(ctx context.Context, key storage.OutputPubKey) (storage.OutputID, bool, error) {
	var (
		id storage.OutputID
		ok bool
		err error
	)
	callErr := h.call(ctx, func(s storage.Storage) { id, ok, err = s.GetOutputKey(key) })
	if callErr != nil {
		return storage.OutputID{}, false, callErr
	}
	return id, ok, err
}

// UpsertHeight mirrors storage.HeightStore.UpsertHeight.
func (h *Handle) UpsertHeight(ctx context.Context, height uint64) (uint64, bool, error) {
	var (
		prior uint64
		ok    bool
		err   error
	)
	callErr := h.call(ctx, func(s storage.Storage) { prior, ok, err = s.UpsertHeight(height) })
	if callErr != nil {
		return 0, false, callErr
	}
	return prior, ok, err
}

// GetHeight mirrors storage.HeightStore.GetHeight.
func (h *Handle) GetHeight(ctx context.Context) (uint64, bool, error) {
	var (
		height uint64
		ok     bool
		err    error
	)
	callErr := h.call(ctx, func(s storage.Storage) { height, ok, err = s.GetHeight() })
	if callErr != nil {
		return 0, false, callErr
	}
	return height, ok, err
}

// Flush mirrors storage.Storage.Flush.
func (h *Handle) Flush(ctx context.Context) error {
	var result error
	err := h.call(ctx, func(s storage.Storage) { result = s.Flush() })
	if err != nil {
		return err
	}
	return result
}
