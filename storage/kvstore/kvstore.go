// Package kvstore implements storage.Storage on top of an embedded
// cockroachdb/pebble LSM tree, keyed by namespace-prefixed bytes the
// way the teacher's own pebble-reading tooling lays out its keys.
package kvstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage"
)

var (
	invoicePrefix    = []byte{'i'}
	outputKeyPrefix  = []byte{'o'}
	heightKey        = []byte{'h'}
)

// Store is a pebble-backed storage.Storage.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pebble handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func invoiceKey(id invoice.ID) []byte {
	b := id.Bytes()
	return append(append([]byte{}, invoicePrefix...), b[:]...)
}

func outputKeyKey(key storage.OutputPubKey) []byte {
	return append(append([]byte{}, outputKeyPrefix...), key[:]...)
}

func (s *Store) InsertInvoice(inv invoice.Invoice) error {
	key := invoiceKey(inv.ID())
	if _, closer, err := s.db.Get(key); err == nil {
		closer.Close()
		return storage.ErrDuplicateInvoice
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("kvstore: check existing invoice: %w", err)
	}
	val, err := storage.EncodeInvoice(inv)
	if err != nil {
		return err
	}
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("kvstore: insert invoice: %w", err)
	}
	return nil
}

func (s *Store) RemoveInvoice(id invoice.ID) (invoice.Invoice, bool, error) {
	inv, ok, err := s.GetInvoice(id)
	if err != nil || !ok {
		return invoice.Invoice{}, false, err
	}
	if err := s.db.Delete(invoiceKey(id), pebble.Sync); err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("kvstore: remove invoice: %w", err)
	}
	return inv, true, nil
}

func (s *Store) UpdateInvoice(inv invoice.Invoice) (invoice.Invoice, bool, error) {
	id := inv.ID()
	prior, ok, err := s.GetInvoice(id)
	if err != nil || !ok {
		return invoice.Invoice{}, false, err
	}
	val, err := storage.EncodeInvoice(inv)
	if err != nil {
		return invoice.Invoice{}, false, err
	}
	if err := s.db.Set(invoiceKey(id), val, pebble.Sync); err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("kvstore: update invoice: %w", err)
	}
	return prior, true, nil
}

func (s *Store) GetInvoice(id invoice.ID) (invoice.Invoice, bool, error) {
	val, closer, err := s.db.Get(invoiceKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return invoice.Invoice{}, false, nil
	}
	if err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("kvstore: get invoice: %w", err)
	}
	defer closer.Close()
	inv, err := storage.DecodeInvoice(val)
	if err != nil {
		return invoice.Invoice{}, false, err
	}
	return inv, true, nil
}

func (s *Store) GetInvoiceIDs() ([]invoice.ID, error) {
	var ids []invoice.ID
	err := s.iterateInvoices(func(inv invoice.Invoice) error {
		ids = append(ids, inv.ID())
		return nil
	})
	return ids, err
}

func (s *Store) ContainsSubIndex(sub invoice.SubIndex) (bool, error) {
	found := false
	err := s.iterateInvoices(func(inv invoice.Invoice) error {
		if inv.Index == sub {
			found = true
		}
		return nil
	})
	return found, err
}

func (s *Store) ForEachInvoice(fn func(invoice.Invoice) error) error {
	return s.iterateInvoices(fn)
}

func (s *Store) iterateInvoices(fn func(invoice.Invoice) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: invoicePrefix,
		UpperBound: prefixUpperBound(invoicePrefix),
	})
	if err != nil {
		return fmt.Errorf("kvstore: iterate invoices: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		inv, err := storage.DecodeInvoice(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(inv); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) IsEmpty() (bool, error) {
	empty := true
	err := s.iterateInvoices(func(invoice.Invoice) error {
		empty = false
		return errStopIteration
	})
	if errors.Is(err, errStopIteration) {
		err = nil
	}
	return empty, err
}

var errStopIteration = errors.New("kvstore: stop iteration")

func (s *Store) LowestHeight() (uint64, bool, error) {
	var (
		lowest uint64
		found  bool
	)
	err := s.iterateInvoices(func(inv invoice.Invoice) error {
		if !found || inv.CurrentHeight < lowest {
			lowest = inv.CurrentHeight
			found = true
		}
		return nil
	})
	return lowest, found, err
}

func (s *Store) InsertOutputKey(key storage.OutputPubKey, id storage.OutputID) error {
	k := outputKeyKey(key)
	if _, closer, err := s.db.Get(k); err == nil {
		closer.Close()
		return storage.ErrDuplicateOutputKey
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("kvstore: check existing output key: %w", err)
	}
	val := make([]byte, 33)
	copy(val, id.TxHash[:])
	val[32] = id.Index
	if err := s.db.Set(k, val, pebble.Sync); err != nil {
		return fmt.Errorf("kvstore: insert output key: %w", err)
	}
	return nil
}

func (s *Store) GetOutputKey(key storage.OutputPubKey) (storage.OutputID, bool, error) {
	val, closer, err := s.db.Get(outputKeyKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return storage.OutputID{}, false, nil
	}
	if err != nil {
		return storage.OutputID{}, false, fmt.Errorf("kvstore: get output key: %w", err)
	}
	defer closer.Close()
	if len(val) != 33 {
		return storage.OutputID{}, false, fmt.Errorf("kvstore: corrupt output id record (len %d)", len(val))
	}
	var id storage.OutputID
	copy(id.TxHash[:], val[:32])
	id.Index = val[32]
	return id, true, nil
}

func (s *Store) UpsertHeight(height uint64) (uint64, bool, error) {
	prior, had, err := s.GetHeight()
	if err != nil {
		return 0, false, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	if err := s.db.Set(heightKey, buf[:], pebble.Sync); err != nil {
		return 0, false, fmt.Errorf("kvstore: upsert height: %w", err)
	}
	return prior, had, nil
}

func (s *Store) GetHeight() (uint64, bool, error) {
	val, closer, err := s.db.Get(heightKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("kvstore: get height: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("kvstore: corrupt height record (len %d)", len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// Flush forces pebble's memtable to disk. Pebble's WAL already makes
// every Set/Delete above (issued with pebble.Sync) durable on return, so
// this exists to satisfy the storage.Storage contract rather than to do
// additional work.
func (s *Store) Flush() error {
	if err := s.db.Flush(); err != nil {
		return fmt.Errorf("kvstore: flush: %w", err)
	}
	return nil
}

func prefixUpperBound(prefix []byte) []byte {
	upper := bytes.Clone(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil // prefix is all 0xff; unbounded above
}

var _ storage.Storage = (*Store)(nil)
