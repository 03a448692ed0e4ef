// Package memstore implements an in-memory storage.Storage. Invoices
// held here do not survive a restart, and burning-bug protection resets
// along with it — acceptable for tests and short-lived demos, not for
// production use.
package memstore

import (
	"sort"
	"sync"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage"
)

// Store is an in-memory storage.Storage backed by plain maps guarded by
// a single mutex.
type Store struct {
	mu sync.RWMutex

	invoices   map[invoice.ID]invoice.Invoice
	outputKeys map[storage.OutputPubKey]storage.OutputID
	height     uint64
	haveHeight bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		invoices:   make(map[invoice.ID]invoice.Invoice),
		outputKeys: make(map[storage.OutputPubKey]storage.OutputID),
	}
}

func (s *Store) InsertInvoice(inv invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := inv.ID()
	if _, exists := s.invoices[id]; exists {
		return storage.ErrDuplicateInvoice
	}
	s.invoices[id] = inv.Clone()
	return nil
}

func (s *Store) RemoveInvoice(id invoice.ID) (invoice.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, false, nil
	}
	delete(s.invoices, id)
	return inv, true, nil
}

func (s *Store) UpdateInvoice(inv invoice.Invoice) (invoice.Invoice, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := inv.ID()
	prior, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, false, nil
	}
	s.invoices[id] = inv.Clone()
	return prior, true, nil
}

func (s *Store) GetInvoice(id invoice.ID) (invoice.Invoice, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, false, nil
	}
	return inv.Clone(), true, nil
}

func (s *Store) GetInvoiceIDs() ([]invoice.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]invoice.ID, 0, len(s.invoices))
	for id := range s.invoices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].SubIndex != ids[j].SubIndex {
			return ids[i].SubIndex.Less(ids[j].SubIndex)
		}
		return ids[i].CreationHeight < ids[j].CreationHeight
	})
	return ids, nil
}

func (s *Store) ContainsSubIndex(sub invoice.SubIndex) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.invoices {
		if id.SubIndex == sub {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ForEachInvoice(fn func(invoice.Invoice) error) error {
	s.mu.RLock()
	// Copy first so we don't hold the lock across arbitrary caller
	// code, and so fn can't observe a torn view if it calls back into
	// the store.
	snapshot := make([]invoice.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		snapshot = append(snapshot, inv.Clone())
	}
	s.mu.RUnlock()

	for _, inv := range snapshot {
		if err := fn(inv); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) IsEmpty() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices) == 0, nil
}

func (s *Store) LowestHeight() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		lowest uint64
		found  bool
	)
	for _, inv := range s.invoices {
		if !found || inv.CurrentHeight < lowest {
			lowest = inv.CurrentHeight
			found = true
		}
	}
	return lowest, found, nil
}

func (s *Store) InsertOutputKey(key storage.OutputPubKey, id storage.OutputID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outputKeys[key]; exists {
		return storage.ErrDuplicateOutputKey
	}
	s.outputKeys[key] = id
	return nil
}

func (s *Store) GetOutputKey(key storage.OutputPubKey) (storage.OutputID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.outputKeys[key]
	return id, ok, nil
}

func (s *Store) UpsertHeight(height uint64) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prior, had := s.height, s.haveHeight
	s.height, s.haveHeight = height, true
	return prior, had, nil
}

func (s *Store) GetHeight() (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, s.haveHeight, nil
}

func (s *Store) Flush() error { return nil }
