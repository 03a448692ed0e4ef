// Package storagetest holds a behavioral conformance suite every
// storage.Storage backend must pass, grounded directly on the
// insert/remove/update/contains/iterate test cases from the original
// implementation's storage trait tests.
package storagetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage"
)

func dummyInvoice() invoice.Invoice {
	return invoice.New(
		"4A1WSBQdCbUCqt3DaGfmqVFchXScF43M6c5r4B6JXT3dUwuALncU9XTEnRPmUMcB3c16kVP9Y7thFLCJ5BaMW3UmSy93w3w",
		invoice.SubIndex{Major: 123, Minor: 123},
		123, 1, 1, 1,
		[]byte("description"),
	)
}

func dummyOutputKey() storage.OutputPubKey {
	var k storage.OutputPubKey
	k[0] = 0xAB
	return k
}

func dummyOutputID() storage.OutputID {
	return storage.OutputID{TxHash: [32]byte{}, Index: 13}
}

// Run exercises every Storage invariant the scanner and gateway rely on
// against store. It is meant to be called once per backend, each from
// its own *_test.go in that backend's package, e.g.:
//
//	func TestMemstoreConformance(t *testing.T) {
//	    storagetest.Run(t, func() storage.Storage { return memstore.New() })
//	}
func Run(t *testing.T, newStore func() storage.Storage) {
	t.Run("InsertAndGetInvoice", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		require.NoError(t, s.InsertInvoice(inv))
		got, ok, err := s.GetInvoice(inv.ID())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, inv, got)
	})

	t.Run("InsertExistingInvoiceFails", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		require.NoError(t, s.InsertInvoice(inv))

		changed := inv
		changed.Description = []byte("different")
		err := s.InsertInvoice(changed)
		require.Error(t, err)

		got, _, err := s.GetInvoice(inv.ID())
		require.NoError(t, err)
		assert.NotEqual(t, changed.Description, got.Description)
	})

	t.Run("RemoveInvoice", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		require.NoError(t, s.InsertInvoice(inv))

		removed, ok, err := s.RemoveInvoice(inv.ID())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, inv, removed)

		_, ok, err = s.GetInvoice(inv.ID())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RemoveNonexistentInvoiceIsNoop", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		_, ok, err := s.RemoveInvoice(inv.ID())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateInvoice", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		require.NoError(t, s.InsertInvoice(inv))

		updated := inv
		updated.Description = []byte("test")
		prior, ok, err := s.UpdateInvoice(updated)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, inv, prior)

		got, _, err := s.GetInvoice(inv.ID())
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("UpdateNonexistentInvoiceIsNoop", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		_, ok, err := s.UpdateInvoice(inv)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = s.GetInvoice(inv.ID())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetNonexistentInvoice", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		_, ok, err := s.GetInvoice(inv.ID())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ContainsSubIndex", func(t *testing.T) {
		s := newStore()
		inv := dummyInvoice()
		require.NoError(t, s.InsertInvoice(inv))

		ok, err := s.ContainsSubIndex(invoice.SubIndex{Major: 123, Minor: 123})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ContainsSubIndex(invoice.SubIndex{Major: 1, Minor: 1})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ForEachVisitsExactlyOnce", func(t *testing.T) {
		s := newStore()
		a := dummyInvoice()
		b := invoice.New("addr2", invoice.SubIndex{Major: 1, Minor: 1}, 1, 1, 1, 1, nil)
		require.NoError(t, s.InsertInvoice(a))
		require.NoError(t, s.InsertInvoice(b))

		seen := map[invoice.ID]int{}
		err := s.ForEachInvoice(func(inv invoice.Invoice) error {
			seen[inv.ID()]++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, seen[a.ID()])
		assert.Equal(t, 1, seen[b.ID()])
		assert.Len(t, seen, 2)
	})

	t.Run("ForEachEmpty", func(t *testing.T) {
		s := newStore()
		calls := 0
		err := s.ForEachInvoice(func(invoice.Invoice) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Zero(t, calls)
	})

	t.Run("IsEmpty", func(t *testing.T) {
		s := newStore()
		empty, err := s.IsEmpty()
		require.NoError(t, err)
		assert.True(t, empty)

		require.NoError(t, s.InsertInvoice(dummyInvoice()))
		empty, err = s.IsEmpty()
		require.NoError(t, err)
		assert.False(t, empty)
	})

	t.Run("LowestHeight", func(t *testing.T) {
		s := newStore()
		_, ok, err := s.LowestHeight()
		require.NoError(t, err)
		assert.False(t, ok)

		a := dummyInvoice()
		a.CurrentHeight = 500
		b := invoice.New("addr2", invoice.SubIndex{Major: 1, Minor: 1}, 1, 1, 1, 1, nil)
		b.CurrentHeight = 100
		require.NoError(t, s.InsertInvoice(a))
		require.NoError(t, s.InsertInvoice(b))

		lowest, ok, err := s.LowestHeight()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(100), lowest)
	})

	t.Run("InsertAndGetOutputKey", func(t *testing.T) {
		s := newStore()
		key, id := dummyOutputKey(), dummyOutputID()
		require.NoError(t, s.InsertOutputKey(key, id))

		got, ok, err := s.GetOutputKey(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("InsertExistingOutputKeyFails", func(t *testing.T) {
		s := newStore()
		key, id := dummyOutputKey(), dummyOutputID()
		require.NoError(t, s.InsertOutputKey(key, id))
		require.Error(t, s.InsertOutputKey(key, id))

		got, ok, err := s.GetOutputKey(key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	t.Run("GetNonexistentOutputKey", func(t *testing.T) {
		s := newStore()
		_, ok, err := s.GetOutputKey(dummyOutputKey())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpsertHeight", func(t *testing.T) {
		s := newStore()
		_, ok, err := s.GetHeight()
		require.NoError(t, err)
		assert.False(t, ok)

		prior, ok, err := s.UpsertHeight(123)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, prior)

		height, ok, err := s.GetHeight()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(123), height)

		prior, ok, err = s.UpsertHeight(124)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(123), prior)

		height, _, err = s.GetHeight()
		require.NoError(t, err)
		assert.Equal(t, uint64(124), height)
	})

	t.Run("Flush", func(t *testing.T) {
		s := newStore()
		require.NoError(t, s.InsertInvoice(dummyInvoice()))
		assert.NoError(t, s.Flush())
	})
}
