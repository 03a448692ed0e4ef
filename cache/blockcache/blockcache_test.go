package blockcache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/cache/blockcache"
	"github.com/xmrgateway/gateway/xmrchain"
)

// mockDaemon serves a mutable in-memory chain keyed by height, so tests
// can rewrite history to simulate a reorg between calls.
type mockDaemon struct {
	chain  map[uint64]xmrchain.Block
	height uint64
}

func newMockDaemon() *mockDaemon {
	return &mockDaemon{chain: make(map[uint64]xmrchain.Block)}
}

func hashAt(tag byte, height uint64) xmrchain.Hash {
	var h xmrchain.Hash
	h[0] = tag
	h[1] = byte(height)
	h[2] = byte(height >> 8)
	return h
}

// setChain builds a simple linear chain from 0..=tip under the given
// tag (so a different tag produces an entirely different set of
// hashes, simulating a reorg from genesis-equivalent without actually
// touching genesis).
func (m *mockDaemon) setChain(tag byte, tip uint64) {
	for h := uint64(0); h <= tip; h++ {
		prev := hashAt(tag, h-1)
		if h == 0 {
			prev = xmrchain.Hash{}
		}
		m.chain[h] = xmrchain.Block{Hash: hashAt(tag, h), PrevID: prev, Height: h}
	}
	m.height = tip + 1
}

func (m *mockDaemon) Block(_ context.Context, height uint64) (xmrchain.Block, error) {
	b, ok := m.chain[height]
	if !ok {
		return xmrchain.Block{}, assertErr(height)
	}
	return b, nil
}

func (m *mockDaemon) BlockTransactions(_ context.Context, block xmrchain.Block) ([]xmrchain.Transaction, error) {
	return nil, nil
}

func (m *mockDaemon) Txpool(_ context.Context) ([]xmrchain.Transaction, error) { return nil, nil }

func (m *mockDaemon) TxpoolHashes(_ context.Context) (map[xmrchain.Hash]struct{}, error) {
	return nil, nil
}

func (m *mockDaemon) TransactionsByHashes(_ context.Context, hashes []xmrchain.Hash) ([]xmrchain.Transaction, error) {
	return nil, nil
}

func (m *mockDaemon) DaemonHeight(_ context.Context) (uint64, error) { return m.height, nil }

func (m *mockDaemon) URL() string { return "mock://" }

type assertErr uint64

func (e assertErr) Error() string { return "no such block" }

func TestInitFillsWindow(t *testing.T) {
	d := newMockDaemon()
	d.setChain(1, 10)

	c := blockcache.New(d, 5)
	require.NoError(t, c.Init(context.Background(), 10))

	assert.Equal(t, uint64(10), c.CacheHeight())
	assert.Equal(t, uint64(11), c.DaemonHeight())
	_, ok := c.BlockAt(6)
	assert.True(t, ok)
	_, ok = c.BlockAt(5)
	assert.False(t, ok)
}

func TestUpdateAdvancesByOne(t *testing.T) {
	d := newMockDaemon()
	d.setChain(1, 11)

	c := blockcache.New(d, 5)
	require.NoError(t, c.Init(context.Background(), 10))

	d.height = 12 // daemon tip is now 12, i.e. height 11 exists
	n, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(11), c.CacheHeight())
}

func TestUpdateDetectsAndRepairsReorg(t *testing.T) {
	d := newMockDaemon()
	d.setChain(1, 10)

	c := blockcache.New(d, 5)
	require.NoError(t, c.Init(context.Background(), 10))

	// Simulate a one-block reorg at the tip: height 10 is replaced, and
	// the new height 11 builds on the new height 10.
	newHeight10 := hashAt(2, 10)
	d.chain[10] = xmrchain.Block{Hash: newHeight10, PrevID: hashAt(1, 9), Height: 10}
	d.chain[11] = xmrchain.Block{Hash: hashAt(2, 11), PrevID: newHeight10, Height: 11}
	d.height = 12

	n, err := c.Update(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n) // one block advanced, one entry repaired

	got, ok := c.BlockAt(10)
	require.True(t, ok)
	assert.Equal(t, newHeight10, got.Hash)
}

func TestSkipAheadFillsGap(t *testing.T) {
	d := newMockDaemon()
	d.setChain(1, 20)

	c := blockcache.New(d, 5)
	require.NoError(t, c.Init(context.Background(), 10))

	d.height = 21
	n, err := c.SkipAhead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, uint64(20), c.CacheHeight())
}
