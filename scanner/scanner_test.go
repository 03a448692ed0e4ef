package scanner_test

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"filippo.io/edwards25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/scanner"
	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/actor"
	"github.com/xmrgateway/gateway/storage/memstore"
	"github.com/xmrgateway/gateway/xmrchain"
	"github.com/xmrgateway/gateway/xmrcrypto"
)

const (
	fixtureViewKey = "ad2093a5705b9f33e6f0f0c1bc1f5f639c756cdfc168c8f2ac6127ccbdab3a03"
	fixtureAddress = "4613YiHLM6JMH4zejMB2zJY5TwQCxL8p65ufw8kBP5yxX9itmuGLqp1dS4tkVoTxjyH3aYhYNrtGHbQzJQP5bFus3KHVdmf"
)

func fixtureViewPair(t *testing.T) xmrcrypto.ViewPair {
	t.Helper()
	vp, err := xmrcrypto.ParseViewPair(fixtureViewKey, fixtureAddress)
	require.NoError(t, err)
	return vp
}

// buildOwnedOutput derives a syntactically valid one-time output paying
// (major, minor) under vp, at outputIndex within its transaction, for
// amountPiconeros, using the same derivation math as xmrcrypto's output
// detection, run in reverse.
func buildOwnedOutput(t *testing.T, vp xmrcrypto.ViewPair, major, minor uint32, outputIndex uint64, amountPiconeros uint64) (txPubKey, outputKey [32]byte, encryptedAmount [8]byte) {
	t.Helper()

	var seed [64]byte
	_, err := cryptorand.Read(seed[:])
	require.NoError(t, err)
	r, err := edwards25519.NewScalar().SetUniformBytes(seed[:])
	require.NoError(t, err)

	R := new(edwards25519.Point).ScalarBaseMult(r)
	copy(txPubKey[:], R.Bytes())

	derivation := xmrcrypto.Derivation(vp.ViewSecret, R)
	hs := xmrcrypto.DerivationToScalar(derivation, outputIndex)
	D := xmrcrypto.SubaddressSpendPublic(vp, major, minor)
	hsG := new(edwards25519.Point).ScalarBaseMult(hs)
	P := new(edwards25519.Point).Add(hsG, D)
	copy(outputKey[:], P.Bytes())

	mask := xmrcrypto.Keccak256([]byte("amount"), hs.Bytes())
	var amountBytes [8]byte
	binary.LittleEndian.PutUint64(amountBytes[:], amountPiconeros)
	for i := range encryptedAmount {
		encryptedAmount[i] = amountBytes[i] ^ mask[i]
	}
	return txPubKey, outputKey, encryptedAmount
}

func txHash(tag byte) xmrchain.Hash {
	var h xmrchain.Hash
	h[0] = tag
	return h
}

func blockHash(tag byte, height uint64) xmrchain.Hash {
	var h xmrchain.Hash
	h[0] = tag
	h[1] = byte(height)
	h[2] = byte(height >> 8)
	return h
}

// mockDaemon serves a small mutable in-memory chain and mempool. Tests
// build the maps up front (or mutate them between Scan calls to
// simulate new blocks/reorgs/mempool churn); nothing here is safe for
// concurrent writers, only the concurrent readers a single tick's
// errgroup-driven cache Init/scan produces.
type mockDaemon struct {
	chain    map[uint64]xmrchain.Block
	blockTxs map[uint64][]xmrchain.Transaction
	pool     map[xmrchain.Hash]xmrchain.Transaction
	height   uint64
}

func newMockDaemon() *mockDaemon {
	return &mockDaemon{
		chain:    make(map[uint64]xmrchain.Block),
		blockTxs: make(map[uint64][]xmrchain.Transaction),
		pool:     make(map[xmrchain.Hash]xmrchain.Transaction),
	}
}

func (m *mockDaemon) Block(_ context.Context, height uint64) (xmrchain.Block, error) {
	b, ok := m.chain[height]
	if !ok {
		return xmrchain.Block{}, fmt.Errorf("mock: no block at height %d", height)
	}
	return b, nil
}

func (m *mockDaemon) BlockTransactions(_ context.Context, block xmrchain.Block) ([]xmrchain.Transaction, error) {
	return m.blockTxs[block.Height], nil
}

func (m *mockDaemon) Txpool(_ context.Context) ([]xmrchain.Transaction, error) {
	out := make([]xmrchain.Transaction, 0, len(m.pool))
	for _, tx := range m.pool {
		out = append(out, tx)
	}
	return out, nil
}

func (m *mockDaemon) TxpoolHashes(_ context.Context) (map[xmrchain.Hash]struct{}, error) {
	out := make(map[xmrchain.Hash]struct{}, len(m.pool))
	for h := range m.pool {
		out[h] = struct{}{}
	}
	return out, nil
}

func (m *mockDaemon) TransactionsByHashes(_ context.Context, hashes []xmrchain.Hash) ([]xmrchain.Transaction, error) {
	out := make([]xmrchain.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, ok := m.pool[h]
		if !ok {
			return nil, fmt.Errorf("mock: no transaction %s", h)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *mockDaemon) DaemonHeight(_ context.Context) (uint64, error) { return m.height, nil }

func (m *mockDaemon) URL() string { return "mock://" }

// setLinearChain fills heights [0, tip] with a simple linear chain
// under the given tag, with no transactions, and sets the daemon
// height to tip+1.
func (m *mockDaemon) setLinearChain(tag byte, tip uint64) {
	for h := uint64(0); h <= tip; h++ {
		prev := blockHash(tag, h-1)
		if h == 0 {
			prev = xmrchain.Hash{}
		}
		m.chain[h] = xmrchain.Block{Hash: blockHash(tag, h), PrevID: prev, Height: h}
	}
	m.height = tip + 1
}

type mockPublisher struct {
	mu      sync.Mutex
	updates []invoice.Invoice
}

func (p *mockPublisher) SendUpdates(_ context.Context, inv invoice.Invoice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, inv)
}

func (p *mockPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func newStoreHandle(t *testing.T) *actor.Handle {
	t.Helper()
	h, stop := actor.Start(memstore.New())
	t.Cleanup(stop)
	return h
}

func TestScanDetectsMempoolPayment(t *testing.T) {
	ctx := context.Background()
	vp := fixtureViewPair(t)
	sub := invoice.SubIndex{Major: 1, Minor: 5}
	address := xmrcrypto.GetSubaddress(vp, sub.Major, sub.Minor)

	store := newStoreHandle(t)
	inv := invoice.New(address, sub, 9, 37_419_570, 0, 10, nil)
	require.NoError(t, store.InsertInvoice(ctx, inv))

	d := newMockDaemon()
	d.setLinearChain(1, 9)

	publisher := &mockPublisher{}
	s, err := scanner.New(ctx, d, store, 1, nil, publisher)
	require.NoError(t, err)

	txPubKey, outputKey, encAmount := buildOwnedOutput(t, vp, sub.Major, sub.Minor, 0, 37_419_570)
	tx := xmrchain.Transaction{
		Hash:     txHash(0xaa),
		TxPubKey: txPubKey,
		Outputs: []xmrchain.Output{
			{Target: xmrchain.OutputTarget{Kind: xmrchain.TargetToKey, Key: outputKey}, EncryptedAmount: encAmount},
		},
	}
	d.pool[tx.Hash] = tx

	checker := xmrcrypto.NewSubKeyChecker(vp, sub.Major, sub.Minor)
	require.NoError(t, s.Scan(ctx, checker))

	got, ok, err := store.GetInvoice(ctx, inv.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(37_419_570), got.AmountPaid)
	assert.True(t, got.IsConfirmed())
	assert.Nil(t, got.PaidHeight, "a mempool-only payment has no mined height yet")
	assert.Equal(t, 1, publisher.count())
}

func TestScanIgnoresTimeLockedTransaction(t *testing.T) {
	ctx := context.Background()
	vp := fixtureViewPair(t)
	sub := invoice.SubIndex{Major: 0, Minor: 97}
	address := xmrcrypto.GetSubaddress(vp, sub.Major, sub.Minor)

	store := newStoreHandle(t)
	inv := invoice.New(address, sub, 9, 37_419_570, 0, 10, nil)
	require.NoError(t, store.InsertInvoice(ctx, inv))

	d := newMockDaemon()
	d.setLinearChain(1, 9)

	s, err := scanner.New(ctx, d, store, 1, nil, &mockPublisher{})
	require.NoError(t, err)

	txPubKey, outputKey, encAmount := buildOwnedOutput(t, vp, sub.Major, sub.Minor, 0, 37_419_570)
	tx := xmrchain.Transaction{
		Hash:       txHash(0xbb),
		UnlockTime: 100,
		TxPubKey:   txPubKey,
		Outputs: []xmrchain.Output{
			{Target: xmrchain.OutputTarget{Kind: xmrchain.TargetToKey, Key: outputKey}, EncryptedAmount: encAmount},
		},
	}
	d.pool[tx.Hash] = tx

	checker := xmrcrypto.NewSubKeyChecker(vp, sub.Major, sub.Minor)
	require.NoError(t, s.Scan(ctx, checker))

	got, ok, err := store.GetInvoice(ctx, inv.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), got.AmountPaid, "a time locked transaction must never count toward an invoice")
}

func TestScanIgnoresBurningBugDuplicateOutputKey(t *testing.T) {
	ctx := context.Background()
	vp := fixtureViewPair(t)
	sub := invoice.SubIndex{Major: 0, Minor: 97}
	address := xmrcrypto.GetSubaddress(vp, sub.Major, sub.Minor)

	store := newStoreHandle(t)
	inv := invoice.New(address, sub, 9, 37_419_570, 0, 10, nil)
	require.NoError(t, store.InsertInvoice(ctx, inv))

	txPubKey, outputKey, encAmount := buildOwnedOutput(t, vp, sub.Major, sub.Minor, 0, 37_419_570)

	// Pre-seed the output-key store with a different OutputId for the
	// same public key, simulating a prior (or malicious, duplicated)
	// output using the same key.
	require.NoError(t, store.InsertOutputKey(ctx, storage.OutputPubKey(outputKey), storage.OutputID{Index: 1}))

	d := newMockDaemon()
	d.setLinearChain(1, 9)

	s, err := scanner.New(ctx, d, store, 1, nil, &mockPublisher{})
	require.NoError(t, err)

	tx := xmrchain.Transaction{
		Hash:     txHash(0xcc),
		TxPubKey: txPubKey,
		Outputs: []xmrchain.Output{
			{Target: xmrchain.OutputTarget{Kind: xmrchain.TargetToKey, Key: outputKey}, EncryptedAmount: encAmount},
		},
	}
	d.pool[tx.Hash] = tx

	checker := xmrcrypto.NewSubKeyChecker(vp, sub.Major, sub.Minor)
	require.NoError(t, s.Scan(ctx, checker))

	got, ok, err := store.GetInvoice(ctx, inv.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), got.AmountPaid, "a duplicate output public key must not contribute to an invoice")
}

func TestScanReorgZeroesMinedPayment(t *testing.T) {
	ctx := context.Background()
	vp := fixtureViewPair(t)
	sub := invoice.SubIndex{Major: 1, Minor: 97}
	address := xmrcrypto.GetSubaddress(vp, sub.Major, sub.Minor)

	store := newStoreHandle(t)
	inv := invoice.New(address, sub, 9, 37_419_570, 0, 100, nil)
	require.NoError(t, store.InsertInvoice(ctx, inv))

	d := newMockDaemon()
	d.setLinearChain(1, 9) // heights 0..9, daemon height 10

	s, err := scanner.New(ctx, d, store, 2, nil, &mockPublisher{})
	require.NoError(t, err)

	txPubKey, outputKey, encAmount := buildOwnedOutput(t, vp, sub.Major, sub.Minor, 0, 37_419_570)
	paymentTx := xmrchain.Transaction{
		Hash:     txHash(0xdd),
		TxPubKey: txPubKey,
		Outputs: []xmrchain.Output{
			{Target: xmrchain.OutputTarget{Kind: xmrchain.TargetToKey, Key: outputKey}, EncryptedAmount: encAmount},
		},
	}
	d.blockTxs[9] = []xmrchain.Transaction{paymentTx}

	checker := xmrcrypto.NewSubKeyChecker(vp, sub.Major, sub.Minor)
	require.NoError(t, s.Scan(ctx, checker))

	got, ok, err := store.GetInvoice(ctx, inv.ID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(37_419_570), got.AmountPaid, "payment should be recorded as mined at height 9")
	require.NotNil(t, got.PaidHeight)
	require.Equal(t, uint64(9), *got.PaidHeight)

	// Reorg: a new block 10 arrives atop a replacement block 9 that
	// carries no payment, invalidating the cached (original) block 9.
	altHash9 := blockHash(2, 9)
	d.chain[9] = xmrchain.Block{Hash: altHash9, PrevID: blockHash(1, 8), Height: 9}
	d.blockTxs[9] = nil
	d.chain[10] = xmrchain.Block{Hash: blockHash(2, 10), PrevID: altHash9, Height: 10}
	d.height = 11

	require.NoError(t, s.Scan(ctx, checker))

	got, ok, err = store.GetInvoice(ctx, inv.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0), got.AmountPaid, "the reorg replaced the paying block, so the payment must be undone")
	assert.Nil(t, got.PaidHeight)
	assert.Equal(t, uint64(11), got.CurrentHeight)
}
