package gateway_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/gateway"
	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage/memstore"
	"github.com/xmrgateway/gateway/xmrchain"
	"github.com/xmrgateway/gateway/xmrerrors"
)

const (
	fixtureViewKey = "ad2093a5705b9f33e6f0f0c1bc1f5f639c756cdfc168c8f2ac6127ccbdab3a03"
	fixtureAddress = "4613YiHLM6JMH4zejMB2zJY5TwQCxL8p65ufw8kBP5yxX9itmuGLqp1dS4tkVoTxjyH3aYhYNrtGHbQzJQP5bFus3KHVdmf"
)

// mockDaemon is an empty, static chain: these tests exercise the
// gateway's lifecycle and invoice bookkeeping, not payment detection
// (scanner_test.go already covers detection in depth).
type mockDaemon struct {
	height uint64
}

func newMockDaemon(height uint64) *mockDaemon { return &mockDaemon{height: height} }

func (m *mockDaemon) Block(_ context.Context, height uint64) (xmrchain.Block, error) {
	if height >= m.height {
		return xmrchain.Block{}, fmt.Errorf("mock: no block at height %d", height)
	}
	return xmrchain.Block{Height: height}, nil
}

func (m *mockDaemon) BlockTransactions(_ context.Context, _ xmrchain.Block) ([]xmrchain.Transaction, error) {
	return nil, nil
}

func (m *mockDaemon) Txpool(_ context.Context) ([]xmrchain.Transaction, error) { return nil, nil }

func (m *mockDaemon) TxpoolHashes(_ context.Context) (map[xmrchain.Hash]struct{}, error) {
	return nil, nil
}

func (m *mockDaemon) TransactionsByHashes(_ context.Context, _ []xmrchain.Hash) ([]xmrchain.Transaction, error) {
	return nil, nil
}

func (m *mockDaemon) DaemonHeight(_ context.Context) (uint64, error) { return m.height, nil }

func (m *mockDaemon) URL() string { return "mock://daemon" }

func newTestGateway(t *testing.T, daemon *mockDaemon) *gateway.Gateway {
	t.Helper()
	g, err := gateway.NewBuilder(fixtureViewKey, fixtureAddress).
		Store(memstore.New()).
		Client(daemon).
		ScanInterval(5 * time.Millisecond).
		BlockCacheSize(2).
		Seed(1).
		Build()
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestBuildStartsNotRunning(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	assert.Equal(t, gateway.StatusNotRunning, g.Status())
}

func TestDaemonURLPassthrough(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	assert.Equal(t, "mock://daemon", g.DaemonURL())
}

func TestDaemonHeightIsALiveCall(t *testing.T) {
	daemon := newMockDaemon(42)
	g := newTestGateway(t, daemon)

	h, err := g.DaemonHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h)

	daemon.height = 43
	h, err = g.DaemonHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(43), h, "DaemonHeight must reflect the daemon's current tip, not a stale cache")
}

func TestRunRejectsSecondConcurrentRun(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	ctx := context.Background()

	require.NoError(t, g.Run(ctx))
	err := g.Run(ctx)
	assert.ErrorIs(t, err, xmrerrors.ErrAlreadyRunning)

	require.NoError(t, g.Stop())
}

func TestStopWithoutRunReturnsErrNotRunning(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	err := g.Stop()
	assert.ErrorIs(t, err, xmrerrors.ErrNotRunning)
}

func TestRunAndStopLifecycle(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	ctx := context.Background()

	assert.Equal(t, gateway.StatusNotRunning, g.Status())
	require.NoError(t, g.Run(ctx))
	assert.Equal(t, gateway.StatusRunning, g.Status())

	// Let at least one tick elapse so CacheHeight reflects a completed scan.
	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, g.CacheHeight(), uint64(0))

	require.NoError(t, g.Stop())
	assert.Equal(t, gateway.StatusNotRunning, g.Status())
}

func TestNewInvoiceAndSubscribe(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	ctx := context.Background()

	id, err := g.NewInvoice(ctx, 37_419_570, 10, 100, []byte("order #1"))
	require.NoError(t, err)

	inv, ok, err := g.GetInvoice(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(37_419_570), inv.AmountRequested)
	assert.Equal(t, uint64(10), inv.ConfirmationsRequired)
	assert.NotEmpty(t, inv.Address)

	sub, ok := g.Subscribe(id)
	require.True(t, ok, "a just-created invoice must be subscribable")
	defer sub.Close()

	_, received, err := sub.TryRecv()
	require.NoError(t, err)
	assert.False(t, received, "no scan has run yet, so nothing should have been published")
}

func TestSubscribeUnknownInvoiceFails(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	_, ok := g.Subscribe(invoice.ID{})
	assert.False(t, ok)
}

func TestRemoveInvoiceReturnsSubaddressToPoolAndClosesSubscribers(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	ctx := context.Background()

	id, err := g.NewInvoice(ctx, 1, 1, 10, nil)
	require.NoError(t, err)

	removed, ok, err := g.RemoveInvoice(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id.SubIndex, removed.Index)

	_, stillThere, err := g.GetInvoice(ctx, id)
	require.NoError(t, err)
	assert.False(t, stillThere)

	_, ok = g.Subscribe(id)
	assert.False(t, ok, "removing an invoice must close its subscriber scope")
}

func TestRemoveInvoiceUnknownIsNotOK(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	_, ok, err := g.RemoveInvoice(context.Background(), invoice.ID{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubKeyCheckerRebuildsAsSubaddressPoolGrows(t *testing.T) {
	g := newTestGateway(t, newMockDaemon(20))
	ctx := context.Background()

	// MinAvailable is 100; issuing more than that forces the subaddress
	// cache's highest minor index past its initial watermark, which the
	// running scan loop must notice and rebuild its checker for.
	for i := 0; i < 150; i++ {
		_, err := g.NewInvoice(ctx, 1, 0, 10, nil)
		require.NoError(t, err)
	}

	require.NoError(t, g.Run(ctx))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, g.Stop())
}
