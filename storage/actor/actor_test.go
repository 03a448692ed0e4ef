package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/storage/actor"
	"github.com/xmrgateway/gateway/storage/memstore"
)

func TestInsertAndGet(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, stop := actor.Start(memstore.New())
	defer func() {
		stop()
		h.Wait()
	}()

	ctx := context.Background()
	inv := invoice.New("addr", invoice.SubIndex{Major: 1, Minor: 1}, 100, 10, 0, 10, nil)
	require.NoError(t, h.InsertInvoice(ctx, inv))

	got, ok, err := h.GetInvoice(ctx, inv.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, inv, got)
}

func TestShutdownDrainsInFlightRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, stop := actor.Start(memstore.New())
	ctx := context.Background()
	inv := invoice.New("addr", invoice.SubIndex{Major: 2, Minor: 2}, 100, 10, 0, 10, nil)
	require.NoError(t, h.InsertInvoice(ctx, inv))

	stop()
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("actor did not shut down in time")
	}
}

func TestFIFOOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)

	h, stop := actor.Start(memstore.New())
	defer func() {
		stop()
		h.Wait()
	}()

	ctx := context.Background()
	for i := uint64(0); i < 50; i++ {
		_, _, err := h.UpsertHeight(ctx, i)
		require.NoError(t, err)
	}
	height, ok, err := h.GetHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(49), height)
}
