package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/pubsub"
)

func testInvoice(id invoice.ID) invoice.Invoice {
	return invoice.New("fake-address", id.SubIndex, id.CreationHeight, 100, 0, 10, nil)
}

func TestSubscribeBeforeInsertInvoiceFails(t *testing.T) {
	p := pubsub.New()
	_, ok := p.Subscribe(invoice.ID{CreationHeight: 1})
	assert.False(t, ok)
}

func TestSubscribeReceivesUpdatesForItsInvoice(t *testing.T) {
	p := pubsub.New()
	id := invoice.ID{CreationHeight: 1}
	p.InsertInvoice(id)

	sub, ok := p.Subscribe(id)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inv := testInvoice(id)
	p.SendUpdates(ctx, inv)

	got, ok, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, got.ID())
}

func TestSubscribeAllReceivesEveryInvoice(t *testing.T) {
	p := pubsub.New()
	idA := invoice.ID{CreationHeight: 1}
	idB := invoice.ID{CreationHeight: 2}
	p.InsertInvoice(idA)
	p.InsertInvoice(idB)

	global := p.SubscribeAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p.SendUpdates(ctx, testInvoice(idA))
	p.SendUpdates(ctx, testInvoice(idB))

	first, ok, err := global.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idA, first.ID())

	second, ok, err := global.Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idB, second.ID())
}

func TestSubscriberScopedToOneInvoiceIgnoresOthers(t *testing.T) {
	p := pubsub.New()
	idA := invoice.ID{CreationHeight: 1}
	idB := invoice.ID{CreationHeight: 2}
	p.InsertInvoice(idA)
	p.InsertInvoice(idB)

	subA, ok := p.Subscribe(idA)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.SendUpdates(ctx, testInvoice(idB))

	_, ok, err := subA.TryRecv()
	require.NoError(t, err)
	assert.False(t, ok, "a subscriber scoped to invoice A must not see updates for invoice B")
}

func TestRemoveInvoiceClosesItsSubscribers(t *testing.T) {
	p := pubsub.New()
	id := invoice.ID{CreationHeight: 1}
	p.InsertInvoice(id)

	sub, ok := p.Subscribe(id)
	require.True(t, ok)

	p.RemoveInvoice(id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClosedSubscriberIsDroppedOnNextSend(t *testing.T) {
	p := pubsub.New()
	id := invoice.ID{CreationHeight: 1}
	p.InsertInvoice(id)

	sub, ok := p.Subscribe(id)
	require.True(t, ok)
	sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Must not block or panic even though the only subscriber closed.
	p.SendUpdates(ctx, testInvoice(id))
}

func TestRecvTimeoutReturnsErrorWhenNoUpdateArrives(t *testing.T) {
	p := pubsub.New()
	id := invoice.ID{CreationHeight: 1}
	p.InsertInvoice(id)

	sub, ok := p.Subscribe(id)
	require.True(t, ok)

	_, _, err := sub.RecvTimeout(context.Background(), 10*time.Millisecond)
	assert.Error(t, err)
}
