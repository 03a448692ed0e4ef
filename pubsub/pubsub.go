// Package pubsub fans out invoice updates to subscribers, either
// scoped to a single invoice or across every invoice the gateway
// tracks.
//
// Grounded on original_source/src/pubsub.rs's Publisher/Subscriber
// pair: per-invoice and global subscriber maps ordered by insertion,
// a bounded per-subscriber channel, and an index-walking send loop
// that drops subscribers it can no longer deliver to.
package pubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xmrgateway/gateway/internal/omap"
	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/invoice"
)

// subscriptionBufferLen bounds how many updates a slow subscriber may
// lag behind by; once its buffer is full, further updates to it are
// dropped rather than blocking the publisher.
const subscriptionBufferLen = 2048

// Subscriber receives invoice updates pushed by a Publisher. The zero
// value is not usable; obtain one from Publisher.Subscribe or
// Publisher.SubscribeAll. Close it when done to let the publisher stop
// tracking it.
type Subscriber struct {
	ch     chan invoice.Invoice
	closed chan struct{}
	once   sync.Once
}

func newSubscriber() *Subscriber {
	return &Subscriber{
		ch:     make(chan invoice.Invoice, subscriptionBufferLen),
		closed: make(chan struct{}),
	}
}

// Recv waits for the next invoice update, or returns ok=false if the
// subscriber was closed (by the caller, or because the invoice it was
// scoped to was removed) before one arrived.
func (s *Subscriber) Recv(ctx context.Context) (invoice.Invoice, bool, error) {
	select {
	case inv := <-s.ch:
		return inv, true, nil
	case <-s.closed:
		return invoice.Invoice{}, false, nil
	case <-ctx.Done():
		return invoice.Invoice{}, false, ctx.Err()
	}
}

// TryRecv returns immediately: an update if one is already buffered,
// or ok=false with no error if none is available yet.
func (s *Subscriber) TryRecv() (invoice.Invoice, bool, error) {
	select {
	case inv := <-s.ch:
		return inv, true, nil
	case <-s.closed:
		return invoice.Invoice{}, false, nil
	default:
		return invoice.Invoice{}, false, nil
	}
}

// RecvTimeout waits for an update, an explicit close, or the timeout to
// elapse, whichever comes first.
func (s *Subscriber) RecvTimeout(ctx context.Context, timeout time.Duration) (invoice.Invoice, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	inv, ok, err := s.Recv(ctx)
	if err != nil {
		return invoice.Invoice{}, false, fmt.Errorf("pubsub: recv timeout: %w", err)
	}
	return inv, ok, nil
}

// Close stops this subscriber from receiving further updates; the
// Publisher drops it from its maps the next time it sends to it. Safe
// to call more than once, and safe to call concurrently with a pending
// Recv.
func (s *Subscriber) Close() {
	s.once.Do(func() { close(s.closed) })
}

// Metrics is the narrow slice of internal/metrics.Collector the
// publisher needs. A nil Metrics is valid; SetMetrics is optional.
type Metrics interface {
	PublisherDrop(invoiceScoped bool)
}

// Publisher owns the live set of subscribers, keyed by the invoice
// they're scoped to (or the global set, for subscribers watching every
// invoice), and fans out SendUpdates calls to all of them.
type Publisher struct {
	mu          sync.Mutex
	invoiceSubs map[invoice.ID]*omap.Map[uuid.UUID, *Subscriber]
	globalSubs  *omap.Map[uuid.UUID, *Subscriber]
	metrics     Metrics
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{
		invoiceSubs: make(map[invoice.ID]*omap.Map[uuid.UUID, *Subscriber]),
		globalSubs:  omap.New[uuid.UUID, *Subscriber](),
	}
}

// SetMetrics attaches a metrics collector; calling it with nil
// disables metrics recording.
func (p *Publisher) SetMetrics(m Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// Subscribe returns a Subscriber scoped to id, or ok=false if id is not
// currently tracked (the gateway must call InsertInvoice for id before
// anyone can subscribe to it).
func (p *Publisher) Subscribe(id invoice.ID) (*Subscriber, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.invoiceSubs[id]
	if !ok {
		return nil, false
	}
	sub := newSubscriber()
	subs.Insert(uuid.New(), sub)
	return sub, true
}

// SubscribeAll returns a Subscriber that receives every invoice update
// published, regardless of which invoice it concerns.
func (p *Publisher) SubscribeAll() *Subscriber {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub := newSubscriber()
	p.globalSubs.Insert(uuid.New(), sub)
	return sub
}

// InsertInvoice begins tracking subscribers for id. Must be called
// before any Subscribe(id) call can succeed. Calling it again for an
// id still being tracked replaces its subscriber set, dropping
// whoever was subscribed to it.
func (p *Publisher) InsertInvoice(id invoice.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.invoiceSubs[id]; exists {
		xlog.Named("pubsub").Warnw("replacing subscriber set for invoice already tracked", "invoice", id.String())
	}
	p.invoiceSubs[id] = omap.New[uuid.UUID, *Subscriber]()
}

// RemoveInvoice stops tracking id, closing any subscribers still
// scoped to it.
func (p *Publisher) RemoveInvoice(id invoice.ID) {
	p.mu.Lock()
	subs, ok := p.invoiceSubs[id]
	delete(p.invoiceSubs, id)
	p.mu.Unlock()
	if !ok {
		return
	}
	for i := 0; ; i++ {
		_, sub, ok := subs.At(i)
		if !ok {
			break
		}
		sub.Close()
	}
}

// SendUpdates delivers inv to every subscriber scoped to inv's id and
// to every global subscriber, walking each set by position so a
// subscriber removed mid-walk (because it was closed) doesn't perturb
// the indices still to be visited — removal swaps the last entry into
// the removed slot, same as the set being iterated. A subscriber whose
// buffer is full simply misses this update; it is not pruned for that,
// since it may still catch up through other means.
func (p *Publisher) SendUpdates(ctx context.Context, inv invoice.Invoice) {
	if ctx.Err() != nil {
		return
	}
	p.sendToSet(inv, some(inv.ID()))
	p.sendToSet(inv, none[invoice.ID]())
}

// idOpt avoids importing a generic Option type for a single use: it
// distinguishes "scoped to this invoice" from "the global set".
type idOpt struct {
	id invoice.ID
	ok bool
}

func some(id invoice.ID) idOpt { return idOpt{id: id, ok: true} }
func none[T any]() idOpt       { return idOpt{} }

func (p *Publisher) sendToSet(inv invoice.Invoice, scope idOpt) {
	log := xlog.Named("pubsub")
	for index := 0; ; {
		id, subID, sub, ok := p.senderAt(scope, index)
		if !ok {
			return
		}

		// Closed subscribers are pruned unconditionally, checked before
		// attempting a send so a closed-but-not-yet-full channel isn't
		// kept alive by races between the two select arms below.
		select {
		case <-sub.closed:
			p.removeSender(scope, subID)
			log.Debugw("dropped closed subscriber", "invoice", scopeLabel(id, scope))
			continue
		default:
		}

		select {
		case sub.ch <- inv:
		default:
			log.Debugw("subscriber buffer full, dropping update", "invoice", scopeLabel(id, scope))
			if m := p.currentMetrics(); m != nil {
				m.PublisherDrop(scope.ok)
			}
		}
		index++
	}
}

func scopeLabel(id invoice.ID, scope idOpt) string {
	if scope.ok {
		return id.String()
	}
	return "global"
}

func (p *Publisher) senderAt(scope idOpt, index int) (invoice.ID, uuid.UUID, *Subscriber, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !scope.ok {
		id, sub, ok := p.globalSubs.At(index)
		return invoice.ID{}, id, sub, ok
	}
	subs, ok := p.invoiceSubs[scope.id]
	if !ok {
		return scope.id, uuid.UUID{}, nil, false
	}
	id, sub, ok := subs.At(index)
	return scope.id, id, sub, ok
}

func (p *Publisher) currentMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

func (p *Publisher) removeSender(scope idOpt, subID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !scope.ok {
		p.globalSubs.SwapRemove(subID)
		return
	}
	if subs, ok := p.invoiceSubs[scope.id]; ok {
		subs.SwapRemove(subID)
	}
}
