// Package gateway is the façade a caller embeds: it owns the
// subaddress pool, the publisher, the storage actor, and the scanner's
// run loop, and exposes the operations a non-custodial Monero payment
// gateway needs — issue an invoice, subscribe to its updates, and
// start or stop scanning.
//
// Grounded on original_source/src/payment_gateway.rs's PaymentGateway/
// PaymentGatewayBuilder: the same fields (view pair, scan interval,
// storage, subaddress cache, cached heights, scanner handle, stop
// signal, publisher), the same run/stop/status lifecycle, and the same
// new_invoice/remove_invoice semantics, translated from a dedicated
// OS thread driving a nested Tokio runtime to a single scanning
// goroutine signaled by a close-on-stop channel.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xmrgateway/gateway/cache/subaddresscache"
	"github.com/xmrgateway/gateway/internal/metrics"
	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/pubsub"
	"github.com/xmrgateway/gateway/rpc"
	"github.com/xmrgateway/gateway/scanner"
	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/actor"
	"github.com/xmrgateway/gateway/xmrcrypto"
	"github.com/xmrgateway/gateway/xmrerrors"
)

// Status describes whether the gateway's scanner is currently running.
type Status int

const (
	// StatusNotRunning is the state before Run is first called, and
	// after a clean Stop.
	StatusNotRunning Status = iota
	// StatusRunning means the scanner is actively ticking.
	StatusRunning
	// StatusError means the scanner goroutine exited after a panic;
	// Stop returns that error and clears it. Errors returned by a scan
	// tick are logged and do not stop the scanner.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusError:
		return "error"
	default:
		return "not running"
	}
}

// Gateway tracks invoices against a Monero daemon's blocks and
// mempool, publishing updates as they're detected. The zero value is
// not usable; construct one with NewBuilder(...).Build().
type Gateway struct {
	rpcClient    rpc.DaemonClient
	vp           xmrcrypto.ViewPair
	scanInterval time.Duration
	blockCacheSize int

	store       *actor.Handle
	stopStore   func()
	subaddrs    *subaddresscache.Cache
	publisher   *pubsub.Publisher
	metrics     *metrics.Collector

	cachedDaemonHeight atomic.Uint64
	cachedScanHeight   atomic.Uint64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	lastErr error
}

func newGateway(vp xmrcrypto.ViewPair, store storage.Storage, rpcClient rpc.DaemonClient, scanInterval time.Duration, blockCacheSize int, seed *uint64, collector *metrics.Collector) (*Gateway, error) {
	handle, stopActor := actor.Start(store)

	ids, err := handle.GetInvoiceIDs(context.Background())
	if err != nil {
		stopActor()
		return nil, fmt.Errorf("gateway: enumerate tracked invoices: %w", err)
	}

	usedIndices := make([]invoice.SubIndex, len(ids))
	for i, id := range ids {
		usedIndices[i] = id.SubIndex
	}

	publisher := pubsub.New()
	if collector != nil {
		publisher.SetMetrics(collector)
	}
	for _, id := range ids {
		publisher.InsertInvoice(id)
	}

	subaddrs := subaddresscache.New(vp, GatewayMajorIndex, usedIndices, seed)
	if collector != nil {
		collector.SetSubaddressPoolSize(subaddrs.Len())
	}

	g := &Gateway{
		rpcClient:      rpcClient,
		vp:             vp,
		scanInterval:   scanInterval,
		blockCacheSize: blockCacheSize,
		store:          handle,
		stopStore:      stopActor,
		subaddrs:       subaddrs,
		publisher:      publisher,
		metrics:        collector,
	}
	return g, nil
}

// Run starts the scanning goroutine. It returns xmrerrors.ErrAlreadyRunning
// if the gateway is already running, and whatever error occurred
// initializing the scanner's caches against the daemon.
func (g *Gateway) Run(ctx context.Context) error {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if g.running {
		return xmrerrors.ErrAlreadyRunning
	}

	log := xlog.Named("gateway")
	log.Debug("creating blockchain scanner")
	s, err := scanner.New(ctx, g.rpcClient, g.store, g.blockCacheSize, nil, g.publisher)
	if err != nil {
		return fmt.Errorf("gateway: create scanner: %w", err)
	}
	if g.metrics != nil {
		s.SetMetrics(g.metrics)
	}

	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.lastErr = nil
	g.running = true

	log.Info("starting blockchain scanner")
	go g.runLoop(ctx, s)
	return nil
}

func (g *Gateway) runLoop(ctx context.Context, s *scanner.Scanner) {
	log := xlog.Named("gateway")
	defer close(g.doneCh)
	defer func() {
		if r := recover(); r != nil {
			g.runMu.Lock()
			g.lastErr = fmt.Errorf("%w: %v", xmrerrors.ErrScanningThreadPanic, r)
			g.running = false
			g.runMu.Unlock()
			log.Errorw("scanner goroutine panicked", "panic", r)
		}
	}()

	checker := xmrcrypto.NewSubKeyChecker(g.vp, GatewayMajorIndex, g.subaddrs.HighestMinor())

	ticker := time.NewTicker(g.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			log.Info("scanner received stop signal, stopping gracefully")
			g.runMu.Lock()
			g.running = false
			g.runMu.Unlock()
			return
		case <-ticker.C:
		}

		if highest := g.subaddrs.HighestMinor(); checker.MinorMax() < highest {
			checker = xmrcrypto.NewSubKeyChecker(g.vp, GatewayMajorIndex, highest)
		}

		if err := s.Scan(ctx, checker); err != nil {
			log.Errorw("payment gateway encountered an error while scanning for payments", "error", err)
		}
		g.cachedDaemonHeight.Store(s.DaemonHeight())
		g.cachedScanHeight.Store(s.CacheHeight())
		if g.metrics != nil {
			g.metrics.SetSubaddressPoolSize(g.subaddrs.Len())
		}
	}
}

// Status reports whether the scanner is running, stopped, or exited
// with an error awaiting Stop.
func (g *Gateway) Status() Status {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	switch {
	case g.running:
		return StatusRunning
	case g.lastErr != nil:
		return StatusError
	default:
		return StatusNotRunning
	}
}

// Stop signals the scanner to stop and blocks until it has, returning
// whatever error terminated it (nil for a clean stop). Returns
// xmrerrors.ErrNotRunning if the gateway isn't running.
func (g *Gateway) Stop() error {
	g.runMu.Lock()
	if !g.running && g.lastErr == nil {
		g.runMu.Unlock()
		return xmrerrors.ErrNotRunning
	}
	stopCh, doneCh := g.stopCh, g.doneCh
	g.runMu.Unlock()

	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	if doneCh != nil {
		<-doneCh
	}

	g.runMu.Lock()
	defer g.runMu.Unlock()
	err := g.lastErr
	g.lastErr = nil
	return err
}

// Close releases the gateway's storage actor. The gateway must not be
// running when this is called.
func (g *Gateway) Close() {
	g.stopStore()
}

// NewInvoice starts tracking a new invoice at a freshly issued
// subaddress, returning its ID. Use Subscribe(id) to receive updates as
// the scanner detects payments to it.
func (g *Gateway) NewInvoice(ctx context.Context, piconeros, confirmationsRequired, expirationIn uint64, description []byte) (invoice.ID, error) {
	sub, address, err := g.subaddrs.RemoveRandom()
	if err != nil {
		return invoice.ID{}, fmt.Errorf("gateway: issue subaddress: %w", err)
	}

	creationHeight := g.cachedDaemonHeight.Load()
	inv := invoice.New(address, sub, creationHeight, piconeros, confirmationsRequired, expirationIn, description)

	if err := g.store.InsertInvoice(ctx, inv); err != nil {
		return invoice.ID{}, fmt.Errorf("gateway: insert invoice: %w", err)
	}
	g.publisher.InsertInvoice(inv.ID())
	if g.metrics != nil {
		g.metrics.SetSubaddressPoolSize(g.subaddrs.Len())
	}

	xlog.Named("gateway").Debugw("now tracking invoice", "index", sub.String())
	return inv.ID(), nil
}

// RemoveInvoice stops tracking id, returning the invoice as it stood at
// removal (ok=false if it wasn't tracked). The freed subaddress is
// returned to the pool for reuse.
func (g *Gateway) RemoveInvoice(ctx context.Context, id invoice.ID) (invoice.Invoice, bool, error) {
	old, ok, err := g.store.RemoveInvoice(ctx, id)
	if err != nil || !ok {
		return old, ok, err
	}

	if !(old.IsExpired() || (old.IsConfirmed() && old.CreationHeight < old.CurrentHeight)) {
		xlog.Named("gateway").Warnw("removed an invoice that was neither expired nor fully confirmed and a block or more old", "index", id.String())
	}

	g.subaddrs.Insert(id.SubIndex, old.Address)
	g.publisher.RemoveInvoice(id)
	if g.metrics != nil {
		g.metrics.SetSubaddressPoolSize(g.subaddrs.Len())
	}
	return old, true, nil
}

// GetInvoice returns the current state of the invoice with the given
// ID, if it's tracked.
func (g *Gateway) GetInvoice(ctx context.Context, id invoice.ID) (invoice.Invoice, bool, error) {
	return g.store.GetInvoice(ctx, id)
}

// Subscribe returns a Subscriber for updates to one invoice, or
// ok=false if it isn't tracked.
func (g *Gateway) Subscribe(id invoice.ID) (*pubsub.Subscriber, bool) {
	return g.publisher.Subscribe(id)
}

// SubscribeAll returns a Subscriber for updates to every invoice this
// gateway tracks.
func (g *Gateway) SubscribeAll() *pubsub.Subscriber {
	return g.publisher.SubscribeAll()
}

// DaemonHeight fetches the daemon's current tip height live, via RPC.
func (g *Gateway) DaemonHeight(ctx context.Context) (uint64, error) {
	h, err := g.rpcClient.DaemonHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("gateway: fetch daemon height: %w", err)
	}
	return h, nil
}

// CacheHeight returns the height of the newest block the scanner has
// scanned, as of its last completed tick.
func (g *Gateway) CacheHeight() uint64 { return g.cachedScanHeight.Load() }

// DaemonURL returns the configured daemon endpoint, for diagnostics.
func (g *Gateway) DaemonURL() string { return g.rpcClient.URL() }
