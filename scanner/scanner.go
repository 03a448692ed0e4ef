// Package scanner drives the gateway's per-tick scan loop: advance the
// block and txpool caches, detect owned outputs against a sub-key
// checker, recompute every tracked invoice's paid state, and persist
// and publish whatever changed.
//
// Grounded on original_source/src/scanner.rs's Scanner: the same
// update-caches-in-series/scan-in-parallel/recompute/persist-and-publish
// tick shape, translated from tokio::join! to golang.org/x/sync/errgroup.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"golang.org/x/sync/errgroup"

	"github.com/xmrgateway/gateway/cache/blockcache"
	"github.com/xmrgateway/gateway/cache/txpoolcache"
	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/rpc"
	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/actor"
	"github.com/xmrgateway/gateway/xmrchain"
	"github.com/xmrgateway/gateway/xmrcrypto"
	"github.com/xmrgateway/gateway/xmrerrors"
)

// Publisher is the narrow slice of pubsub.Publisher the scanner needs:
// fan out a changed invoice to whatever is subscribed to it.
type Publisher interface {
	SendUpdates(ctx context.Context, inv invoice.Invoice)
}

// Metrics is the narrow slice of internal/metrics.Collector the
// scanner needs. A nil Metrics is valid; SetMetrics is optional.
type Metrics interface {
	ObserveScan(duration time.Duration, blocksScanned, invoicesRecomputed int, err error)
}

// Scanner owns the block cache, the txpool cache, a storage actor
// handle, and a publisher, and runs one tick at a time via Scan.
// Callers are responsible for serializing calls to Scan; nothing here
// protects against two ticks running concurrently.
type Scanner struct {
	store       *actor.Handle
	blockCache  *blockcache.Cache
	txpoolCache *txpoolcache.Cache
	publisher   Publisher
	metrics     Metrics
	firstScan   bool
}

// SetMetrics attaches a metrics collector; calling it with nil
// disables metrics recording. Not safe to call concurrently with Scan.
func (s *Scanner) SetMetrics(m Metrics) { s.metrics = m }

// New computes the initial cache height per the gateway's startup
// formula (resume from the last persisted scan height, or the lowest
// height among pending invoices, or the caller-supplied initialHeight,
// falling back to the daemon height; clamped to [blockCacheSize, daemon
// height], then minus one), then initializes the block and txpool
// caches in parallel.
func New(ctx context.Context, client rpc.DaemonClient, store *actor.Handle, blockCacheSize int, initialHeight *uint64, publisher Publisher) (*Scanner, error) {
	daemonHeight, err := client.DaemonHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetch daemon height: %w", err)
	}

	resumeHeight, err := lastHeight(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("scanner: determine resume height: %w", err)
	}

	cacheHeight := daemonHeight
	switch {
	case resumeHeight != nil:
		cacheHeight = *resumeHeight
	case initialHeight != nil:
		cacheHeight = *initialHeight
	}
	if cacheHeight > daemonHeight {
		cacheHeight = daemonHeight
	}
	if cacheHeight < uint64(blockCacheSize) {
		cacheHeight = uint64(blockCacheSize)
	}
	cacheHeight--

	blockCache := blockcache.New(client, blockCacheSize)
	txpoolCache := txpoolcache.New(client)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return blockCache.Init(gctx, cacheHeight) })
	g.Go(func() error { return txpoolCache.Init(gctx) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scanner: init caches: %w", err)
	}

	return &Scanner{
		store:       store,
		blockCache:  blockCache,
		txpoolCache: txpoolCache,
		publisher:   publisher,
		firstScan:   true,
	}, nil
}

// lastHeight resumes from the persisted scan height if one exists, or
// otherwise the lowest current_height among still-tracked invoices (so
// a gateway restarted with pending invoices doesn't skip blocks they
// might be paid in).
func lastHeight(ctx context.Context, store *actor.Handle) (*uint64, error) {
	if h, ok, err := store.GetHeight(ctx); err != nil {
		return nil, err
	} else if ok {
		return &h, nil
	}
	if h, ok, err := store.LowestHeight(ctx); err != nil {
		return nil, err
	} else if ok {
		return &h, nil
	}
	return nil, nil
}

// CacheHeight is the height of the newest block the scanner has
// scanned.
func (s *Scanner) CacheHeight() uint64 { return s.blockCache.CacheHeight() }

// DaemonHeight is the daemon tip height observed on the most recent
// tick.
func (s *Scanner) DaemonHeight() uint64 { return s.blockCache.DaemonHeight() }

// Scan runs one tick: advance the caches, scan what's new, recompute
// and persist every changed invoice, and publish the changes. checker
// must cover every subaddress the gateway currently tracks; the caller
// (the gateway façade) is responsible for rebuilding it as the
// subaddress pool grows.
func (s *Scanner) Scan(ctx context.Context, checker *xmrcrypto.SubKeyChecker) error {
	start := time.Now()
	blocksUpdated, invoicesRecomputed, err := s.scanOnce(ctx, checker)
	if s.metrics != nil {
		s.metrics.ObserveScan(time.Since(start), blocksUpdated, invoicesRecomputed, err)
	}
	return err
}

func (s *Scanner) scanOnce(ctx context.Context, checker *xmrcrypto.SubKeyChecker) (blocksUpdated, invoicesRecomputed int, err error) {
	log := xlog.Named("scanner")

	var newTransactions []xmrchain.Transaction
	blocksUpdated, newTransactions, err = s.updateCaches(ctx)
	if err != nil {
		log.Errorw("skipping tick: failed to update caches", "error", err)
		return 0, 0, fmt.Errorf("scanner: update caches: %w", err)
	}

	var blockTransfers, txpoolTransfers []invoice.ScannedTransfer
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := s.scanBlocks(gctx, checker, blocksUpdated)
		if err != nil {
			return fmt.Errorf("scan blocks: %w", err)
		}
		blockTransfers = t
		return nil
	})
	g.Go(func() error {
		t, err := s.scanTxpool(gctx, checker, newTransactions)
		if err != nil {
			return fmt.Errorf("scan txpool: %w", err)
		}
		txpoolTransfers = t
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Errorw("skipping tick: failed to scan", "error", err)
		return blocksUpdated, 0, fmt.Errorf("scanner: %w", err)
	}

	s.firstScan = false

	transfers := append(blockTransfers, txpoolTransfers...)

	updated, err := s.updateInvoices(ctx, transfers, blocksUpdated)
	if err != nil {
		return blocksUpdated, 0, fmt.Errorf("scanner: recompute invoices: %w", err)
	}
	invoicesRecomputed = len(updated)

	for _, inv := range updated {
		log.Debugw("invoice update", "index", inv.Index.String(), "invoice", inv.String())
		if _, ok, err := s.store.UpdateInvoice(ctx, inv); err != nil || !ok {
			log.Errorw("failed to persist invoice update", "index", inv.Index.String(), "error", err)
			continue
		}
		s.publisher.SendUpdates(ctx, inv)
	}

	cacheHeight := s.blockCache.CacheHeight()
	if _, _, err := s.store.UpsertHeight(ctx, cacheHeight); err != nil {
		return blocksUpdated, invoicesRecomputed, fmt.Errorf("scanner: upsert scan height: %w", err)
	}
	if err := s.store.Flush(ctx); err != nil {
		return blocksUpdated, invoicesRecomputed, fmt.Errorf("scanner: flush: %w", err)
	}
	return blocksUpdated, invoicesRecomputed, nil
}

func (s *Scanner) updateCaches(ctx context.Context) (int, []xmrchain.Transaction, error) {
	blocksUpdated, err := s.blockCache.Update(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("update block cache: %w", err)
	}
	newTransactions, err := s.txpoolCache.Update(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("update txpool cache: %w", err)
	}
	return blocksUpdated, newTransactions, nil
}

// scanBlocks scans the newest blocksUpdated cached blocks (or every
// cached block, on the scanner's first tick).
func (s *Scanner) scanBlocks(ctx context.Context, checker *xmrcrypto.SubKeyChecker, blocksUpdated int) ([]invoice.ScannedTransfer, error) {
	n := blocksUpdated
	if s.firstScan {
		n = s.blockCache.Len()
	}

	log := xlog.Named("scanner")
	var transfers []invoice.ScannedTransfer
	for _, b := range s.blockCache.RecentBlocks(n) {
		height := b.Height
		found, err := s.scanTransactions(ctx, checker, b.Transactions, &height)
		if err != nil {
			return nil, err
		}
		log.Debugw("scanned block", "height", height, "transactions", len(b.Transactions), "owned", len(found))
		transfers = append(transfers, found...)
	}
	return transfers, nil
}

// scanTxpool scans newly seen txpool transactions, merges the result
// with transfers already memoized from a prior tick, and updates the
// memo so transactions still sitting in the pool are not rescanned.
func (s *Scanner) scanTxpool(ctx context.Context, checker *xmrcrypto.SubKeyChecker, newTransactions []xmrchain.Transaction) ([]invoice.ScannedTransfer, error) {
	discovered := s.txpoolCache.DiscoveredTransfers()

	found, err := s.scanTransactionsByHash(ctx, checker, newTransactions)
	if err != nil {
		return nil, err
	}
	log := xlog.Named("scanner")
	log.Debugw("scanned txpool", "transactions", len(newTransactions), "owned", len(found))

	s.txpoolCache.InsertTransfers(found)

	merged := make(map[xmrchain.Hash][]invoice.ScannedTransfer, len(found)+len(discovered))
	for h, t := range found {
		merged[h] = t
	}
	for h, t := range discovered {
		merged[h] = t
	}

	var transfers []invoice.ScannedTransfer
	for _, t := range merged {
		transfers = append(transfers, t...)
	}
	return transfers, nil
}

// scanTransactions scans a batch of transactions all sharing the same
// block height (nil for mempool transactions), returning a flat list
// of owned transfers.
func (s *Scanner) scanTransactions(ctx context.Context, checker *xmrcrypto.SubKeyChecker, txs []xmrchain.Transaction, height *uint64) ([]invoice.ScannedTransfer, error) {
	var transfers []invoice.ScannedTransfer
	for _, tx := range txs {
		found, err := s.scanTransaction(ctx, checker, tx, height)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, found...)
	}
	return transfers, nil
}

// scanTransactionsByHash is scanTransactions grouped by transaction
// hash, for the txpool cache's per-transaction memoization.
func (s *Scanner) scanTransactionsByHash(ctx context.Context, checker *xmrcrypto.SubKeyChecker, txs []xmrchain.Transaction) (map[xmrchain.Hash][]invoice.ScannedTransfer, error) {
	out := make(map[xmrchain.Hash][]invoice.ScannedTransfer, len(txs))
	for _, tx := range txs {
		found, err := s.scanTransaction(ctx, checker, tx, nil)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			out[tx.Hash] = found
		}
	}
	return out, nil
}

// scanTransaction runs output detection on a single transaction. height
// is nil for a mempool transaction, or its containing block's height.
func (s *Scanner) scanTransaction(ctx context.Context, checker *xmrcrypto.SubKeyChecker, tx xmrchain.Transaction, height *uint64) ([]invoice.ScannedTransfer, error) {
	log := xlog.Named("scanner")

	if tx.IsTimeLocked() {
		log.Debugw("ignoring time locked transaction", "tx", tx.Hash.String())
		return nil, nil
	}

	txPubKey, err := new(edwards25519.Point).SetBytes(tx.TxPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("invalid tx public key in %s: %w", tx.Hash, err)
	}
	baseDerivation := checker.Derivation(txPubKey)

	additionalDerivations := make([]*edwards25519.Point, len(tx.AdditionalPubKeys))
	for i, pk := range tx.AdditionalPubKeys {
		p, err := new(edwards25519.Point).SetBytes(pk[:])
		if err != nil {
			return nil, fmt.Errorf("invalid additional tx public key %d in %s: %w", i, tx.Hash, err)
		}
		additionalDerivations[i] = checker.Derivation(p)
	}

	var transfers []invoice.ScannedTransfer
	for i, out := range tx.Outputs {
		if out.Target.Kind != xmrchain.TargetToKey && out.Target.Kind != xmrchain.TargetToTaggedKey {
			return nil, fmt.Errorf("output %d of %s: %w", i, tx.Hash, &xmrerrors.UnsupportedOutputTarget{Kind: out.Target.Kind})
		}
		if i > 255 {
			return nil, fmt.Errorf("output %d of %s: %w", i, tx.Hash, &xmrerrors.OutputIndexOverflow{Index: i})
		}

		derivation := baseDerivation
		if i < len(additionalDerivations) {
			derivation = additionalDerivations[i]
		}

		detected, owned, err := xmrcrypto.DetectOutput(checker, derivation, uint64(i), out.Target.Key, out.EncryptedAmount)
		if err != nil {
			return nil, fmt.Errorf("detect output %d of %s: %w", i, tx.Hash, err)
		}
		if !owned {
			continue
		}

		outputID := storage.OutputID{TxHash: [32]byte(tx.Hash), Index: uint8(i)}
		unique, err := s.outputKeyIsUnique(ctx, out.Target.Key, outputID)
		if err != nil {
			return nil, fmt.Errorf("output key uniqueness check for output %d of %s: %w", i, tx.Hash, err)
		}
		if !unique {
			log.Debugw("ignoring output with duplicate public key", "tx", tx.Hash.String(), "output", i)
			continue
		}

		tracked, err := s.store.ContainsSubIndex(ctx, detected.SubIndex)
		if err != nil {
			return nil, fmt.Errorf("check tracked subaddress for output %d of %s: %w", i, tx.Hash, err)
		}
		if !tracked {
			continue
		}

		var transfer invoice.Transfer
		if height != nil {
			transfer = invoice.NewMinedTransfer(detected.AmountPiconeros, *height)
		} else {
			transfer = invoice.NewMempoolTransfer(detected.AmountPiconeros)
		}
		transfers = append(transfers, invoice.ScannedTransfer{SubIndex: detected.SubIndex, Transfer: transfer})
	}
	return transfers, nil
}

// outputKeyIsUnique reports whether key has not been seen on a
// different output before (the burning bug defense). It records key
// against id the first time it's seen.
func (s *Scanner) outputKeyIsUnique(ctx context.Context, key [32]byte, id storage.OutputID) (bool, error) {
	existing, ok, err := s.store.GetOutputKey(ctx, storage.OutputPubKey(key))
	if err != nil {
		return false, err
	}
	if ok {
		return existing == id, nil
	}
	if err := s.store.InsertOutputKey(ctx, storage.OutputPubKey(key), id); err != nil {
		if errors.Is(err, storage.ErrDuplicateOutputKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// updateInvoices recomputes every tracked invoice against the tick's
// scanned transfers, returning those that actually changed.
func (s *Scanner) updateInvoices(ctx context.Context, transfers []invoice.ScannedTransfer, blocksUpdated int) ([]invoice.Invoice, error) {
	cacheTop := s.blockCache.CacheHeight()
	deepestUpdate := int64(cacheTop) - int64(blocksUpdated) + 1

	var updated []invoice.Invoice
	err := s.store.ForEachInvoice(ctx, func(inv invoice.Invoice) error {
		mutable := inv.Clone()
		if mutable.Recompute(transfers, deepestUpdate, cacheTop) {
			updated = append(updated, mutable)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return updated, nil
}
