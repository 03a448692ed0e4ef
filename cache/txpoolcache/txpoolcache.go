// Package txpoolcache tracks the current mempool set and memoizes,
// per pending transaction, which owned transfers the scanner has
// already discovered in it — so a transaction sitting in the pool
// across many ticks is only scanned once.
//
// Grounded on original_source/src/txpool_cache.rs's TxpoolCache: same
// two maps (pool contents, discovered transfers); an update fetches the
// newly pooled transactions, then retains only entries whose hash is
// still in the pool's hash set.
package txpoolcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/rpc"
	"github.com/xmrgateway/gateway/xmrchain"
)

// Cache is the current mempool contents plus memoized owned transfers.
type Cache struct {
	client rpc.DaemonClient

	mu                  sync.Mutex
	transactions        map[xmrchain.Hash]xmrchain.Transaction
	discoveredTransfers map[xmrchain.Hash][]invoice.ScannedTransfer
}

// New returns an empty cache backed by client. Call Init before using
// it, or Update to fetch the current pool from cold.
func New(client rpc.DaemonClient) *Cache {
	return &Cache{
		client:              client,
		transactions:        make(map[xmrchain.Hash]xmrchain.Transaction),
		discoveredTransfers: make(map[xmrchain.Hash][]invoice.ScannedTransfer),
	}
}

// Init fetches the full current txpool and seeds the cache with it.
func (c *Cache) Init(ctx context.Context) error {
	txs, err := c.client.Txpool(ctx)
	if err != nil {
		return fmt.Errorf("txpoolcache: init: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range txs {
		c.transactions[tx.Hash] = tx
	}
	return nil
}

// Update fetches the current set of txpool hashes, drops memoized
// entries (both transactions and discovered transfers) for hashes no
// longer present, fetches bodies for any newly seen hashes, and
// returns just the newly fetched transactions for the scanner to scan.
func (c *Cache) Update(ctx context.Context) ([]xmrchain.Transaction, error) {
	hashes, err := c.client.TxpoolHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("txpoolcache: update: fetch txpool hashes: %w", err)
	}

	c.mu.Lock()
	var newHashes []xmrchain.Hash
	for h := range hashes {
		if _, ok := c.transactions[h]; !ok {
			newHashes = append(newHashes, h)
		}
	}
	c.mu.Unlock()

	newTransactions, err := c.client.TransactionsByHashes(ctx, newHashes)
	if err != nil {
		return nil, fmt.Errorf("txpoolcache: update: fetch new transactions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for h := range c.transactions {
		if _, stillPresent := hashes[h]; !stillPresent {
			delete(c.transactions, h)
		}
	}
	for h := range c.discoveredTransfers {
		if _, stillPresent := hashes[h]; !stillPresent {
			delete(c.discoveredTransfers, h)
		}
	}
	for _, tx := range newTransactions {
		c.transactions[tx.Hash] = tx
	}

	return newTransactions, nil
}

// DiscoveredTransfers returns the memoized owned transfers for
// transactions still in the pool.
func (c *Cache) DiscoveredTransfers() map[xmrchain.Hash][]invoice.ScannedTransfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[xmrchain.Hash][]invoice.ScannedTransfer, len(c.discoveredTransfers))
	for h, transfers := range c.discoveredTransfers {
		out[h] = append([]invoice.ScannedTransfer(nil), transfers...)
	}
	return out
}

// InsertTransfers merges newly discovered per-transaction transfers
// into the memo. Entries persist across ticks until their transaction
// leaves the pool.
func (c *Cache) InsertTransfers(transfers map[xmrchain.Hash][]invoice.ScannedTransfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, t := range transfers {
		c.discoveredTransfers[h] = t
	}
}
