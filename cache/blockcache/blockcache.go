// Package blockcache maintains a sliding window of the most recently
// scanned blocks (and their transactions), in newest-first order, and
// detects and repairs chain reorganizations within that window.
//
// Grounded on original_source/src/caching/block_cache.rs's BlockCache:
// same fixed-size ring of entries, same atomic cache/daemon height
// pair, same single-pass prev-id reorg repair.
package blockcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/rpc"
	"github.com/xmrgateway/gateway/xmrchain"
)

// entry is one cached block together with its transactions.
type entry struct {
	block xmrchain.Block
	txs   []xmrchain.Transaction
}

// Cache is a fixed-size, newest-first sliding window of recent blocks.
// cacheHeight and daemonHeight are exposed as atomics so the gateway
// façade can read them without synchronizing with the scanner.
type Cache struct {
	client rpc.DaemonClient
	size   int

	mu      sync.Mutex
	entries []entry // entries[0] is the newest, at height cacheHeight

	cacheHeight  atomic.Int64 // -1 until Init succeeds
	daemonHeight atomic.Uint64
}

// New returns an empty cache of the given size backed by client. Call
// Init before using it.
func New(client rpc.DaemonClient, size int) *Cache {
	c := &Cache{client: client, size: size}
	c.cacheHeight.Store(-1)
	return c
}

// CacheHeight is the height of the newest cached block. Valid only
// after a successful Init.
func (c *Cache) CacheHeight() uint64 { return uint64(c.cacheHeight.Load()) }

// DaemonHeight is the daemon tip height observed on the most recent
// Update/SkipAhead/Init call.
func (c *Cache) DaemonHeight() uint64 { return c.daemonHeight.Load() }

// Init fills the cache with `size` consecutive blocks ending at
// initialHeight (fetched downward, oldest last). The scanner is
// responsible for computing initialHeight (see scanner.New: the first
// available of the persisted scan height, the lowest invoice height, a
// configured height, or the daemon height; clamped to [cache size,
// daemon height]; then minus one); this package only fills from
// wherever it's told to start, matching the original's init behavior
// of never reaching back to genesis on its own.
func (c *Cache) Init(ctx context.Context, initialHeight uint64) error {
	entries := make([]entry, 0, c.size)
	for h := initialHeight; len(entries) < c.size; h-- {
		e, err := c.fetch(ctx, h)
		if err != nil {
			return fmt.Errorf("blockcache: init: %w", err)
		}
		entries = append(entries, e)
		if h == 0 {
			break
		}
	}

	daemonHeight, err := c.client.DaemonHeight(ctx)
	if err != nil {
		return fmt.Errorf("blockcache: init: fetch daemon height: %w", err)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.cacheHeight.Store(int64(initialHeight))
	c.daemonHeight.Store(daemonHeight)
	return nil
}

func (c *Cache) fetch(ctx context.Context, height uint64) (entry, error) {
	block, err := c.client.Block(ctx, height)
	if err != nil {
		return entry{}, fmt.Errorf("fetch block %d: %w", height, err)
	}
	txs, err := c.client.BlockTransactions(ctx, block)
	if err != nil {
		return entry{}, fmt.Errorf("fetch transactions for block %d: %w", height, err)
	}
	return entry{block: block, txs: txs}, nil
}

// Update advances the cache by at most one block: refreshes the
// observed daemon height, fetches and prepends the next block if the
// daemon is ahead, then runs the reorg check. It returns the number of
// entries inserted or replaced, for the scanner's blocks_updated count.
func (c *Cache) Update(ctx context.Context) (int, error) {
	daemonHeight, err := c.client.DaemonHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("blockcache: update: fetch daemon height: %w", err)
	}
	c.daemonHeight.Store(daemonHeight)

	updated := 0
	cacheHeight := uint64(c.cacheHeight.Load())
	if daemonHeight > 0 && cacheHeight < daemonHeight-1 {
		e, err := c.fetch(ctx, cacheHeight+1)
		if err != nil {
			return 0, fmt.Errorf("blockcache: update: %w", err)
		}
		c.mu.Lock()
		c.entries = prepend(c.entries, e, c.size)
		c.mu.Unlock()
		c.cacheHeight.Store(int64(cacheHeight + 1))
		updated++
	}

	repaired, err := c.repairReorg(ctx)
	if err != nil {
		return updated, err
	}
	return updated + repaired, nil
}

// SkipAhead jumps the cache forward by up to size blocks in one call,
// for when the daemon is far ahead of the cache (e.g. after a long
// pause). It fetches the newest min(gap, size) blocks, newest last,
// prepending one at a time, until the cache ends at daemonHeight-1.
func (c *Cache) SkipAhead(ctx context.Context) (int, error) {
	daemonHeight, err := c.client.DaemonHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("blockcache: skip ahead: fetch daemon height: %w", err)
	}
	c.daemonHeight.Store(daemonHeight)

	cacheHeight := uint64(c.cacheHeight.Load())
	if daemonHeight == 0 || cacheHeight >= daemonHeight-1 {
		repaired, err := c.repairReorg(ctx)
		return repaired, err
	}

	gap := daemonHeight - 1 - cacheHeight
	count := gap
	if count > uint64(c.size) {
		count = uint64(c.size)
	}

	start := daemonHeight - count
	inserted := 0
	for h := start; h < daemonHeight; h++ {
		e, err := c.fetch(ctx, h)
		if err != nil {
			return inserted, fmt.Errorf("blockcache: skip ahead: %w", err)
		}
		c.mu.Lock()
		c.entries = prepend(c.entries, e, c.size)
		c.mu.Unlock()
		c.cacheHeight.Store(int64(h))
		inserted++
	}

	repaired, err := c.repairReorg(ctx)
	if err != nil {
		return inserted, err
	}
	return inserted + repaired, nil
}

func prepend(entries []entry, e entry, size int) []entry {
	entries = append([]entry{e}, entries...)
	if len(entries) > size {
		entries = entries[:size]
	}
	return entries
}

// repairReorg walks the cache newest-to-oldest comparing each entry's
// prev_id with the hash of the entry below it; at every break it
// refetches the lower entry and replaces it, and returns how many
// entries it replaced. This is a single pass, not recursive: the cache
// size bounds how deep a reorg can be repaired within one tick,
// matching the original's documented limitation.
func (c *Cache) repairReorg(ctx context.Context) (int, error) {
	log := xlog.Named("blockcache")

	c.mu.Lock()
	n := len(c.entries)
	cacheHeight := uint64(c.cacheHeight.Load())
	c.mu.Unlock()

	repaired := 0
	for i := 0; i < n-1; i++ {
		c.mu.Lock()
		mismatch := c.entries[i].block.PrevID != c.entries[i+1].block.Hash
		c.mu.Unlock()
		if !mismatch {
			continue
		}

		height := cacheHeight - 1 - uint64(i)
		log.Warnw("repairing reorg", "height", height)
		e, err := c.fetch(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("blockcache: repair reorg at height %d: %w", height, err)
		}
		c.mu.Lock()
		c.entries[i+1] = e
		c.mu.Unlock()
		repaired++
	}
	return repaired, nil
}

// Transactions returns the cached transactions for every block above
// (not including) sinceHeight, oldest first, for the scanner to scan
// in one pass. sinceHeight is typically the height already persisted.
func (c *Cache) Transactions(sinceHeight uint64) []xmrchain.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	var txs []xmrchain.Transaction
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].block.Height <= sinceHeight {
			continue
		}
		txs = append(txs, c.entries[i].txs...)
	}
	return txs
}

// BlockAt returns the cached block at height, if still within the
// window.
func (c *Cache) BlockAt(height uint64) (xmrchain.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.block.Height == height {
			return e.block, true
		}
	}
	return xmrchain.Block{}, false
}

// BlockEntry is one cached block's height and transactions, as exposed
// to the scanner by RecentBlocks.
type BlockEntry struct {
	Height       uint64
	Transactions []xmrchain.Transaction
}

// Len reports how many blocks are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RecentBlocks returns the newest n cached blocks, newest first (clamped
// to however many are actually cached). The scanner uses this to scan
// exactly the blocks a tick's Update call advanced over, or the entire
// window on its first scan.
func (c *Cache) RecentBlocks(n int) []BlockEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.entries) {
		n = len(c.entries)
	}
	out := make([]BlockEntry, n)
	for i := 0; i < n; i++ {
		out[i] = BlockEntry{Height: c.entries[i].block.Height, Transactions: c.entries[i].txs}
	}
	return out
}
