// Package subaddresscache maintains the pool of derived-but-unissued
// subaddresses a gateway hands out to new invoices, under one fixed
// major index. Addresses are derived once and cached rather than
// re-derived per invoice, since subaddress derivation does a handful
// of scalar/point multiplications.
//
// Grounded on original_source/src/caching/subaddress_cache.rs's
// SubaddressCache: same MIN_AVAILABLE_SUBADDRESSES watermark, same
// startup reconciliation against already-used indices, same
// remove_random/insert/extend_by/generate_range shape.
package subaddresscache

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/xmrgateway/gateway/invoice"
	"github.com/xmrgateway/gateway/xmrcrypto"
)

// MinAvailable is the low-water mark: remove_random replenishes the
// pool once it falls to or below this many available addresses.
const MinAvailable uint32 = 100

// Cache is the pool of derived, currently unissued subaddresses for one
// (viewpair, major index) pair.
type Cache struct {
	mu sync.Mutex

	vp    xmrcrypto.ViewPair
	major uint32

	highestMinor uint32
	keys         []invoice.SubIndex // insertion order, for order-preserving removal
	addrs        map[invoice.SubIndex]string

	rng *rand.ChaCha8
}

// New builds a Cache covering the contiguous minor-index range
// [0, max(MinAvailable-1, highest used minor index)], excluding any
// index already present in usedIndices. seed, if non-nil, makes
// remove_random's selection deterministic, for reproducible tests.
func New(vp xmrcrypto.ViewPair, major uint32, usedIndices []invoice.SubIndex, seed *uint64) *Cache {
	var maxUsed uint32
	used := make(map[invoice.SubIndex]struct{}, len(usedIndices))
	for _, sub := range usedIndices {
		used[sub] = struct{}{}
		if sub.Minor > maxUsed {
			maxUsed = sub.Minor
		}
	}

	highestMinor := MinAvailable - 1
	if maxUsed > highestMinor {
		highestMinor = maxUsed
	}

	c := &Cache{
		vp:           vp,
		major:        major,
		highestMinor: highestMinor,
		addrs:        make(map[invoice.SubIndex]string),
		rng:          newRNG(seed),
	}

	for _, sub := range GenerateRange(vp, invoice.SubIndex{Major: major, Minor: 0}, invoice.SubIndex{Major: major, Minor: highestMinor}) {
		if _, isUsed := used[sub.SubIndex]; isUsed {
			continue
		}
		c.addrs[sub.SubIndex] = sub.Address
		c.keys = append(c.keys, sub.SubIndex)
	}

	return c
}

func newRNG(seed *uint64) *rand.ChaCha8 {
	var seedBytes [32]byte
	if seed != nil {
		binary.LittleEndian.PutUint64(seedBytes[:8], *seed)
	}
	return rand.NewChaCha8(seedBytes)
}

// Len reports how many addresses are currently available to hand out.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// HighestMinor reports the highest minor index derived so far under
// this cache's major index, used or not. Callers needing a sub-key
// checker that covers every issued subaddress should size it to
// [0, HighestMinor()].
func (c *Cache) HighestMinor() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestMinor
}

// RemoveRandom pops one available address at a uniformly chosen
// position. If this empties the pool to at or below MinAvailable, it
// replenishes by deriving MinAvailable further addresses first.
func (c *Cache) RemoveRandom() (invoice.SubIndex, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 {
		return invoice.SubIndex{}, "", fmt.Errorf("subaddresscache: pool is empty")
	}

	i := int(c.rng.Uint64() % uint64(len(c.keys)))
	sub := c.keys[i]
	addr := c.addrs[sub]
	c.keys = append(c.keys[:i], c.keys[i+1:]...)
	delete(c.addrs, sub)

	if len(c.keys) <= int(MinAvailable) {
		c.extendBy(MinAvailable)
	}

	return sub, addr, nil
}

// Insert returns an address to the pool (used when an invoice is
// removed), overwriting any existing entry at sub.
func (c *Cache) Insert(sub invoice.SubIndex, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.addrs[sub]; !exists {
		c.keys = append(c.keys, sub)
	}
	c.addrs[sub] = address
}

// extendBy derives up to n further addresses past the current
// highest-minor watermark. Must be called with c.mu held.
func (c *Cache) extendBy(n uint32) uint32 {
	var count uint32
	for ; count < n; count++ {
		if c.highestMinor == ^uint32(0) {
			return count
		}
		c.highestMinor++
		sub := invoice.SubIndex{Major: c.major, Minor: c.highestMinor}
		addr := xmrcrypto.GetSubaddress(c.vp, c.major, c.highestMinor)
		c.addrs[sub] = addr
		c.keys = append(c.keys, sub)
	}
	return count
}

// GeneratedSubaddress is one (index, derived address) pair.
type GeneratedSubaddress struct {
	SubIndex invoice.SubIndex
	Address  string
}

// GenerateRange derives subaddresses for every minor index starting at
// from.Minor, under from's major index, as long as the (major, minor)
// pair stays lexicographically at or below to — which, when to's major
// index is higher than from's, means it runs all the way to minor
// saturation rather than stopping at to.Minor. This mirrors the
// original's generate_range exactly, including that perhaps-surprising
// behavior: it never changes the major index it generates under, only
// uses to as the lexicographic stopping bound. Returns nil if to < from.
func GenerateRange(vp xmrcrypto.ViewPair, from, to invoice.SubIndex) []GeneratedSubaddress {
	if to.Less(from) {
		return nil
	}

	// The stopping bound on minor index: to.Minor if from and to share a
	// major index, or saturation if from's major index is lower (in
	// which case the (major, minor) comparison never turns false before
	// minor saturates, since major alone already orders current <= to).
	boundedByTo := from.Major == to.Major

	var out []GeneratedSubaddress
	for minor := from.Minor; ; minor++ {
		out = append(out, GeneratedSubaddress{
			SubIndex: invoice.SubIndex{Major: from.Major, Minor: minor},
			Address:  xmrcrypto.GetSubaddress(vp, from.Major, minor),
		})
		if boundedByTo && minor == to.Minor {
			break
		}
		if minor == ^uint32(0) {
			break
		}
	}
	return out
}
