package invoice

// Transfer represents a sum of owned outputs at a given height. Height
// is nil for transfers still in the mempool.
type Transfer struct {
	AmountPiconeros uint64
	Height          *uint64 // nil means mempool (unmined)
}

// NewMinedTransfer builds a Transfer with a known block height.
func NewMinedTransfer(amount, height uint64) Transfer {
	h := height
	return Transfer{AmountPiconeros: amount, Height: &h}
}

// NewMempoolTransfer builds a Transfer with no block height.
func NewMempoolTransfer(amount uint64) Transfer {
	return Transfer{AmountPiconeros: amount, Height: nil}
}

// LessByHeight orders transfers by height, where mempool (nil height)
// is considered newer than any mined height.
func (t Transfer) LessByHeight(o Transfer) bool {
	switch {
	case t.Height == nil && o.Height == nil:
		return false
	case t.Height == nil:
		return false // t (mempool) is newer, so not less
	case o.Height == nil:
		return true // o (mempool) is newer than t (mined)
	default:
		return *t.Height < *o.Height
	}
}

// heightAtLeast reports whether the transfer's height is >= threshold,
// treating mempool (nil) as greater than any threshold. threshold is
// signed so that a creation height of 0 (threshold -1) is handled
// without wraparound.
func (t Transfer) heightAtLeast(threshold int64) bool {
	if t.Height == nil {
		return true
	}
	return int64(*t.Height) >= threshold
}

// heightAfter reports whether the transfer's height is strictly greater
// than threshold, treating mempool (nil) as passing. threshold is
// signed so that a creation height of 0 (threshold -1) is handled
// without wraparound.
func (t Transfer) heightAfter(threshold int64) bool {
	if t.Height == nil {
		return true
	}
	return int64(*t.Height) > threshold
}
