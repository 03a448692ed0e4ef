package invoice

import "fmt"

// Invoice is the central entity tracked by the gateway. It is created by
// gateway callers, mutated exclusively by the scanner, and destroyed by
// explicit removal.
type Invoice struct {
	// Identity.
	Index          SubIndex
	CreationHeight uint64
	Address        string // base58 subaddress string

	// Request.
	AmountRequested       uint64
	ConfirmationsRequired uint64
	ExpirationHeight      uint64 // CreationHeight + expiration_in
	Description           []byte // opaque; the core never parses this

	// State.
	Transfers     []Transfer // unordered multiset
	AmountPaid    uint64
	PaidHeight    *uint64 // nil if unmet, or met only in mempool
	CurrentHeight uint64  // block cache top + 1 at last update
}

// New constructs a freshly issued, unpaid invoice.
func New(address string, index SubIndex, creationHeight, amountRequested, confirmationsRequired, expirationIn uint64, description []byte) Invoice {
	return Invoice{
		Index:                 index,
		CreationHeight:        creationHeight,
		Address:               address,
		AmountRequested:       amountRequested,
		ConfirmationsRequired: confirmationsRequired,
		ExpirationHeight:      creationHeight + expirationIn,
		Description:           description,
		CurrentHeight:         creationHeight,
	}
}

// ID returns this invoice's unique identifier.
func (inv Invoice) ID() ID {
	return ID{SubIndex: inv.Index, CreationHeight: inv.CreationHeight}
}

// IsConfirmed reports whether the invoice has received the required
// number of confirmations.
func (inv Invoice) IsConfirmed() bool {
	c := inv.Confirmations()
	return c != nil && *c >= inv.ConfirmationsRequired
}

// IsExpired reports whether the invoice's current height is at or past
// its expiration height, and it has not been paid in full.
func (inv Invoice) IsExpired() bool {
	return inv.CurrentHeight >= inv.ExpirationHeight && inv.PaidHeight == nil
}

// Confirmations returns the number of confirmations since the invoice
// was paid in full: nil if unpaid, Some(0) if over-paid but still
// unmined (in the mempool), or current_height - paid_height + 1 if
// mined-paid.
func (inv Invoice) Confirmations() *uint64 {
	if inv.AmountPaid < inv.AmountRequested {
		return nil
	}
	if inv.PaidHeight == nil {
		zero := uint64(0)
		return &zero
	}
	var confs uint64
	if inv.CurrentHeight > *inv.PaidHeight {
		confs = inv.CurrentHeight - *inv.PaidHeight + 1
	} else {
		confs = 1
	}
	return &confs
}

// ExpirationIn returns the number of blocks before expiration, floored
// at zero.
func (inv Invoice) ExpirationIn() uint64 {
	if inv.ExpirationHeight <= inv.CurrentHeight {
		return 0
	}
	return inv.ExpirationHeight - inv.CurrentHeight
}

func (inv Invoice) String() string {
	confs := "N/A"
	if c := inv.Confirmations(); c != nil {
		confs = fmt.Sprintf("%d", *c)
	}
	return fmt.Sprintf(
		"Index %s: Paid %d/%d piconero, Confirmations %s, Created at %d, Current height %d, Expires at %d, %d transfer(s)",
		inv.Index, inv.AmountPaid, inv.AmountRequested, confs, inv.CreationHeight, inv.CurrentHeight, inv.ExpirationHeight, len(inv.Transfers),
	)
}

// Clone returns a deep copy safe to mutate independently of inv.
func (inv Invoice) Clone() Invoice {
	clone := inv
	clone.Transfers = append([]Transfer(nil), inv.Transfers...)
	clone.Description = append([]byte(nil), inv.Description...)
	if inv.PaidHeight != nil {
		h := *inv.PaidHeight
		clone.PaidHeight = &h
	}
	return clone
}

// Recompute rebuilds transfers, AmountPaid, PaidHeight and
// CurrentHeight from a set of freshly scanned transfers, per §4.6.1 of
// the design:
//
//  1. Drop every existing transfer whose height is >= deepestUpdate
//     (mempool transfers, having no height, are always dropped — a
//     later step re-adds them if still relevant).
//  2. Append every scanned transfer for this invoice's subaddress whose
//     height is strictly after CreationHeight-1 (mempool passes too).
//  3. Set CurrentHeight to cacheTop+1.
//  4. If the invoice changed, recompute AmountPaid and PaidHeight from
//     scratch by replaying the (now current) transfer set in order.
//
// Recompute returns whether the invoice actually changed.
func (inv *Invoice) Recompute(scanned []ScannedTransfer, deepestUpdate int64, cacheTop uint64) bool {
	before := inv.Clone()

	kept := inv.Transfers[:0:0]
	for _, t := range inv.Transfers {
		if !t.heightAtLeast(deepestUpdate) {
			kept = append(kept, t)
		}
	}
	creationThreshold := int64(inv.CreationHeight) - 1
	for _, st := range scanned {
		if st.SubIndex != inv.Index {
			continue
		}
		if st.Transfer.heightAfter(creationThreshold) {
			kept = append(kept, st.Transfer)
		}
	}
	inv.Transfers = kept
	inv.CurrentHeight = cacheTop + 1

	if !invoicesEqual(before, *inv) {
		inv.PaidHeight = nil
		inv.AmountPaid = 0
		for _, t := range inv.Transfers {
			inv.AmountPaid += t.AmountPiconeros
			if inv.AmountPaid >= inv.AmountRequested && inv.PaidHeight == nil {
				// Assign whatever height this transfer has, mined or
				// not. If it's a mempool transfer (nil) this leaves
				// paid_height nil and a later mined transfer that also
				// satisfies the threshold will still set it, since the
				// nil-check above still passes.
				if t.Height != nil {
					h := *t.Height
					inv.PaidHeight = &h
				}
			}
		}
		return true
	}
	return false
}

// ScannedTransfer pairs a transfer discovered during a scan tick with
// the subaddress index it was paid to.
type ScannedTransfer struct {
	SubIndex SubIndex
	Transfer Transfer
}

func invoicesEqual(a, b Invoice) bool {
	if a.CurrentHeight != b.CurrentHeight || len(a.Transfers) != len(b.Transfers) {
		return false
	}
	for i := range a.Transfers {
		at, bt := a.Transfers[i], b.Transfers[i]
		if at.AmountPiconeros != bt.AmountPiconeros {
			return false
		}
		if (at.Height == nil) != (bt.Height == nil) {
			return false
		}
		if at.Height != nil && *at.Height != *bt.Height {
			return false
		}
	}
	return true
}
