package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64p(v uint64) *uint64 { return &v }

func TestIDRoundTrip(t *testing.T) {
	cases := []ID{
		{SubIndex{0, 0}, 0},
		{SubIndex{1, 97}, 2477657},
		{SubIndex{0xFFFFFFFF, 0}, 0},
		{SubIndex{0, 0xFFFFFFFF}, 0},
		{SubIndex{0, 0}, 0xFFFFFFFFFFFFFFFF},
		{SubIndex{0xFFFFFFFF, 0xFFFFFFFF}, 0xFFFFFFFFFFFFFFFF},
	}
	for _, id := range cases {
		encoded := id.MarshalBase64()
		assert.Len(t, encoded, 22)
		decoded, err := ParseIDBase64(encoded)
		require.NoError(t, err)
		assert.Equal(t, id, decoded)
	}
}

func TestParseIDBase64ZeroVector(t *testing.T) {
	id, err := ParseIDBase64("AAAAAAAAAAAAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, ID{}, id)
}

func TestParseIDBase64WrongLength(t *testing.T) {
	_, err := ParseIDBase64("AAAA")
	assert.Error(t, err)
	_, err = ParseIDBase64("")
	assert.Error(t, err)
}

func TestSubIndexOrdering(t *testing.T) {
	assert.True(t, SubIndex{0, 5}.Less(SubIndex{1, 0}))
	assert.True(t, SubIndex{1, 0}.Less(SubIndex{1, 1}))
	assert.False(t, SubIndex{1, 1}.Less(SubIndex{1, 0}))
}

func TestTransferLessByHeight(t *testing.T) {
	mined := NewMinedTransfer(10, 100)
	mempool := NewMempoolTransfer(10)
	assert.True(t, mined.LessByHeight(mempool))
	assert.False(t, mempool.LessByHeight(mined))
}

func TestInvoiceDerivedFields(t *testing.T) {
	inv := New("addr", SubIndex{1, 97}, 1000, 500, 5, 10, []byte("test invoice"))
	assert.Equal(t, uint64(1010), inv.ExpirationHeight)
	assert.Nil(t, inv.Confirmations())
	assert.False(t, inv.IsConfirmed())
	assert.False(t, inv.IsExpired())

	inv.CurrentHeight = 1000
	inv.AmountPaid = 500
	inv.PaidHeight = u64p(1000)
	c := inv.Confirmations()
	require.NotNil(t, c)
	assert.Equal(t, uint64(1), *c)
	assert.False(t, inv.IsConfirmed())

	inv.CurrentHeight = 1004
	c = inv.Confirmations()
	require.NotNil(t, c)
	assert.Equal(t, uint64(5), *c)
	assert.True(t, inv.IsConfirmed())
}

func TestInvoiceIsExpired(t *testing.T) {
	inv := New("addr", SubIndex{1, 97}, 1000, 500, 5, 10, nil)
	inv.CurrentHeight = 1010
	assert.True(t, inv.IsExpired())
	inv.AmountPaid = 500
	inv.PaidHeight = u64p(1005)
	assert.False(t, inv.IsExpired())
}

func TestRecomputeZeroConf(t *testing.T) {
	inv := New("addr", SubIndex{1, 97}, 2477656, 37419570, 0, 10, nil)
	scanned := []ScannedTransfer{
		{SubIndex: SubIndex{1, 97}, Transfer: NewMempoolTransfer(37419570)},
	}
	changed := inv.Recompute(scanned, 2477657, 2477656)
	require.True(t, changed)
	assert.Equal(t, uint64(37419570), inv.AmountPaid)
	c := inv.Confirmations()
	require.NotNil(t, c)
	assert.Equal(t, uint64(0), *c)
	assert.True(t, inv.IsConfirmed())
	assert.Nil(t, inv.PaidHeight)
}

func TestRecomputeDropsStaleTransfers(t *testing.T) {
	inv := New("addr", SubIndex{1, 97}, 2477656, 1, 5, 10, nil)
	inv.Transfers = []Transfer{NewMinedTransfer(37419570, 2477657)}
	inv.AmountPaid = 37419570
	inv.PaidHeight = u64p(2477657)
	inv.CurrentHeight = 2477658

	// Reorg: nothing new found, and the stale transfer's height (2477657)
	// is >= deepestUpdate (2477657), so it must be dropped.
	changed := inv.Recompute(nil, 2477657, 2477658)
	require.True(t, changed)
	assert.Equal(t, uint64(0), inv.AmountPaid)
	assert.Nil(t, inv.PaidHeight)
	assert.Empty(t, inv.Transfers)
}

func TestRecomputeIgnoresTransfersBeforeCreation(t *testing.T) {
	inv := New("addr", SubIndex{1, 97}, 100, 1, 0, 10, nil)
	scanned := []ScannedTransfer{
		// height == creation_height - 1 must NOT count.
		{SubIndex: SubIndex{1, 97}, Transfer: NewMinedTransfer(500, 99)},
	}
	changed := inv.Recompute(scanned, 100, 99)
	assert.False(t, changed)
	assert.Equal(t, uint64(0), inv.AmountPaid)
}

func TestRecomputeIgnoresOtherSubaddress(t *testing.T) {
	inv := New("addr", SubIndex{1, 97}, 100, 1, 0, 10, nil)
	scanned := []ScannedTransfer{
		{SubIndex: SubIndex{1, 98}, Transfer: NewMinedTransfer(500, 101)},
	}
	changed := inv.Recompute(scanned, 100, 99)
	assert.False(t, changed)
}
