package sqlstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/sqlstore"
	"github.com/xmrgateway/gateway/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func() storage.Storage {
		s, err := sqlstore.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
