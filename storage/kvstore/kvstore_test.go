package kvstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/kvstore"
	"github.com/xmrgateway/gateway/storage/storagetest"
)

func TestConformance(t *testing.T) {
	dir := t.TempDir()
	n := 0
	storagetest.Run(t, func() storage.Storage {
		n++
		s, err := kvstore.Open(filepath.Join(dir, t.Name()+string(rune('0'+n))))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
