package memstore_test

import (
	"testing"

	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/memstore"
	"github.com/xmrgateway/gateway/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func() storage.Storage { return memstore.New() })
}
