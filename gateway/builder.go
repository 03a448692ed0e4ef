package gateway

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xmrgateway/gateway/internal/metrics"
	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/rpc"
	"github.com/xmrgateway/gateway/storage"
	"github.com/xmrgateway/gateway/storage/kvstore"
	"github.com/xmrgateway/gateway/xmrcrypto"
)

// GatewayMajorIndex is the only subaddress major index this gateway
// ever issues or scans under — a payment gateway has no use for more
// than one account's worth of subaddresses.
const GatewayMajorIndex uint32 = 1

const (
	defaultScanInterval   = time.Second
	defaultDaemonURL      = "http://node.moneroworld.com:18089"
	defaultDBPath         = "xmr-gateway-db"
	defaultRPCTimeout     = 10 * time.Second
	defaultBlockCacheSize = 10
)

// Builder configures and constructs a Gateway. Obtain one with
// NewBuilder.
type Builder struct {
	daemonURL      string
	rpcTimeout     time.Duration
	privateViewKey string
	primaryAddress string
	scanInterval   time.Duration
	blockCacheSize int
	dbPath         string
	store          storage.Storage
	client         rpc.DaemonClient
	metricsReg     prometheus.Registerer
	seed           *uint64
}

// NewBuilder returns a Builder seeded with this module's defaults,
// configured with the non-custodial credentials every gateway needs: a
// private view key and the wallet's primary address.
func NewBuilder(privateViewKey, primaryAddress string) *Builder {
	return &Builder{
		daemonURL:      defaultDaemonURL,
		rpcTimeout:     defaultRPCTimeout,
		privateViewKey: privateViewKey,
		primaryAddress: primaryAddress,
		scanInterval:   defaultScanInterval,
		blockCacheSize: defaultBlockCacheSize,
		dbPath:         defaultDBPath,
	}
}

// DaemonURL sets the monerod RPC endpoint. Defaults to a public node.
func (b *Builder) DaemonURL(url string) *Builder {
	b.daemonURL = url
	return b
}

// RPCTimeout bounds each daemon request end to end. Defaults to 10s.
func (b *Builder) RPCTimeout(timeout time.Duration) *Builder {
	b.rpcTimeout = timeout
	return b
}

// ScanInterval sets the minimum delay between scan ticks. Defaults to
// 1s.
func (b *Builder) ScanInterval(interval time.Duration) *Builder {
	b.scanInterval = interval
	return b
}

// BlockCacheSize sets how many recent blocks the scanner keeps handy
// for reorg detection. Defaults to 10.
func (b *Builder) BlockCacheSize(n int) *Builder {
	b.blockCacheSize = n
	return b
}

// DBPath sets the path of the default embedded-kv storage backend.
// Ignored if Store is also called. Defaults to "xmr-gateway-db".
func (b *Builder) DBPath(path string) *Builder {
	b.dbPath = path
	return b
}

// Store overrides the default embedded-kv storage backend with any
// other storage.Storage implementation (e.g. storage/memstore for
// tests, or storage/sqlstore for a SQL-backed deployment).
func (b *Builder) Store(store storage.Storage) *Builder {
	b.store = store
	return b
}

// Client overrides the default HTTP monerod client with any other
// rpc.DaemonClient implementation. Intended for tests; DaemonURL and
// RPCTimeout are ignored once this is set.
func (b *Builder) Client(client rpc.DaemonClient) *Builder {
	b.client = client
	return b
}

// Metrics registers this gateway's Prometheus collectors against reg.
// If never called, the gateway runs with metrics disabled.
func (b *Builder) Metrics(reg prometheus.Registerer) *Builder {
	b.metricsReg = reg
	return b
}

// Seed fixes the subaddress cache's random selection and is intended
// for reproducible testing only; never set it in production.
func (b *Builder) Seed(seed uint64) *Builder {
	xlog.Named("gateway").Warnw("seed set; subaddress selection will be predictable", "seed", seed)
	b.seed = &seed
	return b
}

// Build opens storage, derives the view pair, reconciles the
// subaddress cache against any invoices already on disk, and returns a
// ready-to-run Gateway. It does not start scanning; call Run for that.
func (b *Builder) Build() (*Gateway, error) {
	vp, err := xmrcrypto.ParseViewPair(b.privateViewKey, b.primaryAddress)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse view pair: %w", err)
	}

	store := b.store
	if store == nil {
		kv, err := kvstore.Open(b.dbPath)
		if err != nil {
			return nil, fmt.Errorf("gateway: open storage at %q: %w", b.dbPath, err)
		}
		store = kv
	}

	client := b.client
	if client == nil {
		client = rpc.NewHTTPClient(b.daemonURL, b.rpcTimeout)
	}

	var collector *metrics.Collector
	if b.metricsReg != nil {
		collector = metrics.New(b.metricsReg)
	}

	return newGateway(vp, store, client, b.scanInterval, b.blockCacheSize, b.seed, collector)
}
