// Package rpc defines the gateway's view of a Monero daemon — the
// external capability the block cache, txpool cache, and scanner pull
// from every tick — and an HTTP/JSON-RPC client implementing it against
// a real monerod instance, including optional HTTP digest
// authentication.
//
// Grounded on the reference implementation's RpcClient: the same six
// read operations, the same request/retry-on-401 flow, and the same
// 100-transaction request batching, translated from hyper to net/http.
package rpc

import (
	"context"

	"github.com/xmrgateway/gateway/xmrchain"
)

// MaxRequestedTransactions bounds how many transaction hashes
// TransactionsByHashes will request from the daemon in a single RPC
// call; larger hash sets are split into sequential batches.
const MaxRequestedTransactions = 100

// DaemonClient is the capability surface the gateway core needs from a
// Monero daemon. Implementations may be real RPC clients (HTTPClient)
// or mocks for testing.
type DaemonClient interface {
	// Block fetches the block at height along with its hash.
	Block(ctx context.Context, height uint64) (xmrchain.Block, error)
	// BlockTransactions fetches every transaction referenced by block.
	BlockTransactions(ctx context.Context, block xmrchain.Block) ([]xmrchain.Transaction, error)
	// Txpool fetches every transaction currently in the mempool.
	Txpool(ctx context.Context) ([]xmrchain.Transaction, error)
	// TxpoolHashes fetches the hash set of every transaction currently
	// in the mempool, without their bodies.
	TxpoolHashes(ctx context.Context) (map[xmrchain.Hash]struct{}, error)
	// TransactionsByHashes fetches the named transactions, batched at
	// MaxRequestedTransactions per RPC call.
	TransactionsByHashes(ctx context.Context, hashes []xmrchain.Hash) ([]xmrchain.Transaction, error)
	// DaemonHeight reports the blockchain tip height plus one.
	DaemonHeight(ctx context.Context) (uint64, error)
	// URL reports the daemon endpoint this client targets, for
	// diagnostics.
	URL() string
}
