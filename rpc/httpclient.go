package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xmrgateway/gateway/internal/xlog"
	"github.com/xmrgateway/gateway/xmrchain"
	"github.com/xmrgateway/gateway/xmrerrors"
)

// HTTPClient is a DaemonClient backed by a monerod restricted RPC
// endpoint over HTTP(S), with optional digest authentication.
type HTTPClient struct {
	httpClient *http.Client
	url        string
	auth       *digestAuth
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithDigestAuth enables HTTP digest authentication with the given
// credentials. seed, if non-nil, makes cnonce generation deterministic
// (for reproducible tests).
func WithDigestAuth(username, password string, seed *uint64) Option {
	return func(c *HTTPClient) {
		c.auth = newDigestAuth(username, password, seed)
	}
}

// NewHTTPClient returns a client pointed at the given daemon URL (e.g.
// "http://127.0.0.1:18081/"). totalTimeout bounds each HTTP round trip
// end-to-end; a digest-auth retry is a second round trip with its own
// timeout.
func NewHTTPClient(url string, totalTimeout time.Duration, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Timeout: totalTimeout},
		url:        url,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) URL() string { return c.url }

func (c *HTTPClient) Block(ctx context.Context, height uint64) (xmrchain.Block, error) {
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":"0","method":"get_block","params":{"height":%d}}`, height)
	res, err := c.request(ctx, body, "json_rpc")
	if err != nil {
		return xmrchain.Block{}, err
	}

	result, ok := res["result"].(map[string]any)
	if !ok {
		return xmrchain.Block{}, fmt.Errorf("%w: missing result in get_block response", xmrerrors.ErrProtocolParse)
	}
	header, ok := result["block_header"].(map[string]any)
	if !ok {
		return xmrchain.Block{}, fmt.Errorf("%w: missing block_header in get_block response", xmrerrors.ErrProtocolParse)
	}
	hashStr, _ := header["hash"].(string)
	prevStr, _ := header["prev_hash"].(string)
	hash, err := xmrchain.HashFromHex(hashStr)
	if err != nil {
		return xmrchain.Block{}, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
	}
	prev, err := xmrchain.HashFromHex(prevStr)
	if err != nil {
		return xmrchain.Block{}, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
	}

	jsonBody, _ := result["json"].(string)
	txHashes, err := parseBlockTxHashes(jsonBody)
	if err != nil {
		return xmrchain.Block{}, err
	}

	return xmrchain.Block{Hash: hash, PrevID: prev, Height: height, TxHashes: txHashes}, nil
}

type wireBlockJSON struct {
	TxHashes []string `json:"tx_hashes"`
}

func parseBlockTxHashes(jsonBody string) ([]xmrchain.Hash, error) {
	if jsonBody == "" {
		return nil, nil
	}
	var wire wireBlockJSON
	if err := json.Unmarshal([]byte(jsonBody), &wire); err != nil {
		return nil, fmt.Errorf("%w: parse block json: %w", xmrerrors.ErrProtocolParse, err)
	}
	hashes := make([]xmrchain.Hash, 0, len(wire.TxHashes))
	for _, s := range wire.TxHashes {
		h, err := xmrchain.HashFromHex(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (c *HTTPClient) BlockTransactions(ctx context.Context, block xmrchain.Block) ([]xmrchain.Transaction, error) {
	return c.TransactionsByHashes(ctx, block.TxHashes)
}

func (c *HTTPClient) Txpool(ctx context.Context) ([]xmrchain.Transaction, error) {
	res, err := c.request(ctx, "", "get_transaction_pool")
	if err != nil {
		return nil, err
	}
	entries, ok := res["transactions"].([]any)
	if !ok {
		// No transactions in the pool.
		return nil, nil
	}

	txs := make([]xmrchain.Transaction, 0, len(entries))
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: malformed txpool entry", xmrerrors.ErrProtocolParse)
		}
		idHex, _ := entry["id_hash"].(string)
		hash, err := xmrchain.HashFromHex(idHex)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
		}
		txJSON, _ := entry["tx_json"].(string)
		tx, err := xmrchain.ParseTransactionJSON(hash, txJSON)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c *HTTPClient) TxpoolHashes(ctx context.Context) (map[xmrchain.Hash]struct{}, error) {
	res, err := c.request(ctx, "", "get_transaction_pool_hashes")
	if err != nil {
		return nil, err
	}
	hashes := make(map[xmrchain.Hash]struct{})
	entries, ok := res["tx_hashes"].([]any)
	if !ok {
		return hashes, nil
	}
	for _, e := range entries {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("%w: malformed tx hash in txpool hash set", xmrerrors.ErrProtocolParse)
		}
		h, err := xmrchain.HashFromHex(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
		}
		hashes[h] = struct{}{}
	}
	return hashes, nil
}

func (c *HTTPClient) TransactionsByHashes(ctx context.Context, hashes []xmrchain.Hash) ([]xmrchain.Transaction, error) {
	var txs []xmrchain.Transaction
	for start := 0; start == 0 || start < len(hashes); start += MaxRequestedTransactions {
		end := start + MaxRequestedTransactions
		if end > len(hashes) {
			end = len(hashes)
		}
		if end == start {
			break
		}
		batch, err := c.transactionsBatch(ctx, hashes[start:end])
		if err != nil {
			return nil, err
		}
		txs = append(txs, batch...)
	}
	return txs, nil
}

func (c *HTTPClient) transactionsBatch(ctx context.Context, hashes []xmrchain.Hash) ([]xmrchain.Transaction, error) {
	hexHashes := make([]string, len(hashes))
	for i, h := range hashes {
		hexHashes[i] = h.String()
	}
	reqBody, err := json.Marshal(map[string]any{"txs_hashes": hexHashes, "decode_as_json": true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
	}

	res, err := c.request(ctx, string(reqBody), "get_transactions")
	if err != nil {
		return nil, err
	}

	asJSON, ok := res["txs_as_json"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing txs_as_json in get_transactions response", xmrerrors.ErrProtocolParse)
	}
	txHashesRaw, _ := res["tx_hashes"].([]any)

	txs := make([]xmrchain.Transaction, 0, len(asJSON))
	for i, entry := range asJSON {
		txJSON, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%w: malformed transaction json in get_transactions response", xmrerrors.ErrProtocolParse)
		}
		var hash xmrchain.Hash
		if i < len(hashes) {
			hash = hashes[i]
		} else if i < len(txHashesRaw) {
			if s, ok := txHashesRaw[i].(string); ok {
				hash, _ = xmrchain.HashFromHex(s)
			}
		}
		tx, err := xmrchain.ParseTransactionJSON(hash, txJSON)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xmrerrors.ErrProtocolParse, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (c *HTTPClient) DaemonHeight(ctx context.Context) (uint64, error) {
	res, err := c.request(ctx, `{"jsonrpc":"2.0","id":"0","method":"get_block_count"}`, "json_rpc")
	if err != nil {
		return 0, err
	}
	result, ok := res["result"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w: missing result in get_block_count response", xmrerrors.ErrProtocolParse)
	}
	count, ok := result["count"].(float64)
	if !ok {
		return 0, fmt.Errorf("%w: missing count in get_block_count response", xmrerrors.ErrProtocolParse)
	}
	return uint64(count), nil
}

// request POSTs body to url+endpoint, retrying once with full digest
// authentication if the daemon challenges with a 401.
func (c *HTTPClient) request(ctx context.Context, body, endpoint string) (map[string]any, error) {
	log := xlog.Named("rpc")
	path := "/" + endpoint

	resp, err := c.do(ctx, body, endpoint, path, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && resp.Header.Get("Www-Authenticate") != "" {
		log.Debug("received 401, performing digest authentication")
		if c.auth == nil {
			return nil, fmt.Errorf("%w: daemon requires authentication but none is configured", xmrerrors.ErrAuth)
		}
		resp.Body.Close()
		authHeader, err := c.auth.authorizeFromChallenge(resp, http.MethodPost, path)
		if err != nil {
			return nil, err
		}
		resp, err = c.doWithHeader(ctx, body, endpoint, authHeader)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %w", xmrerrors.ErrTransientRPC, err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse response json: %w", xmrerrors.ErrProtocolParse, err)
	}
	return parsed, nil
}

func (c *HTTPClient) do(ctx context.Context, body, endpoint, path string, tryPreempt bool) (*http.Response, error) {
	var authHeader string
	if tryPreempt && c.auth != nil {
		if h, ok, err := c.auth.authorize(http.MethodPost, path); err != nil {
			return nil, err
		} else if ok {
			authHeader = h
		}
	}
	return c.doWithHeader(ctx, body, endpoint, authHeader)
}

func (c *HTTPClient) doWithHeader(ctx context.Context, body, endpoint, authHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", xmrerrors.ErrTransientRPC, err)
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", xmrerrors.ErrTransientRPC, err)
	}
	return resp, nil
}
