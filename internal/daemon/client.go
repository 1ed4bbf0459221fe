package daemon

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a JSON-RPC 2.0 HTTP client implementing Daemon against a
// node that exposes height/cached_height/block_hex_hashes/raw_blocks
// methods.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a new RPC client targeting the given endpoint URL, with a
// default 10s per-call HTTP timeout (bounded further by the caller's
// context).
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with a JSON-RPC error
// object.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call invokes a JSON-RPC method and unmarshals the result into result.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	req := request{JSONRPC: "2.0", Method: method, Params: params, ID: 1}

	body, err := json.Marshal(req)
	if err != nil {
		return &Error{Op: method, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: method, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &Error{Op: method, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: method, Err: fmt.Errorf("read response: %w", err)}
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return &Error{Op: method, Err: fmt.Errorf("decode response: %w", err)}
	}

	if rpcResp.Error != nil {
		return &Error{Op: method, Err: &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return &Error{Op: method, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

// Height returns the daemon's current best-chain height.
func (c *Client) Height(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.call(ctx, "height", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// CachedHeight returns the daemon's last-known height.
func (c *Client) CachedHeight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.call(ctx, "cached_height", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// BlockHexHashes returns hex-encoded block hashes for [first, first+count).
func (c *Client) BlockHexHashes(ctx context.Context, first, count uint32) ([]string, error) {
	params := struct {
		First uint32 `json:"first"`
		Count uint32 `json:"count"`
	}{first, count}
	var hashes []string
	if err := c.call(ctx, "block_hex_hashes", params, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// RawBlocks returns raw block bytes for the given hex hashes.
func (c *Client) RawBlocks(ctx context.Context, hexHashes []string) ([][]byte, error) {
	var hexBlocks []string
	if err := c.call(ctx, "raw_blocks", hexHashes, &hexBlocks); err != nil {
		return nil, err
	}
	blocks := make([][]byte, len(hexBlocks))
	for i, hb := range hexBlocks {
		b, err := hex.DecodeString(hb)
		if err != nil {
			return nil, &Error{Op: "raw_blocks", Err: fmt.Errorf("decode block %d: %w", i, err)}
		}
		blocks[i] = b
	}
	return blocks, nil
}
