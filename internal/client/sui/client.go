package sui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/metrics"
)

// Client speaks the node JSON-RPC API and implements chain.Gateway.
type Client struct {
	host       string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	nextID     atomic.Int64
}

type Options struct {
	Timeout time.Duration
	RPS     float64
	Burst   int
}

var _ chain.Gateway = (*Client)(nil)

func NewClient(httpClient *http.Client, host string, opts Options) *Client {
	if host == "" {
		host = "https://fullnode.mainnet.sui.io:443"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	host = strings.TrimRight(host, "/")
	c := &Client{
		host:       host,
		httpClient: httpClient,
		timeout:    opts.Timeout,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// call performs one JSON-RPC round trip and returns the `result` member.
// Every call carries its own deadline so a stalled node surfaces as a
// retriable timeout.
func (c *Client) call(ctx context.Context, method string, params ...any) (result gjson.Result, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveChainCall(method, err, time.Since(start))
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, err
		}
	}
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, &chain.APIError{Status: resp.StatusCode, Body: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &chain.APIError{Status: resp.StatusCode, Body: "invalid json: " + truncate(string(body), 256)}
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("error"); e.Exists() {
		return gjson.Result{}, &chain.RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
	}
	return doc.Get("result"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
