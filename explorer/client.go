// Package explorer reads purchase logs from an Etherscan-style block explorer
// API (Etherscan, Polygonscan, BscScan, Arbiscan and their v2 multichain
// endpoint). It also answers head and block-time lookups through the API's
// proxy module, so a run can go without any node.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/decoder"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/filter"
	"github.com/hedeqiang/tally/internal/hex"
	"github.com/hedeqiang/tally/metrics"
	"github.com/hedeqiang/tally/retry"
)

// SourceID names the explorer in logs, errors and purchases.
const SourceID = "explorer"

// ErrNoAPIKey is returned when a request is made without an API key.
var ErrNoAPIKey = errors.New("explorer: API key not configured")

const noRecords = "no records found"

// Config holds the explorer settings.
type Config struct {
	BaseURL string
	APIKey  string

	// ChainID is sent as "chainid" when non-zero (v2 multichain API).
	ChainID uint64

	// Window is the page span in blocks. A page covers [from, from+Window].
	Window uint64

	// MinInterval spaces consecutive requests at least this far apart.
	// Zero sends requests back to back.
	MinInterval time.Duration

	Timeout time.Duration
}

// DefaultConfig returns the Polygonscan defaults without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.polygonscan.com/api",
		Window:  50000,
		Timeout: 30 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSleep replaces the sleep used to pace requests.
func WithSleep(fn retry.SleepFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.pace.sleep = fn
		}
	}
}

// WithMetrics sets the collector decode skips are recorded on.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client is the fallback log source.
type Client struct {
	cfg     Config
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Collector
	pace    *pacer
}

var _ chain.BlockTimer = (*Client)(nil)

// New creates a Client. Zero Config fields take their defaults.
func New(cfg Config, opts ...Option) *Client {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.Window == 0 {
		cfg.Window = d.Window
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  zap.NewNop(),
		pace: newPacer(cfg.MinInterval),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the source name.
func (c *Client) ID() string {
	return SourceID
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

// envelope is the common response wrapper. Proxy calls answer in JSON-RPC
// form and carry Error instead of Status.
type envelope struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Error   *rpcError `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type logEntry struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     string   `json:"blockNumber"`
	TimeStamp       string   `json:"timeStamp"`
	LogIndex        string   `json:"logIndex"`
	TransactionHash string   `json:"transactionHash"`
}

// FetchPurchases returns the purchases emitted by contract with the given
// topic0 in [from, to]. Any page failing fails the whole fetch.
func (c *Client) FetchPurchases(ctx context.Context, contract event.Address, topic0 event.Hash, from, to uint64) ([]event.Purchase, error) {
	if !c.Configured() {
		return nil, chain.NewError(chain.KindFatalConfig, SourceID, "getLogs", ErrNoAPIKey)
	}
	if from > to {
		return nil, fmt.Errorf("explorer: invalid range [%d, %d]", from, to)
	}

	dec := decoder.NewWords(topic0)
	var out []event.Purchase

	for cursor := from; ; {
		page := event.Window{From: cursor, To: to}
		if to-cursor > c.cfg.Window {
			page.To = cursor + c.cfg.Window
		}

		start := time.Now()
		logs, err := c.getLogs(ctx, contract, topic0, page)
		c.metrics.ObserveFetch(SourceID, start)
		if err != nil {
			return nil, err
		}

		guard := filter.NewQuery(
			filter.WithAddresses(contract),
			filter.WithSignature(topic0),
			filter.WithBlockRange(page.From, page.To),
		).Matcher()

		for _, l := range logs {
			if !guard.Match(l) {
				c.log.Warn("dropping log outside request", zap.Uint64("block", l.BlockNumber), zap.String("address", l.Address.Hex()))
				continue
			}
			p, err := dec.DecodePurchase(l)
			if err != nil {
				c.metrics.DecodeSkip(SourceID)
				c.log.Warn("skipping undecodable log", zap.Uint64("block", l.BlockNumber), zap.Error(err))
				continue
			}
			out = append(out, p)
		}

		c.log.Debug("page fetched", zap.Stringer("window", page), zap.Int("logs", len(logs)))
		if page.To >= to {
			break
		}
		cursor = page.To + 1
	}

	return out, nil
}

func (c *Client) getLogs(ctx context.Context, contract event.Address, topic0 event.Hash, page event.Window) ([]event.Log, error) {
	op := "getLogs " + page.String()
	body, err := c.get(ctx, op, url.Values{
		"module":    {"logs"},
		"action":    {"getLogs"},
		"address":   {contract.Hex()},
		"topic0":    {topic0.Hex()},
		"fromBlock": {strconv.FormatUint(page.From, 10)},
		"toBlock":   {strconv.FormatUint(page.To, 10)},
	})
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := sonnet.Unmarshal(body, &env); err != nil {
		return nil, chain.NewError(chain.KindUnknown, SourceID, op, fmt.Errorf("decode response: %w", err))
	}

	switch {
	case env.Status == "1":
	case env.Status == "0" && strings.EqualFold(strings.TrimSpace(env.Message), noRecords):
		return nil, nil
	default:
		return nil, chain.NewError(chain.KindFatalConfig, SourceID, op, apiError(env, body))
	}

	var resp struct {
		Result []logEntry `json:"result"`
	}
	if err := sonnet.Unmarshal(body, &resp); err != nil {
		return nil, chain.NewError(chain.KindUnknown, SourceID, op, fmt.Errorf("decode result: %w", err))
	}

	logs := make([]event.Log, 0, len(resp.Result))
	for i, e := range resp.Result {
		l, err := e.toLog(contract, i)
		if err != nil {
			c.metrics.DecodeSkip(SourceID)
			c.log.Warn("skipping malformed entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// LatestBlock returns the head through the proxy module.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	body, err := c.proxy(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := sonnet.Unmarshal(body, &resp); err != nil {
		return 0, chain.NewError(chain.KindUnknown, SourceID, "eth_blockNumber", fmt.Errorf("decode result: %w", err))
	}
	n, err := hex.ParseUint64(resp.Result)
	if err != nil {
		return 0, chain.NewError(chain.KindUnknown, SourceID, "eth_blockNumber", err)
	}
	return n, nil
}

// BlockTimestamp returns a block's timestamp through the proxy module.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	op := fmt.Sprintf("eth_getBlockByNumber(%d)", number)
	body, err := c.proxy(ctx, "eth_getBlockByNumber", url.Values{"tag": {hex.EncodeUint64(number)}, "boolean": {"false"}})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result *struct {
			Timestamp string `json:"timestamp"`
		} `json:"result"`
	}
	if err := sonnet.Unmarshal(body, &resp); err != nil {
		return 0, chain.NewError(chain.KindUnknown, SourceID, op, fmt.Errorf("decode result: %w", err))
	}
	if resp.Result == nil {
		return 0, chain.NewError(chain.KindUnknown, SourceID, op, errors.New("block not found"))
	}
	ts, err := hex.ParseUint64(resp.Result.Timestamp)
	if err != nil {
		return 0, chain.NewError(chain.KindUnknown, SourceID, op, err)
	}
	return ts, nil
}

// proxy calls a JSON-RPC method through the proxy module and returns the
// raw response body.
func (c *Client) proxy(ctx context.Context, action string, params url.Values) ([]byte, error) {
	if !c.Configured() {
		return nil, chain.NewError(chain.KindFatalConfig, SourceID, action, ErrNoAPIKey)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("module", "proxy")
	params.Set("action", action)

	body, err := c.get(ctx, action, params)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := sonnet.Unmarshal(body, &env); err != nil {
		return nil, chain.NewError(chain.KindUnknown, SourceID, action, fmt.Errorf("decode response: %w", err))
	}
	if env.Error != nil || env.Status == "0" {
		return nil, chain.NewError(chain.KindFatalConfig, SourceID, action, apiError(env, body))
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, op string, params url.Values) ([]byte, error) {
	if err := c.pace.wait(ctx); err != nil {
		return nil, err
	}
	params.Set("apikey", c.cfg.APIKey)
	if c.cfg.ChainID != 0 {
		params.Set("chainid", strconv.FormatUint(c.cfg.ChainID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, chain.NewError(chain.KindFatalConfig, SourceID, op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, chain.NewError(chain.KindTransient, SourceID, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chain.NewError(chain.KindTransient, SourceID, op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		kind := chain.KindTransient
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = chain.KindRateLimit
		}
		return nil, chain.NewError(kind, SourceID, op, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return body, nil
}

// apiError builds an error from a non-success response. The detail usually
// sits in "result" as a string ("Invalid API Key", "Max rate limit reached").
func apiError(env envelope, body []byte) error {
	if env.Error != nil {
		return fmt.Errorf("api error %d: %s", env.Error.Code, env.Error.Message)
	}
	var detail struct {
		Result string `json:"result"`
	}
	if err := sonnet.Unmarshal(body, &detail); err == nil && detail.Result != "" {
		return fmt.Errorf("api status %q: %s: %s", env.Status, env.Message, detail.Result)
	}
	return fmt.Errorf("api status %q: %s", env.Status, env.Message)
}

// toLog converts an API entry. Some explorers omit the address and log
// index: the address then defaults to the queried contract and the index to
// the entry's position in the page, which keeps purchases of one
// transaction apart.
func (e logEntry) toLog(contract event.Address, pos int) (event.Log, error) {
	l := event.Log{Source: SourceID, Address: contract}

	var err error
	if strings.TrimSpace(e.Address) != "" {
		if l.Address, err = event.HexToAddress(e.Address); err != nil {
			return l, fmt.Errorf("address: %w", err)
		}
	}
	l.Topics = make([]event.Hash, len(e.Topics))
	for i, t := range e.Topics {
		if l.Topics[i], err = event.HexToHash(t); err != nil {
			return l, fmt.Errorf("topic %d: %w", i, err)
		}
	}
	if l.Data, err = hex.Decode(e.Data); err != nil {
		return l, fmt.Errorf("data: %w", err)
	}
	if strings.TrimSpace(e.BlockNumber) == "" {
		return l, errors.New("blockNumber: missing")
	}
	if l.BlockNumber, err = hex.ParseUint64(e.BlockNumber); err != nil {
		return l, fmt.Errorf("blockNumber: %w", err)
	}
	if l.TxHash, err = event.HexToHash(e.TransactionHash); err != nil {
		return l, fmt.Errorf("transactionHash: %w", err)
	}
	l.LogIndex = uint(pos)
	if strings.TrimSpace(e.LogIndex) != "" {
		idx, err := hex.ParseUint64(e.LogIndex)
		if err != nil {
			return l, fmt.Errorf("logIndex: %w", err)
		}
		l.LogIndex = uint(idx)
	}

	if ts, err := hex.ParseUint64(e.TimeStamp); err == nil && ts > 0 {
		l.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	return l, nil
}
