// Package ethereum provides a chain.Source over the in-repo JSON-RPC
// transports. It serves every EVM-compatible network.
package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hedeqiang/tally/chain"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/filter"
	"github.com/hedeqiang/tally/internal/hex"
	"github.com/hedeqiang/tally/transport"
)

// Client is an EVM JSON-RPC log source.
type Client struct {
	id        string
	transport transport.Transport
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger malformed logs are reported on.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

var (
	_ chain.Source = (*Client)(nil)
	_ chain.Caller = (*Client)(nil)
)

// New creates an Ethereum client with the given RPC endpoint.
func New(rpcURL string) *Client {
	return NewWithID("ethereum", rpcURL)
}

// NewWithID creates a client with a custom source ID, for EVM-compatible
// networks (Polygon, BSC, ...). ws:// and wss:// URLs use the WebSocket transport.
func NewWithID(id, rpcURL string, opts ...Option) *Client {
	var t transport.Transport
	if strings.HasPrefix(rpcURL, "ws://") || strings.HasPrefix(rpcURL, "wss://") {
		t = transport.NewWebSocket(rpcURL)
	} else {
		t = transport.NewHTTP(rpcURL)
	}
	return NewWithTransport(id, t, opts...)
}

// NewWithTransport creates a client with a custom transport.
func NewWithTransport(id string, t transport.Transport, opts ...Option) *Client {
	c := &Client{
		id:        id,
		transport: t,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the source identifier.
func (c *Client) ID() string {
	return c.id
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// LatestBlock returns the latest block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	result, err := c.transport.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, classify(c.id, "eth_blockNumber", err)
	}

	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return 0, chain.NewError(chain.KindUnknown, c.id, "eth_blockNumber", err)
	}
	n, err := hex.ParseUint64(s)
	if err != nil {
		return 0, chain.NewError(chain.KindUnknown, c.id, "eth_blockNumber", err)
	}
	return n, nil
}

// BlockTimestamp returns the timestamp of the given block.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	op := fmt.Sprintf("eth_getBlockByNumber(%d)", number)
	result, err := c.transport.Call(ctx, "eth_getBlockByNumber", hex.EncodeUint64(number), false)
	if err != nil {
		return 0, classify(c.id, op, err)
	}

	var header *struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &header); err != nil {
		return 0, chain.NewError(chain.KindUnknown, c.id, op, err)
	}
	if header == nil {
		return 0, chain.NewError(chain.KindUnknown, c.id, op, fmt.Errorf("block not found"))
	}
	ts, err := hex.ParseUint64(header.Timestamp)
	if err != nil {
		return 0, chain.NewError(chain.KindUnknown, c.id, op, err)
	}
	return ts, nil
}

// FetchLogs retrieves logs matching the query. A log the node returns in a
// shape that cannot be converted is skipped and reported, not fatal to the
// window.
func (c *Client) FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error) {
	op := "eth_getLogs"
	if w, ok := query.Window(); ok {
		op = "eth_getLogs" + w.String()
	}

	result, err := c.transport.Call(ctx, "eth_getLogs", buildFilterParams(query))
	if err != nil {
		return nil, classify(c.id, op, err)
	}

	var rawLogs []rpcLog
	if err := json.Unmarshal(result, &rawLogs); err != nil {
		return nil, chain.NewError(chain.KindUnknown, c.id, op, fmt.Errorf("parse logs: %w", err))
	}

	logs := make([]event.Log, 0, len(rawLogs))
	for i, rl := range rawLogs {
		l, err := rl.toEventLog(c.id)
		if err != nil {
			c.log.Warn("skipping malformed log",
				zap.Int("index", i),
				zap.Error(chain.NewError(chain.KindDecode, c.id, op, err)))
			continue
		}
		logs = append(logs, l)
	}

	return logs, nil
}

// Call executes eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to event.Address, data []byte) ([]byte, error) {
	msg := map[string]string{
		"to":   to.Hex(),
		"data": hex.Encode(data),
	}
	result, err := c.transport.Call(ctx, "eth_call", msg, "latest")
	if err != nil {
		return nil, classify(c.id, "eth_call", err)
	}

	var s string
	if err := json.Unmarshal(result, &s); err != nil {
		return nil, chain.NewError(chain.KindUnknown, c.id, "eth_call", err)
	}
	out, err := hex.Decode(s)
	if err != nil {
		return nil, chain.NewError(chain.KindUnknown, c.id, "eth_call", err)
	}
	return out, nil
}

// buildFilterParams converts a Query into the JSON-RPC filter object.
func buildFilterParams(query filter.Query) map[string]interface{} {
	params := make(map[string]interface{})

	if query.FromBlock != nil {
		params["fromBlock"] = hex.EncodeUint64(*query.FromBlock)
	}
	if query.ToBlock != nil {
		params["toBlock"] = hex.EncodeUint64(*query.ToBlock)
	}

	if len(query.Addresses) == 1 {
		params["address"] = query.Addresses[0].Hex()
	} else if len(query.Addresses) > 1 {
		addrs := make([]string, len(query.Addresses))
		for i, a := range query.Addresses {
			addrs[i] = a.Hex()
		}
		params["address"] = addrs
	}

	if len(query.Topics) > 0 {
		topics := make([]interface{}, len(query.Topics))
		for i, ts := range query.Topics {
			switch len(ts) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = ts[0].Hex()
			default:
				hashes := make([]string, len(ts))
				for j, h := range ts {
					hashes[j] = h.Hex()
				}
				topics[i] = hashes
			}
		}
		params["topics"] = topics
	}

	return params
}

// rpcLog is the JSON-RPC representation of a log.
type rpcLog struct {
	Address        string   `json:"address"`
	Topics         []string `json:"topics"`
	Data           string   `json:"data"`
	BlockNumber    string   `json:"blockNumber"`
	TxHash         string   `json:"transactionHash"`
	LogIndex       string   `json:"logIndex"`
	Removed        bool     `json:"removed"`
	BlockTimestamp string   `json:"blockTimestamp"`
}

func (rl *rpcLog) toEventLog(source string) (event.Log, error) {
	log := event.Log{Source: source, Removed: rl.Removed}

	addr, err := event.HexToAddress(rl.Address)
	if err != nil {
		return log, fmt.Errorf("parse address: %w", err)
	}
	log.Address = addr

	log.Topics = make([]event.Hash, len(rl.Topics))
	for i, t := range rl.Topics {
		if log.Topics[i], err = event.HexToHash(t); err != nil {
			return log, fmt.Errorf("parse topic %d: %w", i, err)
		}
	}

	if rl.Data != "" && rl.Data != "0x" {
		if log.Data, err = hex.Decode(rl.Data); err != nil {
			return log, fmt.Errorf("parse data: %w", err)
		}
	}

	if log.BlockNumber, err = hex.ParseUint64(rl.BlockNumber); err != nil {
		return log, fmt.Errorf("parse blockNumber: %w", err)
	}

	if rl.TxHash != "" {
		if log.TxHash, err = event.HexToHash(rl.TxHash); err != nil {
			return log, fmt.Errorf("parse txHash: %w", err)
		}
	}

	idx, err := hex.ParseUint64(rl.LogIndex)
	if err != nil {
		return log, fmt.Errorf("parse logIndex: %w", err)
	}
	log.LogIndex = uint(idx)

	// Some nodes attach the block time to each log.
	if rl.BlockTimestamp != "" {
		ts, err := hex.ParseUint64(rl.BlockTimestamp)
		if err == nil && ts > 0 {
			log.Timestamp = time.Unix(int64(ts), 0).UTC()
		}
	}

	return log, nil
}
