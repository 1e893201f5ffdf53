// Package geth provides a chain.Source backed by go-ethereum's ethclient.
// It accepts every endpoint ethclient can dial: http(s), ws(s) and IPC paths.
package geth

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/hedeqiang/tally/chain"
	ethsrc "github.com/hedeqiang/tally/chain/ethereum"
	"github.com/hedeqiang/tally/event"
	"github.com/hedeqiang/tally/filter"
)

// Client is a log source over ethclient.
type Client struct {
	id string
	ec *ethclient.Client
}

var (
	_ chain.Source = (*Client)(nil)
	_ chain.Caller = (*Client)(nil)
)

// Dial connects to rawURL.
func Dial(ctx context.Context, id, rawURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("geth: dial %s: %w", id, err)
	}
	return New(id, ec), nil
}

// New wraps an existing ethclient.
func New(id string, ec *ethclient.Client) *Client {
	return &Client{id: id, ec: ec}
}

// ID returns the source identifier.
func (c *Client) ID() string {
	return c.id
}

// Close closes the underlying RPC client.
func (c *Client) Close() error {
	c.ec.Close()
	return nil
}

// LatestBlock returns the latest block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, c.classify("eth_blockNumber", err)
	}
	return n, nil
}

// BlockTimestamp returns the timestamp of the given block. Only the
// timestamp field is decoded so chains with extended headers work too.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	op := fmt.Sprintf("eth_getBlockByNumber(%d)", number)

	var head *struct {
		Time hexutil.Uint64 `json:"timestamp"`
	}
	err := c.ec.Client().CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(number), false)
	if err != nil {
		return 0, c.classify(op, err)
	}
	if head == nil {
		return 0, chain.NewError(chain.KindUnknown, c.id, op, ethereum.NotFound)
	}
	return uint64(head.Time), nil
}

// FetchLogs retrieves logs matching the query.
func (c *Client) FetchLogs(ctx context.Context, query filter.Query) ([]event.Log, error) {
	op := "eth_getLogs"
	if w, ok := query.Window(); ok {
		op += w.String()
	}

	raw, err := c.ec.FilterLogs(ctx, toFilterQuery(query))
	if err != nil {
		return nil, c.classify(op, err)
	}

	logs := make([]event.Log, len(raw))
	for i, l := range raw {
		logs[i] = fromTypesLog(c.id, l)
	}
	return logs, nil
}

// Call executes eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to event.Address, data []byte) ([]byte, error) {
	addr := common.Address(to)
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, c.classify("eth_call", err)
	}
	return out, nil
}

func toFilterQuery(q filter.Query) ethereum.FilterQuery {
	fq := ethereum.FilterQuery{}
	if q.FromBlock != nil {
		fq.FromBlock = new(big.Int).SetUint64(*q.FromBlock)
	}
	if q.ToBlock != nil {
		fq.ToBlock = new(big.Int).SetUint64(*q.ToBlock)
	}
	for _, a := range q.Addresses {
		fq.Addresses = append(fq.Addresses, common.Address(a))
	}
	for _, ts := range q.Topics {
		pos := make([]common.Hash, len(ts))
		for i, h := range ts {
			pos[i] = common.Hash(h)
		}
		fq.Topics = append(fq.Topics, pos)
	}
	return fq
}

func fromTypesLog(source string, l types.Log) event.Log {
	topics := make([]event.Hash, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = event.Hash(t)
	}
	return event.Log{
		Source:      source,
		Address:     event.Address(l.Address),
		Topics:      topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		TxHash:      event.Hash(l.TxHash),
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}
}

func (c *Client) classify(op string, err error) error {
	return chain.NewError(kindOf(err), c.id, op, err)
}

func kindOf(err error) chain.Kind {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return ethsrc.KindOfRPC(rpcErr.ErrorCode(), rpcErr.Error())
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return ethsrc.KindOfStatus(httpErr.StatusCode)
	}
	return ethsrc.KindOf(err)
}
