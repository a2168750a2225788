package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"transferScope/internal/metrics"
	"transferScope/internal/model"
)

// Client wraps go-ethereum RPC and serves Transfer events of a single token.
type Client struct {
	rpcURL        string
	token         common.Address
	transferTopic common.Hash
	logger        *zap.Logger
	metrics       *metrics.Metrics

	mu        sync.RWMutex
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// Option configures the Client.
type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient dials rpcURL. Live subscriptions need a websocket or IPC endpoint.
func NewClient(ctx context.Context, rpcURL string, token common.Address, opts ...Option) (*Client, error) {
	topic, err := TransferTopic()
	if err != nil {
		return nil, fmt.Errorf("parse transfer abi: %w", err)
	}

	c := &Client{
		rpcURL:        rpcURL,
		token:         token,
		transferTopic: topic,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) dial(ctx context.Context) error {
	rpcClient, err := rpc.DialContext(ctx, c.rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}

	c.mu.Lock()
	old := c.rpcClient
	c.rpcClient = rpcClient
	c.ethClient = ethclient.NewClient(rpcClient)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Reconnect replaces the underlying connection. Subscriptions on the old
// connection terminate with an error.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.dial(ctx)
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

func (c *Client) eth() *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ethClient
}

// CurrentHeight returns the latest block number.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := c.eth().BlockNumber(ctx)
	c.metrics.RecordRPCCall("eth_blockNumber", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return height, nil
}

func (c *Client) filterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.token},
		Topics:    [][]common.Hash{{c.transferTopic}},
	}
}

// QueryRange returns Transfer events in [from, to], ordered by block and log index.
func (c *Client) QueryRange(ctx context.Context, from, to uint64) ([]model.RawEvent, error) {
	query := c.filterQuery()
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(to)

	start := time.Now()
	logs, err := c.eth().FilterLogs(ctx, query)
	c.metrics.RecordRPCCall("eth_getLogs", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	events := make([]model.RawEvent, 0, len(logs))
	for _, log := range logs {
		ev, ok := c.convert(log)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Subscribe streams new Transfer events into out. The returned subscription
// ends with an error when the underlying connection fails, and cleanly on
// Unsubscribe. Sends to out block, so a slow consumer stalls the forwarder
// and eventually overflows the RPC client's queue, which ends the subscription.
func (c *Client) Subscribe(ctx context.Context, out chan<- model.RawEvent) (event.Subscription, error) {
	logs := make(chan types.Log, cap(out))

	start := time.Now()
	sub, err := c.eth().SubscribeFilterLogs(ctx, c.filterQuery(), logs)
	c.metrics.RecordRPCCall("eth_subscribe", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case <-quit:
				return nil
			case err := <-sub.Err():
				if err == nil {
					err = fmt.Errorf("log subscription closed")
				}
				return err
			case log := <-logs:
				ev, ok := c.convert(log)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (c *Client) convert(log types.Log) (model.RawEvent, bool) {
	if log.Removed {
		c.metrics.IncRemovedLog()
		c.logger.Warn("dropping removed log",
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("block", log.BlockNumber),
			zap.Uint("log_index", log.Index),
		)
		return model.RawEvent{}, false
	}
	ev, err := DecodeTransfer(log)
	if err != nil {
		c.logger.Warn("skipping undecodable log",
			zap.Error(err),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint64("block", log.BlockNumber),
		)
		return model.RawEvent{}, false
	}
	return ev, true
}
