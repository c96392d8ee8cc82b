// Package chain wraps the EVM JSON-RPC providers behind a retrying client
// with classified errors. One client is shared by every monitor; a second
// websocket connection, when configured, feeds new-head subscriptions.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pumpwatch/pumpwatch/internal/config"
	"github.com/pumpwatch/pumpwatch/internal/metrics"
)

const (
	backoffBase     = time.Second
	backoffCap      = 30 * time.Second
	reconnectMax    = 10
	headerCacheSize = 8192
)

// Client is the shared chain access layer. All methods apply the per-call
// timeout and classify failures; retryable kinds are retried in place.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client

	wsEth *ethclient.Client
	wsRPC *rpc.Client

	timeout  time.Duration
	attempts int
	log      *zap.Logger
	metrics  *metrics.Metrics

	headTimes *lru.Cache[uint64, int64]
}

// Dial connects the polling endpoint and, when ws_url is set, the streaming
// endpoint. The streaming endpoint is optional; its absence only disables
// head subscriptions.
func Dial(ctx context.Context, cfg config.ChainConfig, log *zap.Logger, m *metrics.Metrics) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}
	c := &Client{
		eth:      ethclient.NewClient(rpcClient),
		rpc:      rpcClient,
		timeout:  cfg.RPCTimeout,
		attempts: cfg.RetryAttempts,
		log:      log.Named("chain"),
		metrics:  m,
	}
	c.headTimes, _ = lru.New[uint64, int64](headerCacheSize)

	if cfg.WSURL != "" {
		wsClient, err := rpc.DialContext(ctx, cfg.WSURL)
		if err != nil {
			// Streaming is an optimisation; start degraded instead of failing.
			c.log.Warn("streaming endpoint unavailable, polling only",
				zap.String("ws_url", cfg.WSURL), zap.Error(err))
		} else {
			c.wsRPC = wsClient
			c.wsEth = ethclient.NewClient(wsClient)
		}
	}
	return c, nil
}

// Close tears down both connections.
func (c *Client) Close() {
	c.rpc.Close()
	if c.wsRPC != nil {
		c.wsRPC.Close()
	}
}

// SupportsStreaming reports whether a websocket endpoint was dialed.
func (c *Client) SupportsStreaming() bool { return c.wsRPC != nil }

// newBackoff builds the shared retry policy: exponential from 1s, factor 2,
// capped at 30s, fully jittered.
func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoffBase
	b.Multiplier = 2
	b.MaxInterval = backoffCap
	b.RandomizationFactor = 1
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts)), ctx)
}

// withRetry runs op under the retry policy, retrying only kinds that are
// safe to retry in place.
func (c *Client) withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		err = classified(err)
		kind := KindOf(err)
		if c.metrics != nil {
			c.metrics.RPCErrors.WithLabelValues(kind.String()).Inc()
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logf := c.log.Debug
		if kind == KindRateLimited {
			logf = c.log.Warn
		}
		logf("rpc retry", zap.String("op", name), zap.String("kind", kind.String()), zap.Error(err))
		return err
	}, c.newBackoff(ctx))
}

// HeadBlock returns the current chain head number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.withRetry(ctx, "eth_blockNumber", func(ctx context.Context) error {
		n, err := c.eth.BlockNumber(ctx)
		if err != nil {
			return err
		}
		head = n
		return nil
	})
	return head, err
}

// Logs fetches logs for [from, to] with the given address and topic filter.
// RangeTooLarge is returned unretried; the caller bisects.
func (c *Client) Logs(ctx context.Context, from, to uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addresses,
		Topics:    topics,
	}
	var logs []types.Log
	err := c.withRetry(ctx, "eth_getLogs", func(ctx context.Context) error {
		got, err := c.eth.FilterLogs(ctx, q)
		if err != nil {
			return err
		}
		logs = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get logs [%d,%d]: %w", from, to, err)
	}
	return logs, nil
}

// Call performs eth_call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.CallFrom(ctx, common.Address{}, to, data)
}

// CallFrom performs eth_call with an explicit sender, used by the honeypot
// transfer simulation. Reverts come back as KindRevert without retries.
func (c *Client) CallFrom(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	var out []byte
	err := c.withRetry(ctx, "eth_call", func(ctx context.Context) error {
		res, err := c.eth.CallContract(ctx, msg, nil)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// Receipt fetches a transaction receipt, used for gas accounting on trades.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var rcpt *types.Receipt
	err := c.withRetry(ctx, "eth_getTransactionReceipt", func(ctx context.Context) error {
		r, err := c.eth.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		rcpt = r
		return nil
	})
	return rcpt, err
}

// BlockTime returns a block's timestamp, caching headers since every log in
// a block shares one.
func (c *Client) BlockTime(ctx context.Context, number uint64) (int64, error) {
	if ts, ok := c.headTimes.Get(number); ok {
		return ts, nil
	}
	var ts int64
	err := c.withRetry(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		h, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		ts = int64(h.Time)
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.headTimes.Add(number, ts)
	return ts, nil
}

// SubscribeHeads streams confirmed-able head numbers. The goroutine
// reconnects with exponential backoff up to reconnectMax attempts; when it
// gives up it emits one terminal error and closes both channels, at which
// point the monitor degrades to polling.
func (c *Client) SubscribeHeads(ctx context.Context) (<-chan uint64, <-chan error, error) {
	if c.wsEth == nil {
		return nil, nil, WrapKind(KindFatal, fmt.Errorf("no streaming endpoint configured"))
	}
	heads := make(chan uint64, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(heads)
		defer close(errs)

		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}
			in := make(chan *types.Header, 64)
			sub, err := c.wsEth.SubscribeNewHead(ctx, in)
			if err != nil {
				attempt++
				if attempt > reconnectMax {
					errs <- WrapKind(KindFatal, fmt.Errorf("subscribe newHeads: attempts exhausted: %w", err))
					return
				}
				delay := backoffDelay(attempt)
				c.log.Warn("newHeads subscribe failed, retrying",
					zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			attempt = 0
			c.log.Info("newHeads subscription established")

		recv:
			for {
				select {
				case <-ctx.Done():
					sub.Unsubscribe()
					return
				case err := <-sub.Err():
					sub.Unsubscribe()
					c.log.Warn("newHeads subscription dropped", zap.Error(err))
					select {
					case errs <- WrapKind(KindTransient, fmt.Errorf("newHeads dropped: %w", err)):
					default:
					}
					break recv
				case h := <-in:
					if h == nil {
						continue
					}
					c.headTimes.Add(h.Number.Uint64(), int64(h.Time))
					select {
					case heads <- h.Number.Uint64():
					default:
						// Monitor is behind; it will catch up from its
						// cursor, dropping the notification is safe.
					}
				}
			}
		}
	}()
	return heads, errs, nil
}

// backoffDelay is the reconnect schedule: 1s, 2s, 4s... capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << uint(attempt-1)
	if d > backoffCap || d <= 0 {
		return backoffCap
	}
	return d
}
