// Package ethereum wraps the JSON-RPC collaborator the snapshot pipeline
// fetches storage words from. Only two methods are consumed: eth_getStorageAt
// and eth_blockNumber (plus eth_chainId for a sanity cross-check).
package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/NethermindEth/stateshot/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

type Backoff func(wait time.Duration) time.Duration

func ExponentialBackoff(wait time.Duration) time.Duration {
	return wait * 2
}

func NopBackoff(d time.Duration) time.Duration {
	return 0
}

// Client wraps a geth RPC client. The endpoint is fixed at construction;
// there is no process-wide endpoint state.
type Client struct {
	client     *rpc.Client
	ethClient  *ethclient.Client
	log        utils.SimpleLogger
	timeout    time.Duration
	maxRetries int
	minWait    time.Duration
	maxWait    time.Duration
	backoff    Backoff
}

// DialWithContext connects to the endpoint. The connection is lazy for HTTP
// endpoints, so a bad URL surfaces on the first call rather than here.
func DialWithContext(ctx context.Context, url string) (*Client, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial Ethereum client: %w", err)
	}

	return &Client{
		client:     client,
		ethClient:  ethclient.NewClient(client),
		log:        utils.NewNopLogger(),
		timeout:    30 * time.Second,
		maxRetries: 3,
		minWait:    500 * time.Millisecond,
		maxWait:    4 * time.Second,
		backoff:    ExponentialBackoff,
	}, nil
}

func (c *Client) WithLogger(log utils.SimpleLogger) *Client {
	c.log = log
	return c
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

func (c *Client) WithMaxRetries(num int) *Client {
	c.maxRetries = num
	return c
}

func (c *Client) WithBackoff(b Backoff) *Client {
	c.backoff = b
	return c
}

func (c *Client) WithMinWait(d time.Duration) *Client {
	c.minWait = d
	return c
}

func (c *Client) WithMaxWait(d time.Duration) *Client {
	c.maxWait = d
	return c
}

// StorageAt fetches the raw 32-byte storage word of the contract at the given
// slot, pinned to blockNumber.
func (c *Client) StorageAt(ctx context.Context, contract common.Address, slot common.Hash, blockNumber uint64) (common.Hash, error) {
	var value common.Hash
	err := c.retry(ctx, func(ctx context.Context) error {
		raw, err := c.ethClient.StorageAt(ctx, contract, slot, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		value = common.BytesToHash(raw)
		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("get storage at %s slot %s: %w", contract, slot, err)
	}
	return value, nil
}

// BlockNumber returns the endpoint's latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.retry(ctx, func(ctx context.Context) error {
		n, err := c.ethClient.BlockNumber(ctx)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return number, nil
}

// BlockHash returns the hash of the block at the given height.
func (c *Client) BlockHash(ctx context.Context, blockNumber uint64) (common.Hash, error) {
	var hash common.Hash
	err := c.retry(ctx, func(ctx context.Context) error {
		header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return err
		}
		hash = header.Hash()
		return nil
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("get block %d hash: %w", blockNumber, err)
	}
	return hash, nil
}

// ChainID returns the endpoint's chain identifier, used to cross-check the
// configured chain id before fetching anything.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.retry(ctx, func(ctx context.Context) error {
		got, err := c.ethClient.ChainID(ctx)
		if err != nil {
			return err
		}
		id = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	return id, nil
}

// retry runs call with a per-attempt timeout, backing off between attempts.
func (c *Client) retry(ctx context.Context, call func(context.Context) error) error {
	var err error
	wait := time.Duration(0)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = call(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		if wait < c.minWait {
			wait = c.minWait
		} else {
			wait = c.backoff(wait)
			if wait > c.maxWait {
				wait = c.maxWait
			}
		}
		c.log.Debugw("RPC call failed, retrying", "attempt", attempt, "wait", wait, "err", err)
	}
	return err
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.client.Close()
	c.ethClient.Close()
}
