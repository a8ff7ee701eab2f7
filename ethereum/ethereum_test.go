package ethereum_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/NethermindEth/stateshot/ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer serves a minimal JSON-RPC endpoint where handle returns the
// result for a method, or an error to be reported in the RPC error field.
func newRPCServer(t *testing.T, handle func(req *rpcRequest) (any, error)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		result, err := handle(&req)
		if err != nil {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32000,"message":%q}}`, req.ID, err.Error())
			return
		}
		resultJSON, merr := json.Marshal(result)
		require.NoError(t, merr)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, resultJSON)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, url string) *ethereum.Client {
	t.Helper()
	client, err := ethereum.DialWithContext(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client.WithMaxRetries(0).WithBackoff(ethereum.NopBackoff)
}

func TestStorageAt(t *testing.T) {
	contract := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	slot := common.HexToHash("0xabcd")
	want := common.HexToHash("0x7b") // 123

	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		require.Equal(t, "eth_getStorageAt", req.Method)
		require.Len(t, req.Params, 3)

		var gotContract, gotSlot, gotBlock string
		require.NoError(t, json.Unmarshal(req.Params[0], &gotContract))
		require.NoError(t, json.Unmarshal(req.Params[1], &gotSlot))
		require.NoError(t, json.Unmarshal(req.Params[2], &gotBlock))
		assert.Equal(t, contract, common.HexToAddress(gotContract))
		assert.Equal(t, slot, common.HexToHash(gotSlot))
		assert.Equal(t, "0x64", gotBlock) // pinned to block 100

		return want, nil
	})

	got, err := dial(t, srv.URL).StorageAt(context.Background(), contract, slot, 100)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStorageAtRPCError(t *testing.T) {
	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		return nil, fmt.Errorf("no state available")
	})

	_, err := dial(t, srv.URL).StorageAt(context.Background(), common.Address{}, common.Hash{}, 1)
	require.ErrorContains(t, err, "no state available")
}

func TestBlockNumber(t *testing.T) {
	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		require.Equal(t, "eth_blockNumber", req.Method)
		return "0x6b49d2", nil
	})

	got, err := dial(t, srv.URL).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x6b49d2), got)
}

func TestBlockHash(t *testing.T) {
	header := &types.Header{
		ParentHash: common.HexToHash("0x01"),
		Difficulty: big.NewInt(2),
		Number:     big.NewInt(6500000),
		GasLimit:   30_000_000,
		GasUsed:    21_000,
		Time:       1_700_000_000,
	}

	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		require.Equal(t, "eth_getBlockByNumber", req.Method)
		require.Len(t, req.Params, 2)
		var number string
		require.NoError(t, json.Unmarshal(req.Params[0], &number))
		assert.Equal(t, "0x632ea0", number)
		return header, nil
	})

	hash, err := dial(t, srv.URL).BlockHash(context.Background(), 6500000)
	require.NoError(t, err)
	assert.Equal(t, header.Hash(), hash)
}

func TestChainID(t *testing.T) {
	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		require.Equal(t, "eth_chainId", req.Method)
		return "0xaa36a7", nil
	})

	got, err := dial(t, srv.URL).ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(11155111), got.Uint64())
}

func TestRetry(t *testing.T) {
	var calls atomic.Int64
	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		if calls.Add(1) < 3 {
			return nil, fmt.Errorf("transient")
		}
		return "0x1", nil
	})

	client, err := ethereum.DialWithContext(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	client = client.WithMaxRetries(3).WithBackoff(ethereum.NopBackoff).WithMinWait(0).WithMaxWait(0)

	got, err := client.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		return nil, fmt.Errorf("permanent")
	})

	client, err := ethereum.DialWithContext(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	client = client.WithMaxRetries(2).WithBackoff(ethereum.NopBackoff).WithMinWait(0).WithMaxWait(0)

	_, err = client.BlockNumber(context.Background())
	require.ErrorContains(t, err, "permanent")
}

func TestCancelledContext(t *testing.T) {
	srv := newRPCServer(t, func(req *rpcRequest) (any, error) {
		return "0x1", nil
	})

	client, err := ethereum.DialWithContext(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.BlockNumber(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
