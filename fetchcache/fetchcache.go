// Package fetchcache persists fetched storage values across runs.
//
// Storage at a finalised block never changes, so a value fetched once for a
// given (contract, slot, block) triple can be reused by later extractions
// against the same block. The cache is strictly an optimisation: every
// failure on the read or write path degrades to a miss and the value is
// refetched over RPC.
package fetchcache

import (
	"errors"

	"github.com/NethermindEth/stateshot/encoder"
	"github.com/NethermindEth/stateshot/utils"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
)

const keySize = 20 + 32 + 8

type cachedValue struct {
	Value [32]byte `cbor:"value"`
}

// Cache is a pebble-backed store of storage values keyed by
// contract address, slot hash and block number.
type Cache struct {
	pebble *pebble.DB
	log    utils.SimpleLogger
}

// New opens (or creates) a cache at the given path.
func New(path string, log utils.Logger) (*Cache, error) {
	pDB, err := pebble.Open(path, &pebble.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	return &Cache{pebble: pDB, log: log}, nil
}

// NewMem opens an in-memory cache, used in tests.
func NewMem(log utils.Logger) (*Cache, error) {
	pDB, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem(), Logger: log})
	if err != nil {
		return nil, err
	}
	return &Cache{pebble: pDB, log: log}, nil
}

func cacheKey(contract common.Address, slot common.Hash, blockNumber uint64) []byte {
	key := make([]byte, 0, keySize)
	key = append(key, contract.Bytes()...)
	key = append(key, slot.Bytes()...)
	for shift := 56; shift >= 0; shift -= 8 {
		key = append(key, byte(blockNumber>>shift))
	}
	return key
}

// Get returns the cached value for the triple and whether it was present.
// Corrupt or unreadable entries are reported as misses.
func (c *Cache) Get(contract common.Address, slot common.Hash, blockNumber uint64) (common.Hash, bool) {
	data, closer, err := c.pebble.Get(cacheKey(contract, slot, blockNumber))
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			c.log.Warnw("Cache read failed", "slot", slot, "err", err)
		}
		return common.Hash{}, false
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			c.log.Warnw("Cache value close failed", "err", closeErr)
		}
	}()

	var cached cachedValue
	if err = encoder.Unmarshal(data, &cached); err != nil {
		c.log.Warnw("Cache entry corrupt, treating as miss", "slot", slot, "err", err)
		return common.Hash{}, false
	}
	return cached.Value, true
}

// Put stores a fetched value. Failures are logged and swallowed since the
// value can always be refetched.
func (c *Cache) Put(contract common.Address, slot common.Hash, blockNumber uint64, value common.Hash) {
	data, err := encoder.Marshal(cachedValue{Value: value})
	if err != nil {
		c.log.Warnw("Cache encode failed", "slot", slot, "err", err)
		return
	}
	if err = c.pebble.Set(cacheKey(contract, slot, blockNumber), data, pebble.Sync); err != nil {
		c.log.Warnw("Cache write failed", "slot", slot, "err", err)
	}
}

func (c *Cache) Close() error {
	return c.pebble.Close()
}
