// Package extractor drives one end-to-end extraction: fetch the storage
// words for the configured wallets at a pinned block, derive their unified
// binary tree coordinates and write the sorted state file with its stem
// index alongside.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/NethermindEth/stateshot/core"
	"github.com/NethermindEth/stateshot/fetchcache"
	"github.com/NethermindEth/stateshot/statefile"
	"github.com/NethermindEth/stateshot/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/conc/pool"
)

const (
	StateFileName     = "state.bin"
	StemIndexFileName = "stem-index.bin"
	WalletMappingName = "wallet-mapping.json"
)

// StorageFetcher is the slice of the ethereum client the pipeline needs.
type StorageFetcher interface {
	StorageAt(ctx context.Context, contract common.Address, slot common.Hash, blockNumber uint64) (common.Hash, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, blockNumber uint64) (common.Hash, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Summary reports what one run produced.
type Summary struct {
	BlockNumber uint64
	BlockHash   common.Hash
	ChainID     uint64
	Wallets     int
	Entries     int
	Stems       int
	SkippedZero int
	Failed      int
	CacheHits   int
	StatePath   string
	IndexPath   string
	MappingPath string
}

type Extractor struct {
	cfg    *Config
	client StorageFetcher
	cache  *fetchcache.Cache
	log    utils.SimpleLogger
}

func New(cfg *Config, client StorageFetcher, log utils.SimpleLogger) *Extractor {
	return &Extractor{
		cfg:    cfg,
		client: client,
		log:    log,
	}
}

// WithCache attaches a fetch cache. Without one every value is fetched
// over RPC.
func (e *Extractor) WithCache(cache *fetchcache.Cache) *Extractor {
	e.cache = cache
	return e
}

type fetchResult struct {
	value common.Hash
	hit   bool
	err   error
}

// Run executes the pipeline. Wallets that fail to fetch are logged and
// skipped; if no wallet yields a non-zero value it returns
// statefile.ErrNoEntries and writes nothing.
func (e *Extractor) Run(ctx context.Context) (*Summary, error) {
	contract, err := core.ParseContract(e.cfg.Contract)
	if err != nil {
		return nil, err
	}

	walletStrs, err := e.cfg.WalletList()
	if err != nil {
		return nil, err
	}
	wallets := make([]common.Address, len(walletStrs))
	for i, s := range walletStrs {
		if wallets[i], err = core.ParseWallet(s); err != nil {
			return nil, err
		}
	}

	chainID, err := e.checkChainID(ctx)
	if err != nil {
		return nil, err
	}

	blockNumber := e.cfg.BlockNumber
	if blockNumber == 0 {
		if blockNumber, err = e.client.BlockNumber(ctx); err != nil {
			return nil, err
		}
	}
	blockHash, err := e.client.BlockHash(ctx, blockNumber)
	if err != nil {
		return nil, err
	}
	e.log.Infow("Extracting storage", "contract", contract, "wallets", len(wallets),
		"block", blockNumber, "chainID", chainID)

	results := make([]fetchResult, len(wallets))
	workers := int(e.cfg.Workers)
	if workers < 1 {
		workers = DefaultWorkers
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i, wallet := range wallets {
		i, wallet := i, wallet
		p.Go(func() {
			results[i] = e.fetchOne(ctx, contract, wallet, blockNumber)
		})
	}
	p.Wait()

	summary := &Summary{
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		ChainID:     chainID,
		Wallets:     len(wallets),
	}
	entries := make([]core.StorageEntry, 0, len(wallets))
	for i, res := range results {
		progress := fmt.Sprintf("%d/%d", i+1, len(wallets))
		switch {
		case res.err != nil:
			e.log.Warnw("Skipping wallet, fetch failed", "wallet", wallets[i],
				"progress", progress, "err", res.err)
			summary.Failed++
		case res.value == (common.Hash{}):
			e.log.Infow("Skipping wallet, zero balance", "wallet", wallets[i],
				"progress", progress)
			summary.SkippedZero++
		default:
			if res.hit {
				summary.CacheHits++
			}
			e.log.Infow("Wallet processed", "wallet", wallets[i],
				"progress", progress, "value", res.value)
			entries = append(entries, core.NewStorageEntry(contract, wallets[i], e.cfg.MappingSlot, res.value))
		}
	}
	if len(entries) == 0 {
		return nil, statefile.ErrNoEntries
	}
	core.SortEntries(entries)

	if err = os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	summary.StatePath = filepath.Join(e.cfg.OutputDir, StateFileName)
	if err = statefile.Write(summary.StatePath, entries, blockNumber, chainID, blockHash); err != nil {
		return nil, err
	}

	index := statefile.BuildStemIndex(entries)
	summary.IndexPath = filepath.Join(e.cfg.OutputDir, StemIndexFileName)
	if err = statefile.WriteStemIndex(summary.IndexPath, index); err != nil {
		return nil, err
	}

	summary.MappingPath = filepath.Join(e.cfg.OutputDir, WalletMappingName)
	if err = e.writeWalletMapping(summary.MappingPath, contract, blockNumber, entries); err != nil {
		return nil, err
	}

	summary.Entries = len(entries)
	summary.Stems = index.Len()
	e.log.Infow("Extraction complete", "entries", summary.Entries, "stems", summary.Stems,
		"skippedZero", summary.SkippedZero, "failed", summary.Failed)
	return summary, nil
}

// checkChainID cross-checks the configured chain id against the endpoint
// before anything is fetched.
func (e *Extractor) checkChainID(ctx context.Context) (uint64, error) {
	remote, err := e.client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !remote.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", remote)
	}
	chainID := remote.Uint64()
	if e.cfg.ChainID != 0 && e.cfg.ChainID != chainID {
		return 0, fmt.Errorf("chain id mismatch: configured %d, endpoint reports %d", e.cfg.ChainID, chainID)
	}
	return chainID, nil
}

func (e *Extractor) fetchOne(ctx context.Context, contract, wallet common.Address, blockNumber uint64) fetchResult {
	slot := core.BalanceSlot(wallet, e.cfg.MappingSlot)
	if e.cache != nil {
		if value, ok := e.cache.Get(contract, slot, blockNumber); ok {
			return fetchResult{value: value, hit: true}
		}
	}
	value, err := e.client.StorageAt(ctx, contract, slot, blockNumber)
	if err != nil {
		return fetchResult{err: err}
	}
	if e.cache != nil {
		e.cache.Put(contract, slot, blockNumber, value)
	}
	e.log.Debugw("Fetched storage", "wallet", wallet, "slot", slot, "value", value)
	return fetchResult{value: value}
}

type walletMapping struct {
	BlockNumber uint64            `json:"blockNumber"`
	Contract    common.Address    `json:"contract"`
	MappingSlot uint64            `json:"mappingSlot"`
	EntryCount  int               `json:"entryCount"`
	Wallets     map[string]uint64 `json:"wallets"`
}

// writeWalletMapping records where each wallet's entry landed in the sorted
// state file, a debugging aid for querying tools.
func (e *Extractor) writeWalletMapping(path string, contract common.Address, blockNumber uint64, entries []core.StorageEntry) error {
	mapping := walletMapping{
		BlockNumber: blockNumber,
		Contract:    contract,
		MappingSlot: e.cfg.MappingSlot,
		EntryCount:  len(entries),
		Wallets:     make(map[string]uint64, len(entries)),
	}
	for i, entry := range entries {
		mapping.Wallets[entry.Wallet.Hex()] = uint64(i)
	}
	data, err := json.MarshalIndent(&mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("encode wallet mapping: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
