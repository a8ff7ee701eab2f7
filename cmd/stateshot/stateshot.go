package main

import (
	"fmt"
	"time"

	"github.com/NethermindEth/stateshot/ethereum"
	"github.com/NethermindEth/stateshot/extractor"
	"github.com/NethermindEth/stateshot/fetchcache"
	"github.com/NethermindEth/stateshot/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Version string

const greeting = `
      _        _            _           _
  ___| |_ __ _| |_ ___  ___| |__   ___ | |_
 / __| __/ _` + "`" + ` | __/ _ \/ __| '_ \ / _ \| __|
 \__ \ || (_| | ||  __/\__ \ | | | (_) | |_
 |___/\__\__,_|\__\___||___/_| |_|\___/ \__|

Stateshot extracts ERC-20 balance storage into unified binary tree state snapshots.

`

const (
	configF      = "config"
	logLevelF    = "log-level"
	colourF      = "colour"
	rpcURLF      = "rpc-url"
	contractF    = "contract"
	mappingSlotF = "mapping-slot"
	walletsF     = "wallets"
	walletFileF  = "wallet-file"
	outputDirF   = "output-dir"
	chainIDF     = "chain-id"
	blockNumberF = "block-number"
	workersF     = "workers"
	timeoutF     = "timeout"
	cacheDirF    = "cache-dir"

	defaultConfig      = ""
	defaultLogLevel    = utils.INFO
	defaultColour      = true
	defaultRPCURL      = ""
	defaultContract    = ""
	defaultMappingSlot = uint64(9)
	defaultWalletFile  = ""
	defaultOutputDir   = "."
	defaultChainID     = uint64(0)
	defaultBlockNumber = uint64(0)
	defaultWorkers     = uint(extractor.DefaultWorkers)
	defaultTimeout     = 30 * time.Second
	defaultCacheDir    = ""

	configFlagUsage   = "The yaml configuration file."
	logLevelFlagUsage = "Options: debug, info, warn, error."
	colourUsage       = "Use --colour=false command flag to disable colourized outputs (ANSI Escape Codes)."
	rpcURLUsage       = "The Ethereum JSON-RPC endpoint to fetch storage from."
	contractUsage     = "Address of the ERC-20 token contract."
	mappingSlotUsage  = "Storage slot of the contract's balance mapping."
	walletsUsage      = "Wallet addresses to extract, comma separated."
	walletFileUsage   = "File with one wallet address per line. '#' starts a comment."
	outputDirUsage    = "Directory the state file, stem index and wallet mapping are written to."
	chainIDUsage      = "Expected chain id. When non-zero the endpoint's chain id must match."
	blockNumberUsage  = "Block to pin every fetch to. 0 resolves the endpoint's latest block once."
	workersUsage      = "Number of concurrent storage fetches."
	timeoutUsage      = "Per-request timeout for RPC calls."
	cacheDirUsage     = "Directory for the fetch cache database. Empty disables caching."
)

var cfgFile string

func NewCmd() *cobra.Command {
	stateshotCmd := &cobra.Command{
		Use:     "stateshot [flags]",
		Short:   "Unified binary tree state snapshot extractor.",
		Version: Version,
	}
	stateshotCmd.AddCommand(ExtractCmd(), VerifyCmd())
	return stateshotCmd
}

func ExtractCmd() *cobra.Command {
	extractCmd := &cobra.Command{
		Use:   "extract [flags]",
		Short: "Fetch wallet balances and write a sorted state file with its stem index.",
		RunE:  extract,
	}

	logLevel := defaultLogLevel
	extractCmd.Flags().StringVar(&cfgFile, configF, defaultConfig, configFlagUsage)
	extractCmd.Flags().Var(&logLevel, logLevelF, logLevelFlagUsage)
	extractCmd.Flags().Bool(colourF, defaultColour, colourUsage)
	extractCmd.Flags().String(rpcURLF, defaultRPCURL, rpcURLUsage)
	extractCmd.Flags().String(contractF, defaultContract, contractUsage)
	extractCmd.Flags().Uint64(mappingSlotF, defaultMappingSlot, mappingSlotUsage)
	extractCmd.Flags().StringSlice(walletsF, nil, walletsUsage)
	extractCmd.Flags().String(walletFileF, defaultWalletFile, walletFileUsage)
	extractCmd.Flags().String(outputDirF, defaultOutputDir, outputDirUsage)
	extractCmd.Flags().Uint64(chainIDF, defaultChainID, chainIDUsage)
	extractCmd.Flags().Uint64(blockNumberF, defaultBlockNumber, blockNumberUsage)
	extractCmd.Flags().Uint(workersF, defaultWorkers, workersUsage)
	extractCmd.Flags().Duration(timeoutF, defaultTimeout, timeoutUsage)
	extractCmd.Flags().String(cacheDirF, defaultCacheDir, cacheDirUsage)

	return extractCmd
}

func extract(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg := new(extractor.Config)
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := utils.NewZapLogger(cfg.LogLevel, cfg.Colour)
	if err != nil {
		return err
	}

	if _, err = fmt.Fprint(cmd.OutOrStdout(), greeting); err != nil {
		return err
	}

	client, err := ethereum.DialWithContext(cmd.Context(), cfg.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()
	client.WithLogger(log)
	if cfg.Timeout > 0 {
		client.WithTimeout(cfg.Timeout)
	}

	ext := extractor.New(cfg, client, log)
	if cfg.CacheDir != "" {
		cache, cacheErr := fetchcache.New(cfg.CacheDir, log)
		if cacheErr != nil {
			return cacheErr
		}
		defer func() {
			if closeErr := cache.Close(); closeErr != nil {
				log.Warnw("Failed to close fetch cache", "err", closeErr)
			}
		}()
		ext.WithCache(cache)
	}

	summary, err := ext.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Wrote %d entries (%d stems) at block %d to %s\n"+
			"Stem index: %s\nWallet mapping: %s\n"+
			"Skipped %d zero balances, %d failed fetches, %d cache hits\n",
		summary.Entries, summary.Stems, summary.BlockNumber, summary.StatePath,
		summary.IndexPath, summary.MappingPath,
		summary.SkippedZero, summary.Failed, summary.CacheHits)
	return nil
}
