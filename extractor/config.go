package extractor

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NethermindEth/stateshot/utils"
	"github.com/NethermindEth/stateshot/validator"
)

const DefaultWorkers = 8

// Config collects everything one extraction run needs. Field names map onto
// CLI flags and YAML config keys through mapstructure.
type Config struct {
	RPCURL      string         `mapstructure:"rpc-url" validate:"required,url"`
	Contract    string         `mapstructure:"contract" validate:"required,eth_address"`
	MappingSlot uint64         `mapstructure:"mapping-slot"`
	Wallets     []string       `mapstructure:"wallets" validate:"dive,eth_address"`
	WalletFile  string         `mapstructure:"wallet-file"`
	OutputDir   string         `mapstructure:"output-dir" validate:"required"`
	ChainID     uint64         `mapstructure:"chain-id"`
	BlockNumber uint64         `mapstructure:"block-number"`
	Workers     uint           `mapstructure:"workers" validate:"min=1"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	CacheDir    string         `mapstructure:"cache-dir"`
	LogLevel    utils.LogLevel `mapstructure:"log-level"`
	Colour      bool           `mapstructure:"colour"`
}

func (c *Config) Validate() error {
	if err := validator.Validator().Struct(c); err != nil {
		return err
	}
	if len(c.Wallets) == 0 && c.WalletFile == "" {
		return fmt.Errorf("no wallets: provide --wallets or --wallet-file")
	}
	return nil
}

// WalletList merges the inline wallet list with the wallet file, preserving
// order and dropping duplicates. Wallet files hold one address per line with
// '#' starting a comment.
func (c *Config) WalletList() ([]string, error) {
	wallets := make([]string, 0, len(c.Wallets))
	seen := make(map[string]struct{}, len(c.Wallets))
	add := func(w string) {
		key := strings.ToLower(strings.TrimPrefix(w, "0x"))
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		wallets = append(wallets, w)
	}
	for _, w := range c.Wallets {
		add(w)
	}

	if c.WalletFile != "" {
		f, err := os.Open(c.WalletFile)
		if err != nil {
			return nil, fmt.Errorf("open wallet file: %w", err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			if line = strings.TrimSpace(line); line != "" {
				add(line)
			}
		}
		if err = scanner.Err(); err != nil {
			return nil, fmt.Errorf("read wallet file: %w", err)
		}
	}
	return wallets, nil
}
