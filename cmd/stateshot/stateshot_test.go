package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/NethermindEth/stateshot/core"
	"github.com/NethermindEth/stateshot/extractor"
	"github.com/NethermindEth/stateshot/statefile"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSnapshot(t *testing.T, dir string) {
	t.Helper()
	contract := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	entries := make([]core.StorageEntry, 0, 4)
	for i := byte(1); i <= 4; i++ {
		entries = append(entries, core.NewStorageEntry(contract,
			common.BytesToAddress([]byte{i}), 9, common.BytesToHash([]byte{i, 0x64})))
	}
	core.SortEntries(entries)

	statePath := filepath.Join(dir, extractor.StateFileName)
	require.NoError(t, statefile.Write(statePath, entries, 6500000, 11155111, common.HexToHash("0xfeed")))
	indexPath := filepath.Join(dir, extractor.StemIndexFileName)
	require.NoError(t, statefile.WriteStemIndex(indexPath, statefile.BuildStemIndex(entries)))
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir)

	output, err := executeCmd(t, "verify", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, output, "OK")
	assert.Contains(t, output, "6500000")
	assert.Contains(t, output, "11155111")
}

func TestVerifyExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir)

	_, err := executeCmd(t, "verify",
		"--state-file", filepath.Join(dir, extractor.StateFileName),
		"--index-file", filepath.Join(dir, extractor.StemIndexFileName))
	require.NoError(t, err)
}

func TestVerifyMissingFiles(t *testing.T) {
	_, err := executeCmd(t, "verify", "--dir", t.TempDir())
	require.Error(t, err)
}

func TestVerifyCorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir)

	statePath := filepath.Join(dir, extractor.StateFileName)
	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	data[0] = 'X' // break the magic
	require.NoError(t, os.WriteFile(statePath, data, 0o644))

	_, err = executeCmd(t, "verify", "--dir", dir)
	require.ErrorIs(t, err, statefile.ErrInvalidMagic)
}

func TestVerifyStaleIndex(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir)

	// Regenerate the state file with an extra wallet but keep the old index.
	staleIndex := filepath.Join(dir, extractor.StemIndexFileName)
	indexData, err := os.ReadFile(staleIndex)
	require.NoError(t, err)

	contract := common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238")
	entries := make([]core.StorageEntry, 0, 5)
	for i := byte(1); i <= 5; i++ {
		entries = append(entries, core.NewStorageEntry(contract,
			common.BytesToAddress([]byte{i}), 9, common.BytesToHash([]byte{i})))
	}
	core.SortEntries(entries)
	require.NoError(t, statefile.Write(filepath.Join(dir, extractor.StateFileName),
		entries, 6500001, 11155111, common.HexToHash("0xbeef")))
	require.NoError(t, os.WriteFile(staleIndex, indexData, 0o644))

	_, err = executeCmd(t, "verify", "--dir", dir)
	require.Error(t, err)
}

func TestExtractRejectsIncompleteConfig(t *testing.T) {
	_, err := executeCmd(t, "extract", "--output-dir", t.TempDir())
	require.Error(t, err)
}

func TestExtractConfigFile(t *testing.T) {
	// A config file missing the contract still fails validation, proving the
	// yaml path is wired through viper before any network use.
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("rpc-url: https://sepolia.example.org\n"), 0o644))

	_, err := executeCmd(t, "extract", "--config", cfgPath)
	require.ErrorContains(t, err, "Contract")
}
