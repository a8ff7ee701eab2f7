package core

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// StorageEntry is one fetched, non-zero storage value together with every
// derived coordinate. Entries are value types: created once, never mutated.
type StorageEntry struct {
	Contract  common.Address
	Wallet    common.Address
	Slot      common.Hash
	TreeIndex TreeIndex
	Stem      Stem
	Value     common.Hash
}

// NewStorageEntry derives the slot, tree index and stem for balances[wallet]
// under the given contract.
func NewStorageEntry(contract, wallet common.Address, mappingSlot uint64, value common.Hash) StorageEntry {
	slot := BalanceSlot(wallet, mappingSlot)
	idx := StorageTreeIndex(slot)
	return StorageEntry{
		Contract:  contract,
		Wallet:    wallet,
		Slot:      slot,
		TreeIndex: idx,
		Stem:      ComputeStem(contract, idx),
		Value:     value,
	}
}

// TreeKey returns the entry's full sort key, stem || subindex.
func (e *StorageEntry) TreeKey() [32]byte {
	var key [32]byte
	copy(key[:StemSize], e.Stem[:])
	key[31] = e.TreeIndex.SubIndex()
	return key
}

// SortEntries orders entries ascending by tree key (unsigned byte
// comparison). The sort is stable so that entries with identical keys keep
// their submission order, which is what makes the state file layout
// deterministic regardless of fetch parallelism.
func SortEntries(entries []StorageEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ki, kj := entries[i].TreeKey(), entries[j].TreeKey()
		return bytes.Compare(ki[:], kj[:]) < 0
	})
}
