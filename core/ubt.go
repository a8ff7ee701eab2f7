// EIP-7864 unified binary tree coordinates for contract storage.
//
// A storage slot maps to a 32-byte tree index whose first 31 bytes locate the
// stem and whose last byte is the position inside the stem's group of 256
// values. The stem itself is derived by hashing the owning contract address
// together with the stem position.
package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"
)

const (
	// HeaderStorageOffset is the subindex at which the first 64 storage
	// slots of an account are placed inside its primary stem.
	HeaderStorageOffset = 64

	// StemSize is the width of a stem in bytes.
	StemSize = 31
)

// mainStorageOffset is 2^248. Slots >= HeaderStorageOffset live in the
// overflow storage region at tree index slot + 2^248, modulo 2^256.
var mainStorageOffset = new(uint256.Int).Lsh(uint256.NewInt(1), 248)

// TreeIndex is a tree coordinate: stem position in bytes [0:31], subindex in
// byte 31.
type TreeIndex [32]byte

// Stem is the 31-byte grouping key of up to 256 tree values.
type Stem [StemSize]byte

func (t TreeIndex) StemPos() [StemSize]byte {
	return [StemSize]byte(t[:StemSize])
}

func (t TreeIndex) SubIndex() byte {
	return t[31]
}

// StorageTreeIndex maps a raw storage slot key to its tree index.
//
// Slot values below HeaderStorageOffset share the account's primary stem
// (stem position zero) at subindex 64+slot. Larger slots are offset by 2^248;
// the addition wraps modulo 2^256, matching fixed-width unsigned arithmetic.
// Wraparound cannot occur for slots produced by BalanceSlot plus the offset's
// headroom, but it is defined behavior rather than an error.
func StorageTreeIndex(slot common.Hash) TreeIndex {
	pos := new(uint256.Int).SetBytes32(slot[:])
	if pos.LtUint64(HeaderStorageOffset) {
		var idx TreeIndex
		idx[31] = HeaderStorageOffset + byte(pos.Uint64())
		return idx
	}
	pos.Add(pos, mainStorageOffset)
	return TreeIndex(pos.Bytes32())
}

// ComputeStem derives the stem grouping the given tree index under the given
// contract: the first 31 bytes of blake3(leftpad32(contract) || stem_pos).
// It is a pure function of (contract, stem position); indices differing only
// in subindex share a stem.
func ComputeStem(contract common.Address, idx TreeIndex) Stem {
	var preimage [32 + StemSize]byte
	copy(preimage[12:32], contract.Bytes())
	copy(preimage[32:], idx[:StemSize])

	digest := blake3.Sum256(preimage[:])

	var stem Stem
	copy(stem[:], digest[:StemSize])
	return stem
}

// TreeKey is the full content-addressed key of a tree value: stem || subindex.
func TreeKey(contract common.Address, idx TreeIndex) [32]byte {
	stem := ComputeStem(contract, idx)

	var key [32]byte
	copy(key[:StemSize], stem[:])
	key[31] = idx.SubIndex()
	return key
}
