package core

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidWallet   = errors.New("wallet address is not 20 bytes of 0x-prefixed hex")
	ErrInvalidContract = errors.New("contract address is not 20 bytes of 0x-prefixed hex")
)

// BalanceSlot returns the storage key of the mapping entry balances[wallet],
// where the balances mapping lives at mappingSlot in the contract's storage
// layout. The key is keccak256(abi.encode(wallet, mappingSlot)): the wallet
// left-padded to 32 bytes followed by the slot number as a big-endian uint256.
func BalanceSlot(wallet common.Address, mappingSlot uint64) common.Hash {
	var preimage [64]byte
	copy(preimage[12:32], wallet.Bytes())
	binary.BigEndian.PutUint64(preimage[56:64], mappingSlot)
	return crypto.Keccak256Hash(preimage[:])
}

// ParseWallet parses a 0x-prefixed hex wallet address. It is the only entry
// point for wallet input, so malformed addresses fail before any network or
// file I/O happens.
func ParseWallet(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidWallet, s)
	}
	return common.HexToAddress(s), nil
}

// ParseContract parses a 0x-prefixed hex contract address.
func ParseContract(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidContract, s)
	}
	return common.HexToAddress(s), nil
}
