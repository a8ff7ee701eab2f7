// Package statefile implements the PIR2 binary artifacts consumed by the PIR
// index server: a fixed-width state file of sorted storage entries and a
// companion stem index supporting O(log N) lookup from stem to record.
package statefile

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// HeaderSize is the fixed size of the state file header in bytes.
	HeaderSize = 64

	// EntrySize is the fixed per-entry width: contract address (20) ||
	// tree index (32) || value (32).
	EntrySize = 84

	// Version is the current state file format version.
	Version = 1
)

// Magic identifies the PIR2 state file format family.
var Magic = [4]byte{'P', 'I', 'R', '2'}

var (
	ErrTruncated          = errors.New("state file is truncated")
	ErrInvalidMagic       = errors.New("not a PIR2 state file")
	ErrUnsupportedVersion = errors.New("unsupported state file version")
	ErrSizeMismatch       = errors.New("state file size does not match header")
	ErrNoEntries          = errors.New("state store must contain at least one entry")
	ErrEntryWidth         = errors.New("entry does not fit the declared fixed width")
)

// Header is the 64-byte state file header. All integers are little-endian.
type Header struct {
	Version     uint16
	EntrySize   uint16
	EntryCount  uint64
	BlockNumber uint64
	ChainID     uint64
	BlockHash   common.Hash // zero if unknown
}

// NewHeader fills in the fixed format fields for the given snapshot.
func NewHeader(entryCount, blockNumber, chainID uint64, blockHash common.Hash) Header {
	return Header{
		Version:     Version,
		EntrySize:   EntrySize,
		EntryCount:  entryCount,
		BlockNumber: blockNumber,
		ChainID:     chainID,
		BlockHash:   blockHash,
	}
}

// MarshalBinary encodes the header into its fixed 64-byte layout.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.EntrySize)
	binary.LittleEndian.PutUint64(buf[8:16], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.BlockNumber)
	binary.LittleEndian.PutUint64(buf[24:32], h.ChainID)
	copy(buf[32:64], h.BlockHash[:])
	return buf, nil
}

// UnmarshalBinary decodes and validates a header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(data))
	}
	if [4]byte(data[0:4]) != Magic {
		return fmt.Errorf("%w: magic %q", ErrInvalidMagic, data[0:4])
	}

	h.Version = binary.LittleEndian.Uint16(data[4:6])
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	h.EntrySize = binary.LittleEndian.Uint16(data[6:8])
	h.EntryCount = binary.LittleEndian.Uint64(data[8:16])
	h.BlockNumber = binary.LittleEndian.Uint64(data[16:24])
	h.ChainID = binary.LittleEndian.Uint64(data[24:32])
	h.BlockHash = common.Hash(data[32:64])
	return nil
}
