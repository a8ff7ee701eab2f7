package statefile

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NethermindEth/stateshot/core"
	"github.com/ethereum/go-ethereum/common"
)

// Record is one decoded state file entry. The wallet address and raw storage
// slot are not part of the on-disk layout; only the derived tree coordinate
// survives.
type Record struct {
	Contract  common.Address
	TreeIndex core.TreeIndex
	Value     common.Hash
}

// Stem re-derives the record's stem from its on-disk fields.
func (r *Record) Stem() core.Stem {
	return core.ComputeStem(r.Contract, r.TreeIndex)
}

func encodeEntry(buf []byte, e *core.StorageEntry) error {
	if len(buf) != EntrySize {
		return fmt.Errorf("%w: buffer is %d bytes, entry size is %d", ErrEntryWidth, len(buf), EntrySize)
	}
	copy(buf[0:20], e.Contract[:])
	copy(buf[20:52], e.TreeIndex[:])
	copy(buf[52:84], e.Value[:])
	return nil
}

func decodeEntry(buf []byte) (Record, error) {
	if len(buf) < EntrySize {
		return Record{}, fmt.Errorf("%w: entry needs %d bytes, got %d", ErrTruncated, EntrySize, len(buf))
	}
	return Record{
		Contract:  common.Address(buf[0:20]),
		TreeIndex: core.TreeIndex(buf[20:52]),
		Value:     common.Hash(buf[52:84]),
	}, nil
}

// Write emits the state file for the given entries, which must already be
// sorted by tree key (see core.SortEntries). The file is staged under a
// temporary name in the target directory and renamed into place, so a crash
// mid-write never leaves a truncated file at the canonical path.
func Write(path string, entries []core.StorageEntry, blockNumber, chainID uint64, blockHash common.Hash) error {
	if len(entries) == 0 {
		return ErrNoEntries
	}

	header := NewHeader(uint64(len(entries)), blockNumber, chainID, blockHash)
	return writeAtomic(path, func(w *bufio.Writer) error {
		headerBytes, err := header.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := w.Write(headerBytes); err != nil {
			return err
		}

		buf := make([]byte, EntrySize)
		for i := range entries {
			if err := encodeEntry(buf, &entries[i]); err != nil {
				return err
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// writeAtomic stages the payload in a temporary file next to path and renames
// it into place after a successful flush and sync.
func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// File is a decoded state file.
type File struct {
	Header  Header
	records []byte
}

// Read loads and validates a state file.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode validates a state file image held in memory.
func Decode(data []byte) (*File, error) {
	var header Header
	if err := header.UnmarshalBinary(data); err != nil {
		return nil, err
	}

	if header.EntrySize != EntrySize {
		return nil, fmt.Errorf("%w: entry size %d", ErrUnsupportedVersion, header.EntrySize)
	}
	// Divide instead of multiplying the untrusted count so a huge declared
	// count cannot wrap the expected size back into range.
	body := uint64(len(data) - HeaderSize)
	if body%EntrySize != 0 || header.EntryCount != body/EntrySize {
		return nil, fmt.Errorf("%w: %d record bytes for %d declared entries",
			ErrSizeMismatch, body, header.EntryCount)
	}

	return &File{Header: header, records: data[HeaderSize:]}, nil
}

// EntryCount returns the number of records in the file.
func (f *File) EntryCount() uint64 {
	return f.Header.EntryCount
}

// Record decodes the record at the given position.
func (f *File) Record(i uint64) (Record, error) {
	if i >= f.Header.EntryCount {
		return Record{}, fmt.Errorf("record %d out of range (%d entries)", i, f.Header.EntryCount)
	}
	off := i * EntrySize
	return decodeEntry(f.records[off : off+EntrySize])
}

// Records decodes every record in file order.
func (f *File) Records() ([]Record, error) {
	records := make([]Record, f.Header.EntryCount)
	for i := range records {
		record, err := f.Record(uint64(i))
		if err != nil {
			return nil, err
		}
		records[i] = record
	}
	return records, nil
}

// CheckSorted verifies the non-decreasing tree key invariant that makes
// binary search over the file valid.
func (f *File) CheckSorted() error {
	var prev [32]byte
	for i := uint64(0); i < f.Header.EntryCount; i++ {
		record, err := f.Record(i)
		if err != nil {
			return err
		}
		stem := record.Stem()

		var key [32]byte
		copy(key[:core.StemSize], stem[:])
		key[31] = record.TreeIndex.SubIndex()

		if i > 0 && bytes.Compare(prev[:], key[:]) > 0 {
			return fmt.Errorf("entries out of order at record %d", i)
		}
		prev = key
	}
	return nil
}
