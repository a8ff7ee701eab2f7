package statefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/NethermindEth/stateshot/core"
)

// stemIndexEntrySize is the on-disk width of one index record: a 31-byte stem
// followed by a little-endian uint64 record position.
const stemIndexEntrySize = core.StemSize + 8

// StemIndex maps each distinct stem in a state file to the position of its
// first record. Keys are strictly ascending, which is what makes binary
// search valid.
type StemIndex struct {
	stems     []core.Stem
	positions []uint64
}

// BuildStemIndex walks entries, which must be sorted by tree key, and records
// the first occurrence of every distinct stem.
func BuildStemIndex(entries []core.StorageEntry) *StemIndex {
	index := &StemIndex{}
	for i := range entries {
		n := len(index.stems)
		if n > 0 && index.stems[n-1] == entries[i].Stem {
			continue
		}
		index.stems = append(index.stems, entries[i].Stem)
		index.positions = append(index.positions, uint64(i))
	}
	return index
}

// Len returns the number of distinct stems.
func (s *StemIndex) Len() int {
	return len(s.stems)
}

// At returns the i-th (stem, position) pair in ascending stem order.
func (s *StemIndex) At(i int) (core.Stem, uint64) {
	return s.stems[i], s.positions[i]
}

// Lookup binary-searches for the given stem and returns the position of its
// first state file record.
func (s *StemIndex) Lookup(stem core.Stem) (uint64, bool) {
	i := sort.Search(len(s.stems), func(i int) bool {
		return bytes.Compare(s.stems[i][:], stem[:]) >= 0
	})
	if i == len(s.stems) || s.stems[i] != stem {
		return 0, false
	}
	return s.positions[i], true
}

// WriteStemIndex emits the index: an 8-byte little-endian count followed by
// (stem, position) pairs. Staged and renamed like the state file.
func WriteStemIndex(path string, index *StemIndex) error {
	if index.Len() == 0 {
		return ErrNoEntries
	}

	return writeAtomic(path, func(w *bufio.Writer) error {
		var u64 [8]byte
		binary.LittleEndian.PutUint64(u64[:], uint64(index.Len()))
		if _, err := w.Write(u64[:]); err != nil {
			return err
		}
		for i := range index.stems {
			if _, err := w.Write(index.stems[i][:]); err != nil {
				return err
			}
			binary.LittleEndian.PutUint64(u64[:], index.positions[i])
			if _, err := w.Write(u64[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadStemIndex loads an index file and validates its size and strict key
// ordering.
func ReadStemIndex(path string) (*StemIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: stem index needs 8 bytes, got %d", ErrTruncated, len(data))
	}

	// Divide instead of multiplying the untrusted count so a huge declared
	// count cannot wrap the expected size back into range.
	count := binary.LittleEndian.Uint64(data[0:8])
	body := uint64(len(data) - 8)
	if body%stemIndexEntrySize != 0 || count != body/stemIndexEntrySize {
		return nil, fmt.Errorf("%w: %d pair bytes for %d declared entries",
			ErrSizeMismatch, body, count)
	}

	index := &StemIndex{
		stems:     make([]core.Stem, count),
		positions: make([]uint64, count),
	}
	for i := uint64(0); i < count; i++ {
		off := 8 + i*stemIndexEntrySize
		index.stems[i] = core.Stem(data[off : off+core.StemSize])
		index.positions[i] = binary.LittleEndian.Uint64(data[off+core.StemSize : off+stemIndexEntrySize])

		if i > 0 && bytes.Compare(index.stems[i-1][:], index.stems[i][:]) >= 0 {
			return nil, fmt.Errorf("stem index keys not strictly ascending at record %d", i)
		}
	}
	return index, nil
}
