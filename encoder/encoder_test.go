package encoder_test

import (
	"testing"

	"github.com/NethermindEth/stateshot/encoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Block uint64   `cbor:"block"`
	Value [32]byte `cbor:"value"`
}

func TestSymmetry(t *testing.T) {
	encoder.TestSymmetry(t, record{
		Block: 6500000,
		Value: [32]byte{31: 0x7b},
	})
}

func TestCanonicalOrdering(t *testing.T) {
	// Canonical encoding is deterministic, repeated marshals must agree.
	v := record{Block: 42, Value: [32]byte{0xff}}
	first, err := encoder.Marshal(v)
	require.NoError(t, err)
	second, err := encoder.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnmarshalGarbage(t *testing.T) {
	var v record
	assert.Error(t, encoder.Unmarshal([]byte{0xff, 0x00, 0x01}, &v))
}
