package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstd_RoundTrip(t *testing.T) {
	z, err := NewZstd()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte(`{"id":"item-1","inStock":12}`), 200)
	encoded := z.Encode(payload)
	assert.Less(t, len(encoded), len(payload))

	decoded, err := z.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestZstd_DecodeGarbage(t *testing.T) {
	z, err := NewZstd()
	require.NoError(t, err)

	_, err = z.Decode([]byte("not zstd"))
	assert.Error(t, err)
}
