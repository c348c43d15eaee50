package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_GenerationIncreases(t *testing.T) {
	r1 := Next(Zero, []byte(`{"name":"a"}`), false)
	r2 := Next(r1, []byte(`{"name":"b"}`), false)
	r3 := Next(r2, nil, true)

	assert.Equal(t, 1, r1.Generation())
	assert.Equal(t, 2, r2.Generation())
	assert.Equal(t, 3, r3.Generation())
	assert.Equal(t, 1, Compare(r2, r1))
	assert.Equal(t, 1, Compare(r3, r2))
}

func TestNext_Deterministic(t *testing.T) {
	body := []byte(`{"name":"a"}`)
	assert.Equal(t, Next(Zero, body, false), Next(Zero, body, false))
	assert.NotEqual(t, Next(Zero, body, false), Next(Zero, body, true))
	assert.NotEqual(t, Next(Zero, body, false), Next(Zero, []byte(`{"name":"b"}`), false))
}

func TestParse(t *testing.T) {
	gen, digest, err := Parse("12-abcdef")
	require.NoError(t, err)
	assert.Equal(t, 12, gen)
	assert.Equal(t, "abcdef", digest)

	for _, bad := range []Revision{"", "abc", "0-ff", "x-ff", "3-"} {
		_, _, err := Parse(bad)
		assert.Error(t, err, "revision %q", bad)
		assert.False(t, bad.Valid())
	}
}

func TestCompare_SameGenerationByDigest(t *testing.T) {
	assert.Equal(t, -1, Compare("2-aaa", "2-bbb"))
	assert.Equal(t, 0, Compare("2-aaa", "2-aaa"))
	assert.Equal(t, 1, Compare("10-aaa", "9-zzz"))
}
