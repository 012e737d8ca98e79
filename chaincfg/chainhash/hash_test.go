package chainhash

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashStringRoundTrip(t *testing.T) {
	const str = "264aaf8a4f9828a76c550635da078eb466306a189fcc03710bee9f649c869d12"

	hash, err := NewHashFromStr(str)
	require.NoError(t, err)
	assert.Equal(t, str, hash.String())
	assert.Equal(t, byte(0x26), hash[0])
	assert.Equal(t, byte(0x12), hash[HashSize-1])
}

func TestDecodeShortStringPadsFront(t *testing.T) {
	hash, err := NewHashFromStr("abc")
	require.NoError(t, err)
	assert.Equal(t, byte(0x0a), hash[HashSize-2])
	assert.Equal(t, byte(0xbc), hash[HashSize-1])
	assert.True(t, hash[0] == 0)
}

func TestDecodeErrors(t *testing.T) {
	_, err := NewHashFromStr(string(make([]byte, MaxHashStringSize+1)))
	assert.Equal(t, ErrHashStrSize, err)

	_, err = NewHashFromStr("zz")
	assert.Error(t, err)
}

func TestSetBytes(t *testing.T) {
	var h Hash
	assert.Error(t, h.SetBytes([]byte{1, 2, 3}))

	buf := make([]byte, HashSize)
	buf[5] = 9
	require.NoError(t, h.SetBytes(buf))
	assert.Equal(t, buf, h.CloneBytes())
	assert.False(t, h.IsZero())

	other, err := NewHash(buf)
	require.NoError(t, err)
	assert.True(t, h.IsEqual(other))
	assert.False(t, h.IsEqual(nil))
}

func TestHashHBlake2b(t *testing.T) {
	// Blake2b-256 of the empty string.
	want, _ := hex.DecodeString("0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8")
	got := HashH(nil)
	assert.Equal(t, want, got[:])
	assert.Equal(t, want, HashB([]byte{}))
}
