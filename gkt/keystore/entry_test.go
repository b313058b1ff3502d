package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/gkt/gkt/identity"
)

func TestCodecPlain(t *testing.T) {
	id, err := identity.Generate("alice")
	require.NoError(t, err)

	var c Codec
	data, err := c.Encode(id)
	require.NoError(t, err)
	assert.Len(t, data, 6+32)

	got, err := c.Decode("alice", data)
	require.NoError(t, err)
	assert.Equal(t, id.Keys, got.Keys)
	assert.Equal(t, id.Member, got.Member)
}

func TestCodecSealed(t *testing.T) {
	id, err := identity.Generate("alice")
	require.NoError(t, err)

	c := NewCodec("passphrase")
	require.True(t, c.Sealed())
	data, err := c.Encode(id)
	require.NoError(t, err)
	assert.Equal(t, byte(modeSealed), data[5])

	got, err := c.Decode("alice", data)
	require.NoError(t, err)
	assert.Equal(t, id.Keys, got.Keys)

	// Bound to the member id.
	_, err = c.Decode("bob", data)
	assert.ErrorIs(t, err, ErrWrongPassphrase)

	_, err = NewCodec("other").Decode("alice", data)
	assert.ErrorIs(t, err, ErrWrongPassphrase)

	_, err = Codec{}.Decode("alice", data)
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestCodecCorrupt(t *testing.T) {
	var c Codec
	for name, data := range map[string][]byte{
		"empty":   nil,
		"magic":   []byte("XXXX\x01\x00"),
		"version": append([]byte("GKTK\x09\x00"), make([]byte, 32)...),
		"mode":    append([]byte("GKTK\x01\x07"), make([]byte, 32)...),
		"length":  append([]byte("GKTK\x01\x00"), make([]byte, 31)...),
	} {
		_, err := c.Decode("alice", data)
		assert.ErrorIs(t, err, ErrCorrupt, name)
	}
}
