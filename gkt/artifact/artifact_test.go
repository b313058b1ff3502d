package artifact

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/gkt/gkt/stream"
	"github.com/TheusHen/gkt/gkt/transfer"
	"github.com/TheusHen/gkt/gkt/transfer/erasure"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func payload() []byte {
	return bytes.Repeat([]byte("membership changed; rekey the group. "), 200)
}

func TestRoundTrip(t *testing.T) {
	c := stream.New()
	key := newKey(t)
	data := payload()

	a, err := Seal(c, key, "derived_key.bin", data, Options{})
	require.NoError(t, err)
	encoded, err := a.Encode()
	require.NoError(t, err)

	got, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.True(t, a.Created.Equal(got.Created))
	assert.Equal(t, "derived_key.bin", got.Record)
	assert.False(t, got.Compressed)
	assert.False(t, got.Erasure())

	plain, report, err := got.Open(c, key)
	require.NoError(t, err)
	assert.True(t, report.Reliable())
	assert.Equal(t, data, plain)
}

func TestCompressed(t *testing.T) {
	c := stream.New()
	key := newKey(t)
	data := payload()

	a, err := Seal(c, key, "k", data, Options{Compress: true, Level: transfer.CompressionBest})
	require.NoError(t, err)
	plainArtifact, err := Seal(c, key, "k", data, Options{})
	require.NoError(t, err)
	assert.Less(t, len(a.Stream), len(plainArtifact.Stream))

	encoded, err := a.Encode()
	require.NoError(t, err)
	got, err := Decode(encoded)
	require.NoError(t, err)
	assert.True(t, got.Compressed)

	plain, _, err := got.Open(c, key)
	require.NoError(t, err)
	assert.Equal(t, data, plain)
}

func TestCompressedLengthBoundsOutput(t *testing.T) {
	c := stream.New()
	key := newKey(t)

	a, err := Seal(c, key, "k", payload(), Options{Compress: true})
	require.NoError(t, err)
	for _, length := range []uint64{0, 10} {
		a.PlainLength = length
		_, _, err = a.Open(c, key)
		assert.ErrorIs(t, err, transfer.ErrDecompressionFailed, "header length %d", length)
	}
}

func TestErasureLostShards(t *testing.T) {
	c := stream.New()
	key := newKey(t)
	data := payload()

	a, err := Seal(c, key, "k", data, Options{DataShards: 6, ParityShards: 3})
	require.NoError(t, err)
	encoded, err := a.Encode()
	require.NoError(t, err)

	got, err := Decode(encoded, 0, 4, 7)
	require.NoError(t, err)
	assert.Equal(t, a.Stream, got.Stream)
	assert.Equal(t, 6, got.DataShards)

	plain, report, err := got.Open(c, key)
	require.NoError(t, err)
	assert.True(t, report.Reliable())
	assert.Equal(t, data, plain)

	_, err = Decode(encoded, 0, 1, 2, 3)
	assert.ErrorIs(t, err, erasure.ErrTooManyLost)
}

func TestErasureCorruptShards(t *testing.T) {
	c := stream.New()
	key := newKey(t)
	a, err := Seal(c, key, "k", payload(), Options{DataShards: 4, ParityShards: 2})
	require.NoError(t, err)
	encoded, err := a.Encode()
	require.NoError(t, err)

	codec, err := erasure.NewCodec(4, 2)
	require.NoError(t, err)
	shardSize := codec.ShardSize(len(a.Stream))
	header := 4 + 1 + 1 + 16 + 8 + 2 + len("k") + 8 + 10
	for _, i := range []int{1, 2} {
		encoded[header+i*(5+shardSize)+5+10] ^= 0xff
	}

	got, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, a.Stream, got.Stream)
}

func TestEmptyPayload(t *testing.T) {
	c := stream.New()
	key := newKey(t)
	for _, opts := range []Options{{}, {Compress: true}, {DataShards: 2, ParityShards: 1}} {
		a, err := Seal(c, key, "k", nil, opts)
		require.NoError(t, err)
		encoded, err := a.Encode()
		require.NoError(t, err)
		got, err := Decode(encoded)
		require.NoError(t, err)
		plain, _, err := got.Open(c, key)
		require.NoError(t, err)
		assert.Empty(t, plain)
	}
}

func TestDecodeErrors(t *testing.T) {
	c := stream.New()
	a, err := Seal(c, newKey(t), "k", payload(), Options{})
	require.NoError(t, err)
	encoded, err := a.Encode()
	require.NoError(t, err)

	_, err = Decode(encoded[:10])
	assert.ErrorIs(t, err, ErrTruncated)
	_, err = Decode(encoded[:len(encoded)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	bad := append([]byte(nil), encoded...)
	copy(bad, "XXXX")
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	bad = append([]byte(nil), encoded...)
	bad[4] = 9
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestSealValidation(t *testing.T) {
	c := stream.New()
	_, err := Seal(c, newKey(t), "../escape", payload(), Options{})
	assert.Error(t, err)
	_, err = Seal(c, newKey(t), "k", payload(), Options{DataShards: 4})
	assert.ErrorIs(t, err, erasure.ErrInvalidConfig)
	_, err = Seal(c, make([]byte, 8), "k", payload(), Options{})
	assert.Error(t, err)
}

func TestWrongKeyIsUnreliable(t *testing.T) {
	c := stream.New()
	a, err := Seal(c, newKey(t), "k", payload(), Options{})
	require.NoError(t, err)
	_, report, err := a.Open(c, newKey(t))
	require.NoError(t, err)
	assert.False(t, report.Reliable())
}
