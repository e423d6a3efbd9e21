package modcache_test

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/modcache"
)

var header = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func openMem(t *testing.T) *modcache.Cache {
	t.Helper()
	c, err := modcache.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyIsContentAddressed(t *testing.T) {
	a, err := modcache.Key(header)
	require.NoError(t, err)
	b, err := modcache.Key(append([]byte(nil), header...))
	require.NoError(t, err)
	assert.True(t, a.Equals(b))

	assert.Equal(t, uint64(1), a.Version())
	assert.Equal(t, uint64(cid.Raw), a.Type())
	decoded, err := multihash.Decode(a.Hash())
	require.NoError(t, err)
	assert.Equal(t, uint64(multihash.SHA2_256), decoded.Code)

	other, err := modcache.Key([]byte{0})
	require.NoError(t, err)
	assert.False(t, a.Equals(other))

	parsed, err := modcache.Parse(a.String())
	require.NoError(t, err)
	assert.True(t, a.Equals(parsed))

	_, err = modcache.Parse("not-a-cid")
	assert.Error(t, err)
}

func TestPutGet(t *testing.T) {
	c := openMem(t)

	id, err := c.Put(header)
	require.NoError(t, err)
	again, err := c.Put(header)
	require.NoError(t, err)
	assert.True(t, id.Equals(again))

	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, header, got)

	ok, err := c.Has(id)
	require.NoError(t, err)
	assert.True(t, ok)

	missing, _ := modcache.Key([]byte("missing"))
	_, err = c.Get(missing)
	assert.ErrorIs(t, err, errors.ErrNotFound)
	ok, err = c.Has(missing)
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := c.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, id.Equals(keys[0]))
}

func TestVerdicts(t *testing.T) {
	c := openMem(t)
	good, _ := c.Put(header)
	bad, _ := c.Put([]byte{0x00, 0x61, 0x73, 0x6D, 0x02})

	v, err := c.Verdict(good)
	require.NoError(t, err)
	assert.False(t, v.Known)

	require.NoError(t, c.SetVerdict(good, nil))
	require.NoError(t, c.SetVerdict(bad, errors.Plain("unsupported version")))

	v, err = c.Verdict(good)
	require.NoError(t, err)
	assert.Equal(t, modcache.Verdict{Known: true, Valid: true}, v)

	v, err = c.Verdict(bad)
	require.NoError(t, err)
	assert.True(t, v.Known)
	assert.False(t, v.Valid)
	assert.Equal(t, "unsupported version", v.Reason)

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 2, "verdicts are not listed as modules")
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	c, err := modcache.Open(dir)
	require.NoError(t, err)
	id, err := c.Put(header)
	require.NoError(t, err)
	require.NoError(t, c.SetVerdict(id, nil))
	require.NoError(t, c.Close())

	c, err = modcache.Open(dir)
	require.NoError(t, err)
	defer c.Close()
	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, header, got)
	v, err := c.Verdict(id)
	require.NoError(t, err)
	assert.True(t, v.Valid)
}
