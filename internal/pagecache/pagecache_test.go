package pagecache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c := New()
	c.LoadDefaults()
	data, ok := c.Get(DefaultKey404)
	require.True(t, ok)
	assert.Contains(t, string(data), "404")
	assert.True(t, c.Size() > 0)
}

func TestGetOrLoadMissThenHit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	c := New()
	data, err := c.GetOrLoad(dir, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data2, err := c.GetOrLoad(dir, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data2))
}

func TestGetOrLoadNotFound(t *testing.T) {
	c := New()
	_, err := c.GetOrLoad(t.TempDir(), "missing.html")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEvictionRespectsBound(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, SizeMax-100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), big, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), big, 0o644))

	c := New()
	_, err := c.GetOrLoad(dir, "a.bin")
	require.NoError(t, err)
	c.Unpin("a.bin")

	_, err = c.GetOrLoad(dir, "b.bin")
	require.NoError(t, err)

	assert.LessOrEqual(t, c.Size(), int64(SizeMax))
}

func TestPinPreventsEviction(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, SizeMax-100)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), big, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), big, 0o644))

	c := New()
	data, err := c.GetOrLoad(dir, "a.bin")
	require.NoError(t, err)
	require.NotEmpty(t, data)
	// a.bin stays pinned (simulating an in-flight send)

	_, err = c.GetOrLoad(dir, "b.bin")
	require.NoError(t, err)

	stillThere, ok := c.Get("a.bin")
	require.True(t, ok)
	assert.Equal(t, len(big), len(stillThere))
}

func TestFileTooLarge(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "huge.bin"), make([]byte, SizeMax+1), 0o644))

	c := New()
	_, err := c.GetOrLoad(dir, "huge.bin")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestClearCache(t *testing.T) {
	c := New()
	c.LoadDefaults()
	c.ClearCache()
	_, ok := c.Get(DefaultKey200)
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.Size())
}
