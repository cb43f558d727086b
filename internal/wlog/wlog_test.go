package wlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStderrByDefault(t *testing.T) {
	entry := New("")
	assert.Equal(t, os.Stderr, entry.Logger.Out)
}

func TestNewRotatingFileSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webserv.log")

	entry := New(path)
	entry.WithField("component", "test").Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
