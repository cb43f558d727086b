package response

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonjasonjao/webserv-sub000/internal/config"
	"github.com/sonjasonjao/webserv-sub000/internal/pagecache"
	"github.com/sonjasonjao/webserv-sub000/internal/request"
)

func TestNewSerializesMandatoryHeaders(t *testing.T) {
	resp := New(200, NewStaticBody([]byte("hi")), "text/plain", true)
	var buf bytes.Buffer
	for !resp.SendIsComplete() {
		_, err := resp.WriteTo(&buf)
		require.NoError(t, err)
	}
	out := buf.String()
	assert.Contains(t, out, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, out, "Content-Length: 2\r\n")
	assert.Contains(t, out, "Connection: keep-alive\r\n")
	assert.True(t, bytes.HasSuffix(buf.Bytes(), []byte("hi")))
}

func TestNonSuccessForcesClose(t *testing.T) {
	resp := New(404, NewStaticBody(nil), "", true)
	assert.False(t, resp.KeepAlive)
}

func TestIncrementalWriteTo(t *testing.T) {
	resp := New(200, NewStaticBody(bytes.Repeat([]byte("x"), 100)), "text/plain", false)
	var total int
	for !resp.SendIsComplete() {
		n, err := resp.WriteTo(limitedWriter{max: 10})
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, resp.TotalLen(), total)
}

type limitedWriter struct{ max int }

func (w limitedWriter) Write(p []byte) (int, error) {
	if len(p) > w.max {
		return w.max, nil
	}
	return len(p), nil
}

func TestSelectStaticGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	cache := pagecache.New()
	cache.LoadDefaults()
	cfg := &config.Config{Routes: map[string]string{"/": dir}}

	req := request.New(3, 1)
	req.Feed([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	req.SetLimits(1<<20, "")

	resp := Select(req, cfg, cache, nil)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestSelectStaticGetRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	cache := pagecache.New()
	cache.LoadDefaults()
	cfg := &config.Config{Routes: map[string]string{"/": dir}}

	req := request.New(3, 1)
	req.Feed([]byte("GET /../../../../../../../../etc/passwd HTTP/1.1\r\nHost: h\r\n\r\n"))
	req.SetLimits(1<<20, "")

	resp := Select(req, cfg, cache, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestSelect404(t *testing.T) {
	cache := pagecache.New()
	cache.LoadDefaults()
	cfg := &config.Config{Routes: map[string]string{}}

	req := request.New(3, 1)
	req.Feed([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	req.SetLimits(1<<20, "")

	resp := Select(req, cfg, cache, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestSelectOverride(t *testing.T) {
	cache := pagecache.New()
	cache.LoadDefaults()
	cfg := &config.Config{}

	req := request.New(3, 1)
	req.Feed([]byte("GET / HTTP/1.1\r\nHost: h\r\n\r\n"))
	req.ResponseCodeOverride = 413

	resp := Select(req, cfg, cache, nil)
	assert.Equal(t, 413, resp.StatusCode)
}
