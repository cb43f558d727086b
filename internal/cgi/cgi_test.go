package cgi

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonjasonjao/webserv-sub000/internal/config"
	"github.com/sonjasonjao/webserv-sub000/internal/request"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestBuildEnvMapsHeaders(t *testing.T) {
	req := request.New(3, 1)
	req.Feed([]byte("GET /cgi-bin/hello?x=1 HTTP/1.1\r\nHost: h\r\nX-Custom: v\r\n\r\n"))
	req.SetLimits(1<<20, "")

	cfg := &config.Config{Host: "0.0.0.0", Port: 8080}
	env := BuildEnv("/www/cgi-bin/hello", req, cfg)

	assertContainsEntry(t, env, "REQUEST_METHOD=GET")
	assertContainsEntry(t, env, "QUERY_STRING=x=1")
	assertContainsEntry(t, env, "HTTP_X_CUSTOM=v")
}

func assertContainsEntry(t *testing.T, env []string, want string) {
	t.Helper()
	for _, kv := range env {
		if kv == want {
			return
		}
	}
	t.Errorf("expected env to contain %q, got %v", want, env)
}

func TestLaunchAndDrainHello(t *testing.T) {
	script := writeScript(t, `printf 'Content-Type: text/plain\r\n\r\nhi'`)
	req := request.New(3, 1)
	req.Feed([]byte("GET /cgi-bin/hello.sh HTTP/1.1\r\nHost: h\r\n\r\n"))
	req.SetLimits(1<<20, "")
	cfg := &config.Config{Host: "0.0.0.0", Port: 8080}

	proc, err := Launch(script, req, cfg)
	require.NoError(t, err)
	defer proc.Close()

	var buf []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, eof, derr := Drain(proc, &buf)
		if eof {
			break
		}
		if derr == ErrWouldBlock {
			if proc.CheckExited() {
				continue
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}
		require.NoError(t, derr)
	}

	parsed := ParseOutput(buf)
	assert.False(t, parsed.BadOutput)
	assert.Equal(t, "text/plain", parsed.ContentType)
	assert.Equal(t, "hi", string(parsed.Body))
}

func TestParseOutputMissingStatusDefaultsTo200(t *testing.T) {
	out := ParseOutput([]byte("Content-Type: text/plain\r\n\r\nbody"))
	assert.Equal(t, 200, out.StatusCode)
	assert.Equal(t, "body", string(out.Body))
}

func TestParseOutputBadContentLength(t *testing.T) {
	out := ParseOutput([]byte("Content-Length: 99\r\n\r\nshort"))
	assert.True(t, out.BadOutput)
}

func TestParseOutputStatusHeader(t *testing.T) {
	out := ParseOutput([]byte("Status: 404 Not Found\r\n\r\n"))
	assert.Equal(t, 404, out.StatusCode)
}
