package reactor

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sonjasonjao/webserv-sub000/internal/config"
	"github.com/sonjasonjao/webserv-sub000/internal/pagecache"
	"github.com/sonjasonjao/webserv-sub000/internal/request"
)

func TestIsCGITarget(t *testing.T) {
	assert.True(t, isCGITarget("/cgi-bin/hello"))
	assert.False(t, isCGITarget("/static/index.html"))
	assert.False(t, isCGITarget("/cgi-bi"))
}

func TestMatchConfigDefaultAndNamed(t *testing.T) {
	cfgs := []config.Config{
		{Host: "0.0.0.0", Port: 8080, ServerName: "default.test"},
		{Host: "0.0.0.0", Port: 8080, ServerName: "other.test"},
	}
	groups, _ := config.GroupByListener(cfgs)
	r := &Reactor{
		groups:      groups,
		listenerFDs: map[int]config.ListenerKey{3: {Host: "0.0.0.0", Port: 8080}},
		clients:     map[int]*clientConn{},
		cgiIndex:    map[int]*clientConn{},
	}

	c := &clientConn{listenerFD: 3}
	c.req = requestWithHost(t, "default.test")
	assert.Equal(t, "default.test", r.matchConfig(c).ServerName)

	c.req = requestWithHost(t, "other.test")
	assert.Equal(t, "other.test", r.matchConfig(c).ServerName)

	c.req = requestWithHost(t, "unknown.test")
	assert.Equal(t, "default.test", r.matchConfig(c).ServerName)
}

// requestWithHost feeds just a request line and Host header — enough for
// matchConfig's Headers read, since headers are parsed before the parser
// pauses in AwaitingConfig for the reactor to resolve the virtual host.
func requestWithHost(t *testing.T, host string) *request.Request {
	t.Helper()
	req := request.New(3, 4)
	req.Feed([]byte("GET / HTTP/1.1\r\nHost: " + host + "\r\n\r\n"))
	require.True(t, req.AwaitingConfig())
	return req
}

// TestLaunchCGIRejectsTraversal guards against a /cgi-bin/ target whose
// remainder walks ".." out of the configured CGI root: launchCGI must
// 404 rather than hand a path outside cgiDir to cgi.Launch.
func TestLaunchCGIRejectsTraversal(t *testing.T) {
	cgiDir := t.TempDir()
	cfgs := []config.Config{
		{Host: "0.0.0.0", Port: 8080, ServerName: "default.test", Routes: map[string]string{"/cgi-bin/": cgiDir}},
	}
	groups, _ := config.GroupByListener(cfgs)
	cache := pagecache.New()
	cache.LoadDefaults()
	r := &Reactor{
		groups:      groups,
		listenerFDs: map[int]config.ListenerKey{3: {Host: "0.0.0.0", Port: 8080}},
		clients:     map[int]*clientConn{},
		cgiIndex:    map[int]*clientConn{},
		cache:       cache,
		log:         logrus.NewEntry(logrus.New()),
	}

	c := &clientConn{listenerFD: 3}
	req := request.New(3, 5)
	req.Feed([]byte("GET /cgi-bin/../../../../../../etc/passwd HTTP/1.1\r\nHost: default.test\r\n\r\n"))
	require.True(t, req.AwaitingConfig())
	req.SetLimits(1<<20, "")
	c.req = req

	r.launchCGI(c)

	assert.Nil(t, c.cgiProc)
	assert.Equal(t, 404, c.req.ResponseCodeOverride)
	require.NotNil(t, c.resp)
}

func TestCreateListenerAcceptsConnection(t *testing.T) {
	fd, err := createListener("127.0.0.1", 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	sa4, ok := sa.(*unix.SockaddrInet4)
	require.True(t, ok)
	port := sa4.Port

	done := make(chan struct{})
	go func() {
		conn, dialErr := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(port)), time.Second)
		if dialErr == nil {
			conn.Close()
		}
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		nfd, _, acceptErr := unix.Accept4(fd, unix.SOCK_NONBLOCK)
		if acceptErr == nil {
			unix.Close(nfd)
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("listener never accepted the test connection")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// TestEndToEndSimpleGet drives a real Reactor over loopback TCP: it opens a
// listener on an ephemeral port, serves one keep-alive GET against a temp
// document root by pumping tick() directly (bypassing Run()'s SIGINT
// goroutine, which this test has no business installing), and asserts the
// client sees a 200 with the expected body.
func TestEndToEndSimpleGet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello reactor"), 0o644))

	cfgs := []config.Config{{
		Host:              "127.0.0.1",
		Port:              0,
		Routes:            map[string]string{"/": dir},
		ClientMaxBodySize: 1 << 20,
	}}
	cache := pagecache.New()
	cache.LoadDefaults()

	r := New(cfgs, cache, nil)
	require.NoError(t, r.openListeners())
	defer r.closeAll()

	var lfd int
	for fd := range r.listenerFDs {
		lfd = fd
	}
	sa, err := unix.Getsockname(lfd)
	require.NoError(t, err)
	sa4 := sa.(*unix.SockaddrInet4)

	connDone := make(chan string, 1)
	go func() {
		conn, dialErr := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(sa4.Port)), 2*time.Second)
		if dialErr != nil {
			connDone <- "dial error: " + dialErr.Error()
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(2 * time.Second))
		_, werr := conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
		if werr != nil {
			connDone <- "write error: " + werr.Error()
			return
		}
		reader := bufio.NewReader(conn)
		statusLine, rerr := reader.ReadString('\n')
		if rerr != nil {
			connDone <- "read error: " + rerr.Error()
			return
		}
		connDone <- statusLine
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, r.tick())
		select {
		case line := <-connDone:
			assert.Contains(t, line, "200")
			return
		default:
		}
	}
	t.Fatal("timed out waiting for reactor to serve the request")
}
