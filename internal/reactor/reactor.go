// Package reactor implements the single-threaded poll(2)-driven server loop
// of spec.md §4.6: listener creation grouped by (host, port), accept/recv/
// send dispatch over non-blocking fds, virtual-host matching, CGI fd
// integration, and the per-tick timeout sweep. Unlike the teacher's
// server.Server (one goroutine per net.Conn, blocking io.Reader parsing),
// exactly one goroutine runs the loop (a second one only waits for SIGINT);
// concurrency comes entirely from
// multiplexing raw fds through golang.org/x/sys/unix.Poll, matching
// spec.md §5's "no worker threads" scheduling model. The listener-group and
// Stats-counter shape is grounded on
// shockwave/pkg/shockwave/server/server.go's BaseServer/Stats, and the
// raw-fd socket-option style is grounded on
// shockwave/pkg/shockwave/socket/tuning_linux.go, both generalized from
// net.Listener/net.Conn plumbing to bare unix.Socket/Bind/Listen/Accept4.
package reactor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/sonjasonjao/webserv-sub000/internal/cgi"
	"github.com/sonjasonjao/webserv-sub000/internal/config"
	"github.com/sonjasonjao/webserv-sub000/internal/pagecache"
	"github.com/sonjasonjao/webserv-sub000/internal/request"
	"github.com/sonjasonjao/webserv-sub000/internal/response"
)

// Compile-time limits from spec.md §6 not already owned by internal/request.
const (
	MaxPending    = 20
	MaxClients    = 1024
	PollTimeoutMS = 1000
)

// Reactor owns every listener, connection, and CGI child for one process.
type Reactor struct {
	groups map[config.ListenerKey][]*config.Config
	cache  *pagecache.Cache
	log    *logrus.Entry

	listenerFDs map[int]config.ListenerKey
	clients     map[int]*clientConn
	cgiIndex    map[int]*clientConn

	stats Stats

	stopping atomic.Bool
}

// Stats mirrors the counters spec.md §4.7 asks the logging component to
// narrate, generalized from shockwave/pkg/shockwave/server/server.go's
// atomic Stats struct (connections/requests/bytes, no latency histogram —
// this reactor has no concurrent-request concept to measure).
type Stats struct {
	TotalConnections  atomic.Uint64
	ActiveConnections atomic.Int64
	TotalRequests     atomic.Uint64
	CGISpawned        atomic.Uint64
}

// New constructs a Reactor over the given virtual-host configs. cache must
// already have LoadDefaults called if default error pages are desired; log
// may be nil, in which case a default logrus logger writing to stderr is
// used.
func New(configs []config.Config, cache *pagecache.Cache, log *logrus.Entry) *Reactor {
	groups, _ := config.GroupByListener(configs)
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		log = logrus.NewEntry(l)
	}
	return &Reactor{
		groups:      groups,
		cache:       cache,
		log:         log.WithField("component", "reactor"),
		listenerFDs: make(map[int]config.ListenerKey),
		clients:     make(map[int]*clientConn),
		cgiIndex:    make(map[int]*clientConn),
	}
}

// clientConn is one accepted connection: its parser state machine, the
// in-flight response (if any), and the CGI child (if any) it owns.
type clientConn struct {
	fd         int
	listenerFD int
	req        *request.Request
	resp       *response.Response
	cgiProc    *cgi.Process
}

// fdWriter adapts a raw fd to the Write([]byte)(int,error) shape
// response.WriteTo expects, standing in for a non-blocking send(2) call.
type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	return unix.Write(w.fd, p)
}

// Run creates every listener, installs the SIGINT handler, and drives the
// poll loop until interrupted or a fatal listener error occurs. It always
// closes every owned fd before returning, per spec.md §4.6's "destructor
// closes every fd in pfds".
func (r *Reactor) Run() error {
	if err := r.openListeners(); err != nil {
		r.closeAll()
		return err
	}
	r.installSignalHandler()
	defer r.closeAll()

	for !r.stopping.Load() {
		if err := r.tick(); err != nil {
			return err
		}
	}
	r.log.Info("shutdown requested, closing all connections")
	return nil
}

func (r *Reactor) openListeners() error {
	for key := range r.groups {
		fd, err := createListener(key.Host, key.Port)
		if err != nil {
			return fmt.Errorf("reactor: %w", err)
		}
		r.listenerFDs[fd] = key
		r.log.WithFields(logrus.Fields{"host": key.Host, "port": key.Port, "fd": fd}).Info("listening")
	}
	return nil
}

// createListener builds one non-blocking, SO_REUSEADDR IPv4 listening
// socket per spec.md §4.6 step 2.
func createListener(host string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nonblock: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if host != "" && host != "0.0.0.0" {
		ip := net.ParseIP(host)
		ip4 := ip.To4()
		if ip4 == nil {
			unix.Close(fd)
			return -1, fmt.Errorf("invalid host %q", host)
		}
		copy(addr.Addr[:], ip4)
	}

	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, MaxPending); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s:%d: %w", host, port, err)
	}
	return fd, nil
}

// installSignalHandler mirrors spec.md §4.6 step 3's "sig-atomic flag":
// a dedicated goroutine blocks on the signal channel (the only place in
// this module a second goroutine runs) and flips an atomic the poll loop
// observes at the top of every bounded-timeout iteration.
func (r *Reactor) installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go func() {
		<-ch
		r.stopping.Store(true)
	}()
}

func (r *Reactor) closeAll() {
	for fd, c := range r.clients {
		if c.cgiProc != nil {
			c.cgiProc.Kill()
		}
		if c.resp != nil {
			c.resp.Release()
		}
		unix.Close(fd)
	}
	for fd := range r.listenerFDs {
		unix.Close(fd)
	}
}

// tick runs one poll(2) iteration plus the post-dispatch timeout sweep.
func (r *Reactor) tick() error {
	pfds := r.buildPollSet()
	n, err := unix.Poll(pfds, PollTimeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("reactor: poll: %w", err)
	}
	if n > 0 {
		r.dispatch(pfds)
	}
	r.sweepTimeouts()
	return nil
}

const readyMask = unix.POLLIN | unix.POLLHUP | unix.POLLERR

func (r *Reactor) buildPollSet() []unix.PollFd {
	pfds := make([]unix.PollFd, 0, len(r.listenerFDs)+len(r.clients)+len(r.cgiIndex))
	for fd := range r.listenerFDs {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	for fd := range r.cgiIndex {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	for fd, c := range r.clients {
		events := int16(unix.POLLIN)
		if c.resp != nil {
			events = unix.POLLOUT
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	return pfds
}

func (r *Reactor) dispatch(pfds []unix.PollFd) {
	for _, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		switch {
		case isSet(pfd.Revents, readyMask) && r.isListener(fd):
			r.handleListenerReadable(fd)
		case isSet(pfd.Revents, readyMask) && r.isCGIFD(fd):
			r.handleCGIReadable(r.cgiIndex[fd])
		case isSet(pfd.Revents, unix.POLLOUT) && r.isClient(fd):
			r.handleClientWritable(r.clients[fd])
		case isSet(pfd.Revents, readyMask) && r.isClient(fd):
			r.handleClientReadable(r.clients[fd])
		}
	}
}

func isSet(revents int16, mask int16) bool { return revents&mask != 0 }

func (r *Reactor) isListener(fd int) bool { _, ok := r.listenerFDs[fd]; return ok }
func (r *Reactor) isCGIFD(fd int) bool    { _, ok := r.cgiIndex[fd]; return ok }
func (r *Reactor) isClient(fd int) bool   { _, ok := r.clients[fd]; return ok }

// handleListenerReadable accepts at most one pending connection per tick,
// per spec.md §4.6's literal reading; a still-pending backlog simply
// re-signals POLLIN on the next iteration.
func (r *Reactor) handleListenerReadable(lfd int) {
	nfd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK)
	if err != nil {
		if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
			r.log.WithError(err).Warn("accept failed")
		}
		return
	}
	if len(r.clients) >= MaxClients {
		unix.Close(nfd)
		r.log.Warn("MAX_CLIENTS reached, rejecting connection")
		return
	}
	r.clients[nfd] = &clientConn{fd: nfd, listenerFD: lfd, req: request.New(nfd, lfd)}
	r.stats.TotalConnections.Add(1)
	r.stats.ActiveConnections.Add(1)
	r.log.WithFields(logrus.Fields{"fd": nfd, "listener": lfd}).Debug("accepted connection")
}

func (r *Reactor) handleClientReadable(c *clientConn) {
	buf := make([]byte, request.RecvBufSize)
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return
		}
		r.dropClient(c, "recv error: "+err.Error())
		return
	}
	if n == 0 {
		r.dropClient(c, "peer closed")
		return
	}
	c.req.Feed(buf[:n])
	r.progressRequest(c)
}

// matchConfig resolves the virtual host bound to c's listener per spec.md
// §4.6's "Virtual-host match".
func (r *Reactor) matchConfig(c *clientConn) *config.Config {
	key := r.listenerFDs[c.listenerFD]
	group := r.groups[key]
	host := ""
	if hv := c.req.Headers["host"]; len(hv) > 0 {
		host = hv[0]
	}
	return config.Match(group, host)
}

// isCGITarget applies the same /cgi-bin/ convention the request parser
// already uses to exempt boundary-less POSTs (internal/request's
// finalizeHeaders), per spec.md §4.4 rule 2 "target is a CGI target".
func isCGITarget(target string) bool {
	const prefix = "/cgi-bin/"
	return len(target) >= len(prefix) && target[:len(prefix)] == prefix
}

// progressRequest advances a client's Request past the parser into the
// dispatch decision named in spec.md §4.6's client-fd bullet: apply the
// config-dependent body cap once headers complete, drop on Error, return
// to poll on WaitingData, else launch CGI or build the response now.
func (r *Reactor) progressRequest(c *clientConn) {
	req := c.req
	if req.AwaitingConfig() {
		cfg := r.matchConfig(c)
		limit := int64(config.DefaultClientMaxBodySize)
		uploadDir := ""
		if cfg != nil {
			limit = cfg.ClientMaxBodySize
			uploadDir = cfg.UploadDir
		}
		req.SetLimits(limit, uploadDir)
	}

	switch req.Status {
	case request.StatusError:
		r.log.WithFields(logrus.Fields{"fd": c.fd, "listener": c.listenerFD}).Error("suspicious request, dropping connection")
		r.dropClient(c, "protocol abuse")
		return
	case request.StatusWaitingData, request.StatusCgiRunning:
		return
	}

	if req.Status == request.StatusCompleteReq && req.ResponseCodeOverride == 0 && isCGITarget(req.Target) {
		r.launchCGI(c)
		return
	}
	r.buildAndArmResponse(c, nil)
}

func (r *Reactor) launchCGI(c *clientConn) {
	cfg := r.matchConfig(c)
	if cfg == nil {
		c.req.ResponseCodeOverride = 404
		r.buildAndArmResponse(c, nil)
		return
	}
	scriptPath, ok := response.ResolveRoute(c.req.Target, cfg.Routes)
	if !ok {
		c.req.ResponseCodeOverride = 404
		r.buildAndArmResponse(c, nil)
		return
	}

	proc, err := cgi.Launch(scriptPath, c.req, cfg)
	if err != nil {
		r.log.WithError(err).Error("cgi launch failed")
		c.req.ResponseCodeOverride = 502
		r.buildAndArmResponse(c, nil)
		return
	}

	c.cgiProc = proc
	c.req.Status = request.StatusCgiRunning
	c.req.CGI = &request.CGIState{Pid: proc.Pid(), StartTime: proc.StartTime(), ReadFD: proc.ReadFD()}
	r.cgiIndex[proc.ReadFD()] = c
	r.stats.CGISpawned.Add(1)
}

func (r *Reactor) handleCGIReadable(c *clientConn) {
	if c == nil || c.cgiProc == nil {
		return
	}
	buf := c.req.CGI.OutputBuffer
	_, eof, err := cgi.Drain(c.cgiProc, &buf)
	c.req.CGI.OutputBuffer = buf
	if err != nil && !errors.Is(err, cgi.ErrWouldBlock) {
		r.completeCGI(c, true)
		return
	}
	if eof {
		r.completeCGI(c, false)
	}
}

func (r *Reactor) completeCGI(c *clientConn, pipeFailed bool) {
	c.cgiProc.CheckExited()
	delete(r.cgiIndex, c.cgiProc.ReadFD())

	var result response.CGIResult
	if pipeFailed {
		result = response.CGIResult{BadOutput: true}
	} else {
		parsed := cgi.ParseOutput(c.req.CGI.OutputBuffer)
		result = response.CGIResult{
			StatusCode:  parsed.StatusCode,
			ContentType: parsed.ContentType,
			Body:        parsed.Body,
			BadOutput:   parsed.BadOutput,
		}
	}
	c.cgiProc.Close()
	c.cgiProc = nil
	c.req.Status = request.StatusReadyForResponse
	r.buildAndArmResponse(c, &result)
}

func (r *Reactor) buildAndArmResponse(c *clientConn, cgiResult *response.CGIResult) {
	cfg := r.matchConfig(c)
	if cfg == nil {
		cfg = &config.Config{}
	}
	resp := response.Select(c.req, cfg, r.cache, cgiResult)
	c.resp = resp
	c.req.SendStart = time.Now()
	r.stats.TotalRequests.Add(1)
	r.log.WithFields(logrus.Fields{
		"fd":     c.fd,
		"method": c.req.MethodString,
		"target": c.req.Target,
		"status": resp.StatusCode,
	}).Info("response selected")
}

func (r *Reactor) handleClientWritable(c *clientConn) {
	if c.resp == nil {
		return
	}
	w := fdWriter{fd: c.fd}
	for !c.resp.SendIsComplete() {
		n, err := c.resp.WriteTo(w)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			r.dropClient(c, "send error: "+err.Error())
			return
		}
		if n == 0 {
			return
		}
	}
	r.finishResponse(c)
}

func (r *Reactor) finishResponse(c *clientConn) {
	keepAlive := c.resp.KeepAlive
	bytesSent := c.resp.BytesSent()
	c.resp.Release()
	c.resp = nil
	r.log.WithFields(logrus.Fields{"fd": c.fd, "bytes_sent": bytesSent}).Debug("response sent")
	if !keepAlive {
		r.dropClient(c, "connection: close")
		return
	}
	c.req.Reset()
}

// sweepTimeouts implements spec.md §4.6's final bullet: RecvTimeout builds
// a 408 and enters the send path; IdleTimeout/SendTimeout drop silently;
// a CGI GatewayTimeout kills the child and returns 504.
func (r *Reactor) sweepTimeouts() {
	now := time.Now()
	for _, c := range r.clients {
		if !c.req.CheckTimeouts(now) {
			continue
		}
		switch c.req.Status {
		case request.StatusRecvTimeout:
			c.req.ResponseCodeOverride = 408
			r.buildAndArmResponse(c, nil)
		case request.StatusGatewayTimeout:
			if c.cgiProc != nil {
				delete(r.cgiIndex, c.cgiProc.ReadFD())
				c.cgiProc.Kill()
				c.cgiProc = nil
			}
			c.req.ResponseCodeOverride = 504
			r.buildAndArmResponse(c, nil)
		case request.StatusIdleTimeout, request.StatusSendTimeout:
			r.dropClient(c, c.req.Status.String())
		}
	}
}

func (r *Reactor) dropClient(c *clientConn, reason string) {
	if c.resp != nil {
		c.resp.Release()
		c.resp = nil
	}
	if c.cgiProc != nil {
		delete(r.cgiIndex, c.cgiProc.ReadFD())
		c.cgiProc.Kill()
		c.cgiProc = nil
	}
	unix.Close(c.fd)
	delete(r.clients, c.fd)
	r.stats.ActiveConnections.Add(-1)
	r.log.WithFields(logrus.Fields{"fd": c.fd, "reason": reason}).Debug("connection closed")
}
