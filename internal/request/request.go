// Package request implements the incremental, resumable HTTP/1.x parser and
// per-connection state machine described in spec.md §4.3: request line and
// header parsing, content-length/chunked/multipart bodies, and the liveness
// timers that drive timeout transitions. Unlike the teacher's
// http11.Parser (which blocks inside a single io.Reader-driven Parse
// call), Request.Feed is a pure state-machine step: it consumes whatever
// bytes are available and either reaches a terminal status or suspends in
// WaitingData, ready to resume on the next reactor tick — spec.md §8
// invariant 1 (byte-at-a-time feeding must match single-call feeding).
package request

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sonjasonjao/webserv-sub000/internal/util"
)

// Limits mirror spec.md §6's compile-time limits.
const (
	ReqLineMaxSize = 8 * 1024
	HeadersMaxSize = 8 * 1024
	RecvBufSize    = 4096

	IdleTimeout    = 60 * time.Second
	RecvTimeout    = 30 * time.Second
	SendTimeout    = 30 * time.Second
	CGITimeout     = 5 * time.Second
)

// Method is the recognized HTTP request method.
type Method int

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodDelete
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Status is the Request's position in the lifecycle state machine
// (spec.md §3).
type Status int

const (
	StatusWaitingData Status = iota
	StatusCompleteReq
	StatusReadyForResponse
	StatusCgiRunning
	StatusRecvTimeout
	StatusSendTimeout
	StatusIdleTimeout
	StatusGatewayTimeout
	StatusInvalid
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusWaitingData:
		return "WaitingData"
	case StatusCompleteReq:
		return "CompleteReq"
	case StatusReadyForResponse:
		return "ReadyForResponse"
	case StatusCgiRunning:
		return "CgiRunning"
	case StatusRecvTimeout:
		return "RecvTimeout"
	case StatusSendTimeout:
		return "SendTimeout"
	case StatusIdleTimeout:
		return "IdleTimeout"
	case StatusGatewayTimeout:
		return "GatewayTimeout"
	case StatusInvalid:
		return "Invalid"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// stage tracks which part of the wire format is currently being consumed.
type stage int

const (
	stageRequestLine stage = iota
	stageHeaders
	stageBody
	stageMultipart
	stageDone
)

// CGIState holds the subprocess bookkeeping for a /cgi-bin/ request; see
// internal/cgi for the manager that populates and drains it.
type CGIState struct {
	Pid          int
	StartTime    time.Time
	OutputBuffer []byte
	ReadFD       int
	WriteFD      int
	BadOutput    bool
}

// Request is the per-connection parser/state object — "Connection (Request
// object)" in spec.md §3.
type Request struct {
	FD         int
	ListenerFD int

	buffer       []byte
	stage        stage
	headersBytes int

	Method       Method
	MethodString string
	Target       string
	Query        string
	HTTPVersion  string

	Headers map[string][]string

	Body          []byte
	ContentLength int64
	HasContentLength bool
	Chunked       bool
	Boundary      string
	HeadersComplete bool
	KeepAlive     bool

	Status                Status
	ResponseCodeOverride  int

	IdleStart time.Time
	RecvStart time.Time
	SendStart time.Time

	UploadDir      string
	UploadFile     *os.File
	UploadFilePath string

	CGI *CGIState

	ClientMaxBodySize int64
	limitsApplied     bool

	// chunked-decode substate
	chunkRemaining      int64
	chunkTrailerPending bool

	// multipart substate
	mpHeaderParsed bool
}

const chunkNeedSize = -1

// New returns a freshly reset Request bound to a client/listener fd pair.
func New(fd, listenerFD int) *Request {
	r := &Request{FD: fd, ListenerFD: listenerFD}
	r.reset(true)
	return r
}

type stepResult int

const (
	stepNeedData stepResult = iota
	stepContinue
	stepTerminal
)

// Feed appends newly received bytes (nil is valid — used to resume after
// SetLimits) and advances the state machine as far as it can go without
// further input. The returned Status is also Request.Status.
func (r *Request) Feed(data []byte) Status {
	if len(data) > 0 {
		r.buffer = append(r.buffer, data...)
	}
	now := time.Now()
	r.IdleStart = now
	if r.RecvStart.IsZero() {
		r.RecvStart = now
	}
	r.advance()
	return r.Status
}

func (r *Request) advance() {
	for {
		var res stepResult
		switch r.stage {
		case stageRequestLine:
			res = r.stepRequestLine()
		case stageHeaders:
			res = r.stepHeaders()
		case stageBody:
			res = r.stepBody()
		case stageMultipart:
			res = r.stepMultipart()
		default:
			return
		}
		switch res {
		case stepNeedData:
			r.Status = StatusWaitingData
			return
		case stepTerminal:
			return
		case stepContinue:
			continue
		}
	}
}

// AwaitingConfig reports whether the parser has finished headers and is
// paused for the reactor to resolve the virtual host and call SetLimits —
// spec.md §4.6 "enforce the matched Config's body-size cap".
func (r *Request) AwaitingConfig() bool {
	return r.HeadersComplete && !r.limitsApplied && r.Status == StatusWaitingData
}

// SetLimits installs the matched Config's body-size cap and upload
// directory, then resumes parsing into the body/multipart stage.
func (r *Request) SetLimits(maxBodySize int64, uploadDir string) {
	r.ClientMaxBodySize = maxBodySize
	r.UploadDir = uploadDir
	r.limitsApplied = true
	r.advance()
}

func (r *Request) complete(override int) stepResult {
	if override != 0 {
		r.ResponseCodeOverride = override
	}
	r.Status = StatusCompleteReq
	r.stage = stageDone
	return stepTerminal
}

func (r *Request) setInvalid(override int) stepResult {
	if override != 0 {
		r.ResponseCodeOverride = override
	}
	r.Status = StatusInvalid
	r.stage = stageDone
	return stepTerminal
}

// takeLine extracts and removes the next CRLF-terminated line from the
// buffer. found is false if no CRLF is present yet.
func (r *Request) takeLine() (line string, found bool) {
	idx := bytes.Index(r.buffer, []byte("\r\n"))
	if idx < 0 {
		return "", false
	}
	line = string(r.buffer[:idx])
	r.buffer = r.buffer[idx+2:]
	return line, true
}

func (r *Request) stepRequestLine() stepResult {
	line, found := r.takeLine()
	if !found {
		if len(r.buffer) > ReqLineMaxSize {
			return r.setInvalid(400)
		}
		return stepNeedData
	}
	if len(line) > ReqLineMaxSize {
		return r.setInvalid(400)
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return r.setInvalid(400)
	}
	methodStr, target, version := parts[0], parts[1], parts[2]
	r.MethodString = methodStr

	switch methodStr {
	case "GET":
		r.Method = MethodGet
	case "POST":
		r.Method = MethodPost
	case "DELETE":
		r.Method = MethodDelete
	default:
		return r.setInvalid(405)
	}

	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(target, scheme) {
			rest := target[len(scheme):]
			if idx := strings.IndexByte(rest, '/'); idx >= 0 {
				target = rest[idx:]
			} else {
				target = "/"
			}
			break
		}
	}
	if q := strings.IndexByte(target, '?'); q >= 0 {
		r.Query = target[q+1:]
		target = target[:q]
	}
	if !util.URIFormatOK(target) {
		return r.setInvalid(400)
	}
	if len(target) == 1 && target != "/" {
		return r.setInvalid(400)
	}
	if target == "" || target[0] != '/' {
		return r.setInvalid(400)
	}
	r.Target = target

	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		return r.setInvalid(400)
	}
	r.HTTPVersion = version
	r.KeepAlive = version == "HTTP/1.1"

	r.stage = stageHeaders
	return stepContinue
}

// uniqueHeaders is the set of fields that may appear at most once
// (spec.md §4.3).
var uniqueHeaders = map[string]bool{
	"host": true, "content-length": true, "authorization": true,
	"referer": true, "from": true, "date": true, "origin": true,
	"if-modified-since": true, "if-range": true, "if-unmodified-since": true,
	"max-forwards": true, "pragma": true, "content-md5": true,
	"proxy-authorization": true, "http2-settings": true,
	"access-control-request-method": true, "content-location": true,
	"alt-used": true, "upgrade-insecure-requests": true,
	"x-forwarded-host": true, "x-forwarded-proto": true,
}

func isUniqueHeaderPrefix(name string) bool {
	if uniqueHeaders[name] {
		return true
	}
	for _, prefix := range []string{"sec-fetch-", "sec-websocket-", "service-worker-"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return name == "sec-purpose"
}

var errMissingColon = fmt.Errorf("request: header line has no colon")

func (r *Request) parseHeaderLine(line string) error {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return errMissingColon
	}
	name := strings.ToLower(util.TrimWhitespace(line[:idx]))
	rawValue := line[idx+1:]
	if len(rawValue) > 0 && (rawValue[0] == ' ' || rawValue[0] == '\t') {
		rawValue = rawValue[1:]
	}

	var values []string
	if name == "content-type" {
		values = util.Split(rawValue, ';')
	} else {
		values = util.Split(strings.ToLower(rawValue), ',')
	}

	if isUniqueHeaderPrefix(name) {
		if _, exists := r.Headers[name]; exists {
			return fmt.Errorf("request: duplicate unique header %q", name)
		}
	}
	r.Headers[name] = append(r.Headers[name], values...)
	return nil
}

func (r *Request) stepHeaders() stepResult {
	for {
		line, found := r.takeLine()
		if !found {
			if r.headersBytes+len(r.buffer) > HeadersMaxSize {
				return r.setInvalid(400)
			}
			return stepNeedData
		}
		r.headersBytes += len(line) + 2
		if r.headersBytes > HeadersMaxSize {
			return r.setInvalid(400)
		}
		if line == "" {
			r.HeadersComplete = true
			return r.finalizeHeaders()
		}
		if err := r.parseHeaderLine(line); err != nil {
			if err == errMissingColon {
				r.Status = StatusError
				r.KeepAlive = false
				r.stage = stageDone
				return stepTerminal
			}
			return r.setInvalid(400)
		}
	}
}

func (r *Request) finalizeHeaders() stepResult {
	if r.HTTPVersion == "HTTP/1.1" && len(r.Headers["host"]) == 0 {
		return r.setInvalid(400)
	}

	if conn := r.Headers["connection"]; len(conn) > 0 {
		hasClose, hasKeepAlive := false, false
		for _, v := range conn {
			switch v {
			case "close":
				hasClose = true
			case "keep-alive":
				hasKeepAlive = true
			}
		}
		if hasClose && hasKeepAlive {
			return r.setInvalid(400)
		}
		if hasClose {
			r.KeepAlive = false
		}
		if hasKeepAlive {
			r.KeepAlive = true
		}
	}

	if cl := r.Headers["content-length"]; len(cl) > 0 {
		n, err := util.ParseUint(cl[0])
		if err != nil {
			return r.setInvalid(400)
		}
		r.HasContentLength = true
		r.ContentLength = n
	}

	if te := r.Headers["transfer-encoding"]; len(te) > 0 {
		chunked := false
		for _, v := range te {
			if v == "chunked" {
				chunked = true
			}
		}
		if chunked {
			if r.HTTPVersion == "HTTP/1.0" {
				return r.setInvalid(400)
			}
			r.Chunked = true
		}
	}

	if r.HasContentLength && r.Chunked {
		return r.setInvalid(400)
	}

	if ct := r.Headers["content-type"]; len(ct) > 0 {
		if strings.EqualFold(strings.TrimSpace(ct[0]), "multipart/form-data") {
			boundary := ""
			for _, v := range ct[1:] {
				if strings.HasPrefix(strings.ToLower(v), "boundary=") {
					boundary = v[len("boundary="):]
				}
			}
			if boundary == "" {
				return r.setInvalid(400)
			}
			r.Boundary = boundary
		}
	}

	if r.Method == MethodPost && r.Boundary == "" && !strings.HasPrefix(r.Target, "/cgi-bin/") {
		return r.setInvalid(405)
	}

	r.chunkRemaining = chunkNeedSize
	if r.Boundary != "" {
		r.stage = stageMultipart
	} else {
		r.stage = stageBody
	}
	return stepContinue
}

// CheckTimeouts applies spec.md §4.3's timer rules and returns true if a
// timeout transition occurred.
func (r *Request) CheckTimeouts(now time.Time) bool {
	if !r.IdleStart.IsZero() && now.Sub(r.IdleStart) > IdleTimeout {
		r.Status = StatusIdleTimeout
		return true
	}
	if !r.RecvStart.IsZero() && now.Sub(r.RecvStart) > RecvTimeout {
		r.Status = StatusRecvTimeout
		return true
	}
	if !r.SendStart.IsZero() && now.Sub(r.SendStart) > SendTimeout {
		r.Status = StatusSendTimeout
		return true
	}
	if r.Status == StatusCgiRunning && r.CGI != nil && now.Sub(r.CGI.StartTime) > CGITimeout {
		r.Status = StatusGatewayTimeout
		r.KeepAlive = false
		return true
	}
	return false
}

// reset restores the Request for the next request on the same connection
// (keep-alive) or for initial construction. Per spec.md §8 invariant 4,
// fd, listener_fd, keep_alive, and idle_start survive a non-initial reset.
func (r *Request) reset(initial bool) {
	if r.UploadFile != nil {
		r.UploadFile.Close()
	}
	keepAlive := r.KeepAlive
	idleStart := r.IdleStart

	r.buffer = nil
	r.stage = stageRequestLine
	r.headersBytes = 0
	r.Method = MethodUnknown
	r.MethodString = ""
	r.Target = ""
	r.Query = ""
	r.HTTPVersion = ""
	r.Headers = make(map[string][]string)
	r.Body = nil
	r.ContentLength = 0
	r.HasContentLength = false
	r.Chunked = false
	r.Boundary = ""
	r.HeadersComplete = false
	r.Status = StatusWaitingData
	r.ResponseCodeOverride = 0
	r.RecvStart = time.Time{}
	r.SendStart = time.Time{}
	r.UploadDir = ""
	r.UploadFile = nil
	r.UploadFilePath = ""
	r.CGI = nil
	r.ClientMaxBodySize = 0
	r.limitsApplied = false
	r.chunkRemaining = chunkNeedSize
	r.chunkTrailerPending = false
	r.mpHeaderParsed = false

	if initial {
		r.KeepAlive = false
		r.IdleStart = time.Now()
	} else {
		r.KeepAlive = keepAlive
		r.IdleStart = idleStart
	}
}

// Reset is the public entry point for the reactor to rearm a keep-alive
// connection for its next request.
func (r *Request) Reset() {
	r.reset(false)
}
