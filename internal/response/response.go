// Package response assembles HTTP/1.x responses per spec.md §4.4: status
// line/header serialization, the tagged-variant Body that lets the page
// cache's buffers be referenced without copying, selection-rule dispatch
// (override → CGI → static GET → DELETE → 404), and incremental send
// tracking. The pre-serialized-status-line and buffered-write discipline
// is grounded on the teacher's http11.ResponseWriter
// (shockwave/pkg/shockwave/http11/response.go), generalized from a
// single always-live io.Writer target to a byte buffer the reactor drains
// across multiple POLLOUT ticks.
package response

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sonjasonjao/webserv-sub000/internal/pagecache"
	"github.com/sonjasonjao/webserv-sub000/internal/util"
)

// Body is the tagged variant from spec.md §9's "Polymorphism of Response
// bodies" design note: Static (bytes with no lifecycle of their own, e.g.
// inline error bodies or CGI output) or Cached (pinned in the page cache,
// including the compiled-in default pages, released via Release when the
// send completes).
type Body interface {
	Bytes() []byte
	Release()
}

type staticBody struct{ data []byte }

func (b staticBody) Bytes() []byte { return b.data }
func (b staticBody) Release()      {}

// NewStaticBody returns a Body over bytes with no special lifecycle.
func NewStaticBody(data []byte) Body { return staticBody{data: data} }

// cachedBody references a page-cache entry; Release unpins it so the
// cache may evict it once the send completes.
type cachedBody struct {
	cache *pagecache.Cache
	key   string
	data  []byte
}

func (b cachedBody) Bytes() []byte { return b.data }
func (b cachedBody) Release()      { b.cache.Unpin(b.key) }

// NewCachedBody wraps a pinned page-cache entry.
func NewCachedBody(cache *pagecache.Cache, key string, data []byte) Body {
	return cachedBody{cache: cache, key: key, data: data}
}

var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	408: "Request Timeout",
	409: "Conflict",
	413: "Payload Too Large",
	500: "Internal Server Error",
	502: "Bad Gateway",
	504: "Gateway Timeout",
}

func reasonPhrase(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return "Unknown"
}

var extContentTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".txt":  "text/plain",
	".json": "application/json",
	".pdf":  "application/pdf",
	".ico":  "image/x-icon",
}

// ContentTypeFor guesses a Content-Type from a file extension, per
// SPEC_FULL.md §4.4's extended table.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := extContentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

type headerField struct {
	name  string
	value string
}

// Response is a fully-built, not-yet-sent HTTP response.
type Response struct {
	StatusCode int
	Reason     string
	Headers    []headerField
	KeepAlive  bool

	body       Body
	serialized []byte
	bytesSent  int
}

// New assembles a Response with the mandatory headers of spec.md §4.4:
// Date, Server, Content-Length, Content-Type (if body present), and
// Connection matching the resolved keep-alive state. A non-2xx status
// always forces keep_alive false.
func New(statusCode int, body Body, contentType string, keepAlive bool) *Response {
	if statusCode < 200 || statusCode >= 300 {
		keepAlive = false
	}
	r := &Response{
		StatusCode: statusCode,
		Reason:     reasonPhrase(statusCode),
		KeepAlive:  keepAlive,
		body:       body,
	}
	data := body.Bytes()
	r.addHeader("Date", util.IMFFixdate())
	r.addHeader("Server", "Webserv/1.0")
	r.addHeader("Content-Length", fmt.Sprintf("%d", len(data)))
	if len(data) > 0 && contentType != "" {
		r.addHeader("Content-Type", contentType)
	}
	if keepAlive {
		r.addHeader("Connection", "keep-alive")
	} else {
		r.addHeader("Connection", "close")
	}
	r.serialize()
	return r
}

func (r *Response) addHeader(name, value string) {
	r.Headers = append(r.Headers, headerField{name: name, value: value})
}

func (r *Response) serialize() {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.StatusCode, r.Reason)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.name, h.value)
	}
	b.WriteString("\r\n")
	head := b.String()
	data := r.body.Bytes()
	out := make([]byte, 0, len(head)+len(data))
	out = append(out, head...)
	out = append(out, data...)
	r.serialized = out
}

// WriteTo writes as much of the serialized response as w accepts in one
// call, tracking bytes_sent incrementally (spec.md §4.4 "Incremental
// send"). It mirrors a single non-blocking send(2) call — partial writes
// are expected and normal.
func (r *Response) WriteTo(w interface{ Write([]byte) (int, error) }) (int, error) {
	if r.bytesSent >= len(r.serialized) {
		return 0, nil
	}
	n, err := w.Write(r.serialized[r.bytesSent:])
	r.bytesSent += n
	return n, err
}

// SendIsComplete reports whether the full response has been written.
func (r *Response) SendIsComplete() bool {
	return r.bytesSent >= len(r.serialized)
}

// BytesSent returns the count of bytes written so far.
func (r *Response) BytesSent() int { return r.bytesSent }

// TotalLen returns the full serialized response length.
func (r *Response) TotalLen() int { return len(r.serialized) }

// Release returns any pinned resources (e.g. a page-cache entry) the
// Response's body holds.
func (r *Response) Release() {
	if r.body != nil {
		r.body.Release()
	}
}
