package response

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sonjasonjao/webserv-sub000/internal/config"
	"github.com/sonjasonjao/webserv-sub000/internal/pagecache"
	"github.com/sonjasonjao/webserv-sub000/internal/request"
	"github.com/sonjasonjao/webserv-sub000/internal/util"
)

// CGIResult carries a parsed CGI response (internal/cgi's output) into the
// selection pipeline so Select can stay agnostic of subprocess plumbing.
type CGIResult struct {
	StatusCode int
	ContentType string
	Body        []byte
	BadOutput   bool
}

// Select implements the response selection rules of spec.md §4.4, in
// order: response_code_override, CGI result, static GET, DELETE, 404.
// cgiResult is nil unless the reactor already ran the CGI manager for this
// request's target.
func Select(req *request.Request, cfg *config.Config, cache *pagecache.Cache, cgiResult *CGIResult) *Response {
	if req.ResponseCodeOverride != 0 {
		return buildOverride(req, cfg, cache)
	}
	if cgiResult != nil {
		return buildFromCGI(req, cgiResult)
	}
	if req.Method == request.MethodGet {
		if resp, ok := tryServeFile(req, cfg, cache, 200); ok {
			return resp
		}
	}
	if req.Method == request.MethodDelete {
		if resp, ok := tryDelete(req, cfg); ok {
			return resp
		}
	}
	return buildError(req, cfg, cache, 404)
}

// ResolveRoute exposes the longest-prefix route resolution for callers
// outside this package (the reactor's CGI dispatch, which must locate the
// script file the same way a static GET would locate a document).
func ResolveRoute(target string, routes map[string]string) (string, bool) {
	return resolveRoute(target, routes)
}

func resolveRoute(target string, routes map[string]string) (string, bool) {
	best := ""
	bestRoot := ""
	for prefix, root := range routes {
		if strings.HasPrefix(target, prefix) && len(prefix) >= len(best) {
			best = prefix
			bestRoot = root
		}
	}
	if bestRoot == "" {
		return "", false
	}
	rel := strings.TrimPrefix(target, best)
	if rel == "" || rel == "/" {
		rel = "/index.html"
	}
	if util.URITargetAboveRoot(rel) {
		return "", false
	}
	return filepath.Join(bestRoot, rel), true
}

func tryServeFile(req *request.Request, cfg *config.Config, cache *pagecache.Cache, status int) (*Response, bool) {
	path, ok := resolveRoute(req.Target, cfg.Routes)
	if !ok {
		return nil, false
	}
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	data, err := cache.GetOrLoad(dir, name)
	if err != nil {
		return nil, false
	}
	body := NewCachedBody(cache, name, data)
	return New(status, body, ContentTypeFor(name), req.KeepAlive), true
}

func tryDelete(req *request.Request, cfg *config.Config) (*Response, bool) {
	path, ok := resolveRoute(req.Target, cfg.Routes)
	if !ok {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, false
	}
	if err := os.Remove(path); err != nil {
		return nil, false
	}
	return New(204, NewStaticBody(nil), "", req.KeepAlive), true
}

func buildFromCGI(req *request.Request, result *CGIResult) *Response {
	if result.BadOutput {
		return New(502, NewStaticBody(nil), "", false)
	}
	status := result.StatusCode
	if status == 0 {
		status = 200
	}
	return New(status, NewStaticBody(result.Body), result.ContentType, req.KeepAlive)
}

func buildOverride(req *request.Request, cfg *config.Config, cache *pagecache.Cache) *Response {
	code := req.ResponseCodeOverride
	if path, ok := cfg.ErrorPages[code]; ok {
		if data, err := cache.GetOrLoad(filepath.Dir(path), filepath.Base(path)); err == nil {
			return New(code, NewCachedBody(cache, filepath.Base(path), data), ContentTypeFor(path), req.KeepAlive)
		}
	}
	return buildDefaultPage(req, cache, code)
}

func buildError(req *request.Request, cfg *config.Config, cache *pagecache.Cache, code int) *Response {
	if path, ok := cfg.ErrorPages[code]; ok {
		if data, err := cache.GetOrLoad(filepath.Dir(path), filepath.Base(path)); err == nil {
			return New(code, NewCachedBody(cache, filepath.Base(path), data), ContentTypeFor(path), req.KeepAlive)
		}
	}
	return buildDefaultPage(req, cache, code)
}

// codeToDefaultKey maps the four status codes spec.md §4.2 compiles
// built-in pages for; any other override code gets a small inline body
// instead of a mislabeled default page.
func codeToDefaultKey(code int) (string, bool) {
	switch code {
	case 200:
		return pagecache.DefaultKey200, true
	case 204:
		return pagecache.DefaultKey204, true
	case 400:
		return pagecache.DefaultKey400, true
	case 404:
		return pagecache.DefaultKey404, true
	default:
		return "", false
	}
}

func buildDefaultPage(req *request.Request, cache *pagecache.Cache, code int) *Response {
	if key, ok := codeToDefaultKey(code); ok {
		data, _ := cache.Get(key)
		return New(code, NewCachedBody(cache, key, data), "text/html", req.KeepAlive)
	}
	body := "<html><body><h1>" + reasonPhrase(code) + "</h1></body></html>\n"
	return New(code, NewStaticBody([]byte(body)), "text/html", req.KeepAlive)
}
