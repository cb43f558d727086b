package cgi

import (
	"bytes"
	"strconv"
	"strings"
)

// ParsedOutput is the decoded form of a CGI child's stdout stream.
type ParsedOutput struct {
	StatusCode  int
	ContentType string
	Body        []byte
	BadOutput   bool
}

// ParseOutput implements spec.md §4.5's CGI output parsing: split at the
// first "\r\n\r\n" (fallback "\r\n") into headers and body; recognize
// Status, Content-Type, Content-Length. Any parse failure sets BadOutput
// so the caller returns 502.
func ParseOutput(raw []byte) ParsedOutput {
	sepLen := 4
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		idx = bytes.Index(raw, []byte("\r\n"))
		sepLen = 2
	}
	if idx < 0 {
		return ParsedOutput{StatusCode: 200, Body: raw}
	}

	headerBlock := string(raw[:idx])
	body := raw[idx+sepLen:]

	out := ParsedOutput{StatusCode: 200, Body: body}
	declaredLen := -1

	for _, line := range strings.Split(headerBlock, "\r\n") {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			out.BadOutput = true
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		switch key {
		case "status":
			fields := strings.SplitN(value, " ", 2)
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				out.BadOutput = true
				continue
			}
			out.StatusCode = n
		case "content-type":
			out.ContentType = value
		case "content-length":
			n, err := strconv.Atoi(value)
			if err != nil {
				out.BadOutput = true
				continue
			}
			declaredLen = n
		}
	}

	if declaredLen >= 0 && declaredLen != len(body) {
		out.BadOutput = true
	}
	return out
}
