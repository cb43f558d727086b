// Package util implements the small byte-level helpers shared across the
// request parser, response builder, and CGI manager: date formatting,
// whitespace trimming, path validation, and width-safe numeric parsing.
package util

import (
	"errors"
	"strings"
	"time"
)

// ErrOverflow is returned by ParseUint when the input would overflow int64,
// and also when it is empty or contains a non-digit byte.
var ErrOverflow = errors.New("util: integer overflow")

// imfFixdateLayout is RFC 7231's preferred date format, e.g.
// "Sun, 06 Nov 1994 08:49:37 GMT".
const imfFixdateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

// IMFFixdate returns the current time in RFC 7231 preferred format, GMT.
func IMFFixdate() string {
	return time.Now().UTC().Format(imfFixdateLayout)
}

// IsValidIMFFixdate reports whether s parses as an IMF-fixdate.
func IsValidIMFFixdate(s string) bool {
	_, err := time.Parse(imfFixdateLayout, s)
	return err == nil
}

// TrimWhitespace removes leading/trailing SP and HT bytes, mirroring the
// original parser's narrow definition of whitespace (not Unicode-aware).
func TrimWhitespace(s string) string {
	return strings.Trim(s, " \t")
}

// Split returns the ordered list of non-empty segments of s around delim.
func Split(s string, delim byte) []string {
	raw := strings.Split(s, string(delim))
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = TrimWhitespace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsValidIPv4 reports whether s is a dotted-quad IPv4 literal.
func IsValidIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if !IsUnsignedIntLiteral(p) || len(p) > 3 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
		n, err := ParseUint(p)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

// IsValidPort reports whether s is a valid TCP port number (1-65535).
func IsValidPort(s string) bool {
	if !IsUnsignedIntLiteral(s) {
		return false
	}
	n, err := ParseUint(s)
	if err != nil || n == 0 || n > 65535 {
		return false
	}
	return true
}

// IsUnsignedIntLiteral reports whether s is one or more ASCII digits.
func IsUnsignedIntLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsPositiveDoubleLiteral reports whether s is a positive decimal literal
// with an optional single fractional part, e.g. "1.5" or "3".
func IsPositiveDoubleLiteral(s string) bool {
	if s == "" {
		return false
	}
	dotSeen := false
	digitsSeen := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digitsSeen = true
		case c == '.' && !dotSeen:
			dotSeen = true
		default:
			return false
		}
	}
	return digitsSeen
}

// ParseUint is a width-safe replacement for std::stoi / strconv.Atoi that
// rejects overflow explicitly rather than silently wrapping or truncating
// (Open Question 3 of SPEC_FULL.md).
func ParseUint(s string) (int64, error) {
	if s == "" {
		return 0, ErrOverflow
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, ErrOverflow
		}
		d := int64(c - '0')
		if n > (1<<63-1-d)/10 {
			return 0, ErrOverflow
		}
		n = n*10 + d
	}
	return n, nil
}

// uriFormatOK reports whether uri contains none of the bytes forbidden
// anywhere in a request-target by spec.md §4.1 uri_format_ok: control
// bytes, DEL, and a short blocklist of syntax-sensitive characters.
func uriFormatOK(uri string) bool {
	for i := 0; i < len(uri); i++ {
		c := uri[i]
		if c < 0x20 || c == 0x7f {
			return false
		}
		switch c {
		case '<', '>', '"', '\\':
			return false
		}
	}
	return true
}

// URIFormatOK rejects control bytes, DEL, and `<`, `>`, `"`, `\`.
func URIFormatOK(uri string) bool {
	return uriFormatOK(uri)
}

// URITargetAboveRoot reports whether the normalized uri escapes its search
// root, i.e. whether a naive ".." walk would leave the root directory.
func URITargetAboveRoot(uri string) bool {
	depth := 0
	for _, seg := range strings.Split(uri, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// ExtractValue parses `key=value` out of a multipart header field such as
// `form-data; name=file; filename=a.txt`, returning the value of the first
// occurrence of key (with surrounding double quotes stripped if the value is
// quoted), or "" if absent.
func ExtractValue(src, key string) string {
	idx := strings.Index(src, key+"=")
	if idx == -1 {
		return ""
	}
	rest := src[idx+len(key)+1:]
	if len(rest) > 0 && rest[0] == '"' {
		return extractQuoted(rest)
	}
	end := strings.IndexAny(rest, ";\r\n")
	if end == -1 {
		return TrimWhitespace(rest)
	}
	return TrimWhitespace(rest[:end])
}

// ExtractQuotedValue behaves like ExtractValue but only matches a quoted
// value, returning "" when the value for key is not in double quotes.
func ExtractQuotedValue(src, key string) string {
	idx := strings.Index(src, key+"=\"")
	if idx == -1 {
		return ""
	}
	rest := src[idx+len(key)+2:]
	end := strings.IndexByte(rest, '"')
	if end == -1 {
		return ""
	}
	return rest[:end]
}

func extractQuoted(s string) string {
	if len(s) == 0 || s[0] != '"' {
		return ""
	}
	s = s[1:]
	end := strings.IndexByte(s, '"')
	if end == -1 {
		return ""
	}
	return s[:end]
}

// Basename returns the final path element of p, without any directory
// components, mirroring POSIX basename(3) for the common case used when
// naming uploaded files.
func Basename(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndexByte(p, '/'); i != -1 {
		p = p[i+1:]
	}
	if i := strings.LastIndexByte(p, '\\'); i != -1 {
		p = p[i+1:]
	}
	if p == "" {
		return "unnamed"
	}
	return p
}
