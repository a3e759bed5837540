// Package urlnorm canonicalizes crawl URLs so that seed lists, crawl logs and
// CDX files agree on graph keys.
package urlnorm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid reports a URL that cannot be canonicalized.
var ErrInvalid = errors.New("invalid url")

const upperhex = "0123456789ABCDEF"

// pathSafe lists the bytes kept verbatim in http(s) paths on top of the RFC 3986
// unreserved set.
const pathSafe = "/%~+:();$!,"

var defaultPorts = map[string]int{
	"http":  80,
	"https": 443,
}

type parts struct {
	scheme   string
	userinfo string
	host     string
	port     string
	path     string
	query    string
	hasQuery bool
	fragment string
	hasFrag  bool
}

// Normalize standardizes a URL to a byte-stable key.
// It lowercases the scheme and host, removes default ports, resolves dot segments,
// drops the fragment and percent-encodes http(s) paths. Normalizing twice yields
// the same string. A URL with no path, query or fragment is invalid.
func Normalize(raw string) (string, error) {
	p, err := split(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}

	if p.path == "" && !p.hasQuery && !p.hasFrag {
		return "", fmt.Errorf("%w: no path", ErrInvalid)
	}

	port := ""
	if p.port != "" {
		if !allDigits(p.port) {
			return "", fmt.Errorf("%w: bad port %q", ErrInvalid, p.port)
		}
		n, err := strconv.Atoi(p.port)
		if err != nil || n < 0 || n > 65535 {
			return "", fmt.Errorf("%w: bad port %q", ErrInvalid, p.port)
		}
		if n != defaultPorts[p.scheme] {
			port = strconv.Itoa(n)
		}
	}

	path := removeDotSegments(p.path)
	if path == "" {
		path = "/"
	}
	if p.scheme == "http" || p.scheme == "https" {
		path = escapePath(path)
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)
	b.WriteString(p.scheme)
	b.WriteString("://")
	if p.userinfo != "" {
		b.WriteString(p.userinfo)
		b.WriteByte('@')
	}
	b.WriteString(strings.ToLower(p.host))
	if port != "" {
		b.WriteByte(':')
		b.WriteString(port)
	}
	b.WriteString(path)
	if p.hasQuery {
		b.WriteByte('?')
		b.WriteString(p.query)
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), " ", "%20")), nil
}

// Host returns the lower-cased host of a URL without port or userinfo. It returns
// an empty string when the URL cannot be split.
func Host(raw string) string {
	p, err := split(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(p.host)
}

func split(raw string) (parts, error) {
	var p parts
	if raw == "" {
		return p, fmt.Errorf("%w: empty", ErrInvalid)
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x20 || raw[i] == 0x7f {
			return p, fmt.Errorf("%w: control character", ErrInvalid)
		}
	}

	idx := strings.Index(raw, "://")
	if idx <= 0 || !validScheme(raw[:idx]) {
		return p, fmt.Errorf("%w: missing scheme", ErrInvalid)
	}
	p.scheme = strings.ToLower(raw[:idx])
	rest := raw[idx+3:]

	end := strings.IndexAny(rest, "/?#")
	authority := rest
	tail := ""
	if end >= 0 {
		authority, tail = rest[:end], rest[end:]
	}

	if at := strings.LastIndexByte(authority, '@'); at >= 0 {
		p.userinfo, authority = authority[:at], authority[at+1:]
	}
	host, port, err := splitHostPort(authority)
	if err != nil {
		return p, err
	}
	if host == "" {
		return p, fmt.Errorf("%w: empty host", ErrInvalid)
	}
	p.host, p.port = host, port

	if hash := strings.IndexByte(tail, '#'); hash >= 0 {
		p.fragment = tail[hash+1:]
		p.hasFrag = true
		tail = tail[:hash]
	}
	if q := strings.IndexByte(tail, '?'); q >= 0 {
		p.query = tail[q+1:]
		p.hasQuery = true
		tail = tail[:q]
	}
	p.path = tail
	return p, nil
}

func splitHostPort(authority string) (string, string, error) {
	if strings.HasPrefix(authority, "[") {
		closing := strings.IndexByte(authority, ']')
		if closing < 0 {
			return "", "", fmt.Errorf("%w: unterminated ipv6 host", ErrInvalid)
		}
		host, rest := authority[:closing+1], authority[closing+1:]
		if rest == "" {
			return host, "", nil
		}
		if rest[0] != ':' {
			return "", "", fmt.Errorf("%w: junk after ipv6 host", ErrInvalid)
		}
		return host, rest[1:], nil
	}
	colon := strings.LastIndexByte(authority, ':')
	if colon < 0 {
		return authority, "", nil
	}
	host := authority[:colon]
	if strings.IndexByte(host, ':') >= 0 {
		return "", "", fmt.Errorf("%w: ambiguous port", ErrInvalid)
	}
	return host, authority[colon+1:], nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func validScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// removeDotSegments folds "." and ".." segments left to right (RFC 3986 §5.2.4).
// A ".." never pops the leading root segment.
func removeDotSegments(path string) string {
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	resolved := make([]string, 0, len(segments))
	for i, segment := range segments {
		if i < len(segments)-1 {
			segment += "/"
		}
		switch segment {
		case "..", "../":
			if len(resolved) > 1 {
				resolved = resolved[:len(resolved)-1]
			}
		case ".", "./":
		default:
			resolved = append(resolved, segment)
		}
	}
	return strings.Join(resolved, "")
}

func escapePath(path string) string {
	n := 0
	for i := 0; i < len(path); i++ {
		if !keepInPath(path[i]) {
			n++
		}
	}
	if n == 0 {
		return path
	}
	buf := make([]byte, 0, len(path)+2*n)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if keepInPath(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperhex[c>>4], upperhex[c&15])
	}
	return string(buf)
}

func keepInPath(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return strings.IndexByte(pathSafe, c) >= 0
}
