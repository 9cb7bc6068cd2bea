// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package name

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidURI reports a string that does not match the URI grammar
// accepted for store addresses and transport paths.
var ErrInvalidURI = errors.New("invalid URI")

// URI is a parsed store or transport address. Store schemes use the
// opaque-path forms "sqlite:file.db" and "car:/abs/path"; the HTTP
// schemes carry an authority. Userinfo is never accepted.
type URI struct {
	Scheme       string
	Host         string
	Port         string
	PathSegments []string
	Query        map[string][]string
	Fragment     string
	// Rooted records whether the path began with a slash, so opaque
	// relative paths like sqlite:data.db survive a round trip.
	Rooted bool
}

// ParseURI parses a URI. Percent-escapes are decoded in path
// segments, query keys and values, and the fragment. The scheme is
// required and lowercased.
func ParseURI(s string) (*URI, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: missing scheme in %q", ErrInvalidURI, s)
	}
	for _, r := range scheme {
		if !isSchemeRune(r) {
			return nil, fmt.Errorf("%w: bad scheme %q", ErrInvalidURI, scheme)
		}
	}
	u := &URI{Scheme: strings.ToLower(scheme)}

	if frag, ok := cutLast(&rest, "#"); ok {
		dec, err := unescapeComponent(frag)
		if err != nil {
			return nil, err
		}
		u.Fragment = dec
	}
	var query string
	if q, ok := cutLast(&rest, "?"); ok {
		query = q
	}

	if after, ok := strings.CutPrefix(rest, "//"); ok {
		authority, path, _ := cutPath(after)
		if strings.Contains(authority, "@") {
			return nil, fmt.Errorf("%w: userinfo is not allowed", ErrInvalidURI)
		}
		host, port, err := splitHostPort(authority)
		if err != nil {
			return nil, err
		}
		u.Host, u.Port = host, port
		rest = path
	}

	if p, ok := strings.CutPrefix(rest, "/"); ok {
		u.Rooted = true
		rest = p
	}
	if rest != "" {
		segs := strings.Split(rest, "/")
		for _, seg := range segs {
			if seg == "." || seg == ".." {
				return nil, fmt.Errorf("%w: dot segment in path", ErrInvalidURI)
			}
			dec, err := unescapeComponent(seg)
			if err != nil {
				return nil, err
			}
			u.PathSegments = append(u.PathSegments, dec)
		}
	}

	if query != "" {
		u.Query = make(map[string][]string)
		for _, pair := range strings.Split(query, "&") {
			if pair == "" {
				continue
			}
			k, v, _ := strings.Cut(pair, "=")
			dk, err := unescapeComponent(k)
			if err != nil {
				return nil, err
			}
			dv, err := unescapeComponent(v)
			if err != nil {
				return nil, err
			}
			u.Query[dk] = append(u.Query[dk], dv)
		}
	}
	return u, nil
}

// Path returns the decoded path joined with slashes, with the leading
// slash when the URI was rooted.
func (u *URI) Path() string {
	p := strings.Join(u.PathSegments, "/")
	if u.Rooted {
		return "/" + p
	}
	return p
}

// String emits the URI with per-component percent-encoding.
func (u *URI) String() string {
	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteByte(':')
	if u.Host != "" || u.Port != "" {
		sb.WriteString("//")
		sb.WriteString(escapeHost(u.Host))
		if u.Port != "" {
			sb.WriteByte(':')
			sb.WriteString(u.Port)
		}
	}
	if u.Rooted {
		sb.WriteByte('/')
	}
	for i, seg := range u.PathSegments {
		if i > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(escapeSegment(seg))
	}
	if len(u.Query) > 0 {
		sb.WriteByte('?')
		first := true
		for _, k := range sortedKeys(u.Query) {
			for _, v := range u.Query[k] {
				if !first {
					sb.WriteByte('&')
				}
				first = false
				sb.WriteString(escapeQuery(k))
				sb.WriteByte('=')
				sb.WriteString(escapeQuery(v))
			}
		}
	}
	if u.Fragment != "" {
		sb.WriteByte('#')
		sb.WriteString(escapeQuery(u.Fragment))
	}
	return sb.String()
}

func cutPath(s string) (authority, path string, found bool) {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		return s[:i], s[i:], true
	}
	return s, "", false
}

// cutLast splits s at the first occurrence of sep, keeping the prefix
// in *s and returning the suffix.
func cutLast(s *string, sep string) (string, bool) {
	if i := strings.Index(*s, sep); i >= 0 {
		suffix := (*s)[i+len(sep):]
		*s = (*s)[:i]
		return suffix, true
	}
	return "", false
}

func splitHostPort(authority string) (host, port string, err error) {
	if authority == "" {
		return "", "", nil
	}
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", fmt.Errorf("%w: unterminated IPv6 literal", ErrInvalidURI)
		}
		host = authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("%w: junk after IPv6 literal", ErrInvalidURI)
		}
		return host, rest[1:], checkPort(rest[1:])
	}
	host, port, found := strings.Cut(authority, ":")
	if found {
		if err := checkPort(port); err != nil {
			return "", "", err
		}
	}
	dec, err := unescapeComponent(host)
	if err != nil {
		return "", "", err
	}
	return dec, port, nil
}

func checkPort(port string) error {
	for i := 0; i < len(port); i++ {
		if port[i] < '0' || port[i] > '9' {
			return fmt.Errorf("%w: bad port %q", ErrInvalidURI, port)
		}
	}
	return nil
}

func isSchemeRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'
}

const upperhex = "0123456789ABCDEF"

func isUnreserved(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' ||
		b >= '0' && b <= '9' || b == '-' || b == '.' || b == '_' || b == '~'
}

func isSubDelim(b byte) bool {
	switch b {
	case '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	}
	return false
}

func escapeWith(s string, allowed func(byte) bool) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		b := s[i]
		if allowed(b) {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[b>>4])
		sb.WriteByte(upperhex[b&0x0f])
	}
	return sb.String()
}

// escapeSegment escapes one path segment: pchar minus nothing, that
// is unreserved, sub-delims, ':' and '@'.
func escapeSegment(s string) string {
	return escapeWith(s, func(b byte) bool {
		return isUnreserved(b) || isSubDelim(b) || b == ':' || b == '@'
	})
}

// escapeQuery escapes a query key, query value, or fragment. '&' and
// '=' are escaped so they cannot split pairs.
func escapeQuery(s string) string {
	return escapeWith(s, func(b byte) bool {
		if b == '&' || b == '=' {
			return false
		}
		return isUnreserved(b) || isSubDelim(b) || b == ':' || b == '@' || b == '/' || b == '?'
	})
}

func escapeHost(s string) string {
	if strings.Contains(s, ":") {
		return "[" + s + "]"
	}
	return escapeWith(s, func(b byte) bool { return isUnreserved(b) || isSubDelim(b) })
}

func unhex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

func unescapeComponent(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			sb.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("%w: truncated percent escape", ErrInvalidURI)
		}
		hi, ok1 := unhex(s[i+1])
		lo, ok2 := unhex(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("%w: bad percent escape %q", ErrInvalidURI, s[i:i+3])
		}
		sb.WriteByte(hi<<4 | lo)
		i += 2
	}
	return sb.String(), nil
}

// unescapeSegment decodes a Name path segment, mapping URI errors to
// ErrInvalidName.
func unescapeSegment(s string) (string, error) {
	dec, err := unescapeComponent(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return dec, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
