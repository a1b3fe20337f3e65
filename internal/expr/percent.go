package expr

import "strings"

// isUnreserved reports whether b needs no percent-encoding under RFC 3986
// unreserved characters — the same rule as Python's urllib.parse.quote with
// safe="". This is deliberately stricter than net/url's QueryEscape (which
// also encodes space as '+' and leaves different characters unescaped), so
// url_encode is hand-rolled rather than delegated to the stdlib.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	}
	return false
}

const hexDigits = "0123456789ABCDEF"

// percentEncodeAll percent-encodes every byte of s that is not unreserved,
// i.e. url_encode(safe="").
func percentEncodeAll(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// percentDecodeOnce decodes every well-formed %XX sequence in s exactly
// once (left to right) and reports whether any decoding happened. Malformed
// sequences (not enough hex digits, non-hex digits) are left untouched.
func percentDecodeOnce(s string) (string, bool) {
	if !strings.ContainsRune(s, '%') {
		return s, false
	}
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(hexVal(s[i+1])<<4 | hexVal(s[i+2]))
			i += 2
			changed = true
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String(), changed
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// normalizeEncode repeatedly percent-decodes s until a fixed point, then
// encodes once. This prevents the double-encoding that would otherwise
// result from applying url_encode to an already-encoded value (e.g. a
// caller-supplied callback URL that already carries "%26" for "&").
func normalizeEncode(s string) string {
	decoded := s
	// Bounded to guard against pathological inputs; real callback URLs
	// never nest encoding more than a couple of levels deep.
	for i := 0; i < 16; i++ {
		next, changed := percentDecodeOnce(decoded)
		if !changed || next == decoded {
			break
		}
		decoded = next
	}
	return percentEncodeAll(decoded)
}
