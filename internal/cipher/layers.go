package cipher

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/hex"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// maxInflatedBytes bounds gzip output so a small Base64 blob cannot expand
// without limit.
const maxInflatedBytes = 64 << 20

// escapeTriggers gate the escape step; \U alone does not trigger it.
var escapeTriggers = []string{`\u`, `\n`, `\t`, `\x`}

// escapeTokenPattern matches one escape token. A UTF-16 surrogate pair is
// tried before a single \u token so the pair decodes to one code point.
var escapeTokenPattern = regexp.MustCompile(
	`\\u[dD][89abAB][0-9a-fA-F]{2}\\u[dD][c-fC-F][0-9a-fA-F]{2}` +
		`|\\u[0-9a-fA-F]{4}` +
		`|\\U[0-9a-fA-F]{8}` +
		`|\\x[0-9a-fA-F]{2}` +
		`|\\[nrtfb"\\]`)

// unescapeSequences replaces escape tokens and leaves every other character,
// including already decoded non-ASCII text, as it is.
func unescapeSequences(s string) (string, bool) {
	if !containsAny(s, escapeTriggers) {
		return s, false
	}
	out := escapeTokenPattern.ReplaceAllStringFunc(s, unescapeToken)
	return out, out != s
}

// unescapeToken decodes a single token matched by escapeTokenPattern. Tokens
// that do not name a valid code point come back verbatim.
func unescapeToken(tok string) string {
	switch tok[1] {
	case 'n':
		return "\n"
	case 'r':
		return "\r"
	case 't':
		return "\t"
	case 'f':
		return "\f"
	case 'b':
		return "\b"
	case '"':
		return `"`
	case '\\':
		return `\`
	case 'x':
		v, err := strconv.ParseUint(tok[2:], 16, 8)
		if err != nil {
			return tok
		}
		return string(rune(v))
	case 'u':
		hi, err := strconv.ParseUint(tok[2:6], 16, 32)
		if err != nil {
			return tok
		}
		if len(tok) == 12 {
			lo, err := strconv.ParseUint(tok[8:], 16, 32)
			if err != nil {
				return tok
			}
			return string(utf16.DecodeRune(rune(hi), rune(lo)))
		}
		if utf16.IsSurrogate(rune(hi)) {
			return tok
		}
		return string(rune(hi))
	case 'U':
		v, err := strconv.ParseUint(tok[2:], 16, 32)
		if err != nil || !utf8.ValidRune(rune(v)) {
			return tok
		}
		return string(rune(v))
	}
	return tok
}

// percentDecode turns every %XX into its byte. '+' is literal and a '%' that
// does not start a hex pair is copied through. The step only applies when the
// decoded bytes form valid UTF-8.
func percentDecode(s string) (string, bool) {
	if !strings.Contains(s, "%") {
		return s, false
	}
	var b strings.Builder
	b.Grow(len(s))
	decoded := false
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			decoded = true
			continue
		}
		b.WriteByte(s[i])
	}
	if !decoded {
		return s, false
	}
	out := b.String()
	if !utf8.ValidString(out) {
		return s, false
	}
	return out, out != s
}

// htmlDecode resolves named and numeric character references.
func htmlDecode(s string) (string, bool) {
	if !strings.Contains(s, "&") {
		return s, false
	}
	out := html.UnescapeString(s)
	return out, out != s
}

// decodeHex decodes a hex-like string whose bytes form valid UTF-8.
func decodeHex(stripped string) (string, []Layer, bool) {
	raw, err := hex.DecodeString(compactSeparators(stripped))
	if err != nil || !utf8.Valid(raw) {
		return "", nil, false
	}
	return string(raw), []Layer{LayerHex}, true
}

// decodeBase64 decodes padded standard Base64. Bytes that are a gzip stream
// are inflated first; bytes that are neither gzip nor UTF-8 are never
// surfaced.
func decodeBase64(stripped string) (string, []Layer, bool) {
	raw, err := base64.StdEncoding.DecodeString(compactSeparators(stripped))
	if err != nil {
		return "", nil, false
	}
	if text, ok := gunzipText(raw); ok {
		return text, []Layer{LayerBase64, LayerGzip}, true
	}
	if !utf8.Valid(raw) {
		return "", nil, false
	}
	return string(raw), []Layer{LayerBase64}, true
}

// gunzipText inflates raw and reports whether it produced non-empty UTF-8.
func gunzipText(raw []byte) (string, bool) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", false
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxInflatedBytes+1))
	if err != nil || len(out) == 0 || len(out) > maxInflatedBytes {
		return "", false
	}
	if !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isHexDigit(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
