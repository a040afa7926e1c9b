package cipher

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Percent Operations

// URLEncodeOp percent-encodes everything except RFC 3986 unreserved
// characters. Spaces become %20 so the result never relies on '+'.
type URLEncodeOp struct {
	BaseOperation
}

func (op *URLEncodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	encoded := strings.ReplaceAll(url.QueryEscape(string(input)), "+", "%20")
	return []byte(encoded), nil
}

// URLDecodeOp decodes percent-encoded data. '+' stays literal.
type URLDecodeOp struct {
	BaseOperation
}

func (op *URLDecodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	decoded, err := url.PathUnescape(string(input))
	if err != nil {
		return nil, fmt.Errorf("url decode failed: %w", err)
	}
	return []byte(decoded), nil
}

// HTML Entity Operations

// HTMLEncodeOp encodes special characters as HTML entities
type HTMLEncodeOp struct {
	BaseOperation
}

func (op *HTMLEncodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	return []byte(html.EscapeString(string(input))), nil
}

// HTMLDecodeOp decodes HTML entities to their character equivalents
type HTMLDecodeOp struct {
	BaseOperation
}

func (op *HTMLDecodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	return []byte(html.UnescapeString(string(input))), nil
}

// Hex Operations

// HexEncodeOp encodes bytes as hexadecimal string
type HexEncodeOp struct {
	BaseOperation
}

func (op *HexEncodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	return []byte(hex.EncodeToString(input)), nil
}

// HexDecodeOp decodes hexadecimal text, ignoring spaces and newlines between
// pairs.
type HexDecodeOp struct {
	BaseOperation
}

func (op *HexDecodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	decoded, err := hex.DecodeString(compactSeparators(strings.TrimSpace(string(input))))
	if err != nil {
		return nil, fmt.Errorf("hex decode failed: %w", err)
	}
	return decoded, nil
}

// Base64 Operations

// Base64EncodeOp encodes data as standard Base64
type Base64EncodeOp struct {
	BaseOperation
}

func (op *Base64EncodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(input)), nil
}

// Base64DecodeOp decodes standard Base64 data
type Base64DecodeOp struct {
	BaseOperation
}

func (op *Base64DecodeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(compactSeparators(strings.TrimSpace(string(input))))
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}
	return decoded, nil
}

// Gzip Operations

// GzipCompressOp compresses data using gzip
type GzipCompressOp struct {
	BaseOperation
}

func (op *GzipCompressOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(input); err != nil {
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}

	return buf.Bytes(), nil
}

// GzipDecompressOp decompresses gzip data
type GzipDecompressOp struct {
	BaseOperation
}

func (op *GzipDecompressOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("gzip reader failed: %w", err)
	}
	defer reader.Close()

	output, err := io.ReadAll(io.LimitReader(reader, maxInflatedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	if len(output) > maxInflatedBytes {
		return nil, fmt.Errorf("gzip output exceeds %d bytes", maxInflatedBytes)
	}

	return output, nil
}

// Escape Operations

// UnicodeEscapeOp writes non-ASCII characters as \uXXXX (surrogate pairs
// above the BMP) and escapes backslash, quote, newline, CR and tab.
type UnicodeEscapeOp struct {
	BaseOperation
}

func (op *UnicodeEscapeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	if !utf8.Valid(input) {
		return nil, fmt.Errorf("unicode escape needs UTF-8 input")
	}
	var b strings.Builder
	for _, r := range string(input) {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < utf8.RuneSelf:
				b.WriteRune(r)
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(&b, `\u%04x`, r)
			}
		}
	}
	return []byte(b.String()), nil
}

// UnicodeUnescapeOp replaces backslash escape tokens with the characters they
// name.
type UnicodeUnescapeOp struct {
	BaseOperation
}

func (op *UnicodeUnescapeOp) Execute(ctx context.Context, input []byte, params map[string]interface{}) ([]byte, error) {
	if !utf8.Valid(input) {
		return nil, fmt.Errorf("unicode unescape needs UTF-8 input")
	}
	return []byte(escapeTokenPattern.ReplaceAllStringFunc(string(input), unescapeToken)), nil
}

// pair wires an encoder and its decoder as each other's reverse.
func pair(layer Layer, enc, dec Operation, encBase, decBase *BaseOperation) {
	encBase.LayerValue = layer
	decBase.LayerValue = layer
	encBase.ReverseOp = dec
	decBase.ReverseOp = enc
}

// init registers the layer operations
func init() {
	urlEncode := &URLEncodeOp{BaseOperation{NameValue: "url_encode", TypeValue: OperationTypeEncode, DescriptionValue: "Percent-encode data (spaces as %20)"}}
	urlDecode := &URLDecodeOp{BaseOperation{NameValue: "url_decode", TypeValue: OperationTypeDecode, DescriptionValue: "Percent-decode data"}}

	htmlEncode := &HTMLEncodeOp{BaseOperation{NameValue: "html_encode", TypeValue: OperationTypeEncode, DescriptionValue: "Encode special characters as HTML entities"}}
	htmlDecode := &HTMLDecodeOp{BaseOperation{NameValue: "html_decode", TypeValue: OperationTypeDecode, DescriptionValue: "Decode HTML entities"}}

	hexEncode := &HexEncodeOp{BaseOperation{NameValue: "hex_encode", TypeValue: OperationTypeEncode, DescriptionValue: "Encode bytes as hexadecimal string"}}
	hexDecode := &HexDecodeOp{BaseOperation{NameValue: "hex_decode", TypeValue: OperationTypeDecode, DescriptionValue: "Decode hexadecimal string to bytes"}}

	base64Encode := &Base64EncodeOp{BaseOperation{NameValue: "base64_encode", TypeValue: OperationTypeEncode, DescriptionValue: "Encode data as standard Base64"}}
	base64Decode := &Base64DecodeOp{BaseOperation{NameValue: "base64_decode", TypeValue: OperationTypeDecode, DescriptionValue: "Decode standard Base64 data"}}

	gzipCompress := &GzipCompressOp{BaseOperation{NameValue: "gzip_compress", TypeValue: OperationTypeCompress, DescriptionValue: "Compress data with gzip"}}
	gzipDecompress := &GzipDecompressOp{BaseOperation{NameValue: "gzip_decompress", TypeValue: OperationTypeDecompress, DescriptionValue: "Decompress gzip data"}}

	unicodeEscape := &UnicodeEscapeOp{BaseOperation{NameValue: "unicode_escape", TypeValue: OperationTypeEncode, DescriptionValue: "Write non-ASCII characters as \\uXXXX escapes"}}
	unicodeUnescape := &UnicodeUnescapeOp{BaseOperation{NameValue: "unicode_unescape", TypeValue: OperationTypeDecode, DescriptionValue: "Resolve backslash escape sequences"}}

	pair(LayerPercent, urlEncode, urlDecode, &urlEncode.BaseOperation, &urlDecode.BaseOperation)
	pair(LayerHTML, htmlEncode, htmlDecode, &htmlEncode.BaseOperation, &htmlDecode.BaseOperation)
	pair(LayerHex, hexEncode, hexDecode, &hexEncode.BaseOperation, &hexDecode.BaseOperation)
	pair(LayerBase64, base64Encode, base64Decode, &base64Encode.BaseOperation, &base64Decode.BaseOperation)
	pair(LayerGzip, gzipCompress, gzipDecompress, &gzipCompress.BaseOperation, &gzipDecompress.BaseOperation)
	pair(LayerEscape, unicodeEscape, unicodeUnescape, &unicodeEscape.BaseOperation, &unicodeUnescape.BaseOperation)

	mustRegister(
		urlEncode, urlDecode,
		htmlEncode, htmlDecode,
		hexEncode, hexDecode,
		base64Encode, base64Decode,
		gzipCompress, gzipDecompress,
		unicodeEscape, unicodeUnescape,
	)
}
