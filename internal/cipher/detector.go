package cipher

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	hexDigitsPattern      = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	base64AlphabetPattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
	percentPattern        = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	entityPattern         = regexp.MustCompile(`&[a-zA-Z][a-zA-Z0-9]*;|&#[0-9]+;|&#[xX][0-9a-fA-F]+;`)

	separatorStripper = strings.NewReplacer(" ", "", "\n", "")
)

// compactSeparators drops the spaces and newlines allowed between hex pairs
// and Base64 quads.
func compactSeparators(s string) string {
	return separatorStripper.Replace(s)
}

// LooksLikeHex reports whether s, trimmed and without spaces or newlines, is a
// non-empty even-length run of at least four hex digits.
func LooksLikeHex(s string) bool {
	c := compactSeparators(strings.TrimSpace(s))
	return len(c) >= 4 && len(c)%2 == 0 && hexDigitsPattern.MatchString(c)
}

// LooksLikeBase64 reports whether s, trimmed and without spaces or newlines,
// uses only the standard Base64 alphabet and has a length divisible by four.
func LooksLikeBase64(s string) bool {
	c := compactSeparators(strings.TrimSpace(s))
	return base64AlphabetPattern.MatchString(c) && len(c)%4 == 0
}

// SmartDetector reports which layers match the shape of its input.
type SmartDetector struct{}

// NewSmartDetector creates a new smart detector
func NewSmartDetector() *SmartDetector {
	return &SmartDetector{}
}

// Detect returns a result per matching layer, most confident first. Results
// below 0.3 confidence are dropped.
func (d *SmartDetector) Detect(ctx context.Context, input []byte) ([]DetectionResult, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.Valid(input) {
		return nil, fmt.Errorf("input is not valid UTF-8")
	}
	text := string(input)

	results := []DetectionResult{}
	results = append(results, d.detectEscapes(text)...)
	results = append(results, d.detectPercent(text)...)
	results = append(results, d.detectHTML(text)...)
	results = append(results, d.detectHex(text)...)
	results = append(results, d.detectBase64(text)...)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	filtered := []DetectionResult{}
	for _, r := range results {
		if r.Confidence >= 0.3 {
			filtered = append(filtered, r)
		}
	}

	return filtered, nil
}

// SupportedLayers returns the layers this detector can identify
func (d *SmartDetector) SupportedLayers() []Layer {
	return []Layer{LayerEscape, LayerPercent, LayerHTML, LayerHex, LayerBase64, LayerGzip}
}

func (d *SmartDetector) detectEscapes(text string) []DetectionResult {
	if !containsAny(text, escapeTriggers) {
		return nil
	}
	matches := escapeTokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	return []DetectionResult{{
		Layer:      LayerEscape,
		Confidence: math.Min(0.5+float64(len(matches))*0.1, 0.95),
		Reasoning:  fmt.Sprintf("Contains %d backslash escape sequences", len(matches)),
		Operation:  "unicode_unescape",
	}}
}

func (d *SmartDetector) detectPercent(text string) []DetectionResult {
	matches := percentPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	// Each match is 3 characters
	density := float64(len(matches)*3) / float64(len(text))
	confidence := 0.5 + math.Min(float64(len(matches))*0.1, 0.3) + math.Min(density, 0.2)
	if _, ok := percentDecode(text); !ok {
		confidence = 0.2
	}
	return []DetectionResult{{
		Layer:      LayerPercent,
		Confidence: math.Min(confidence, 0.95),
		Reasoning:  fmt.Sprintf("Contains %d URL-encoded sequences", len(matches)),
		Operation:  "url_decode",
	}}
}

func (d *SmartDetector) detectHTML(text string) []DetectionResult {
	matches := entityPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	return []DetectionResult{{
		Layer:      LayerHTML,
		Confidence: math.Min(0.4+float64(len(matches))*0.1, 0.9),
		Reasoning:  fmt.Sprintf("Contains %d HTML entities", len(matches)),
		Operation:  "html_decode",
	}}
}

func (d *SmartDetector) detectHex(text string) []DetectionResult {
	stripped := strings.TrimSpace(text)
	if !LooksLikeHex(stripped) {
		return nil
	}
	confidence := 0.8
	// All digits could just as well be a decimal number
	if strings.Trim(compactSeparators(stripped), "0123456789") == "" {
		confidence *= 0.6
	}
	reasoning := "Matches hexadecimal pattern"
	if _, _, ok := decodeHex(stripped); !ok {
		confidence = 0.25
		reasoning = "Matches hexadecimal pattern but does not decode to UTF-8"
	}
	return []DetectionResult{{
		Layer:      LayerHex,
		Confidence: confidence,
		Reasoning:  reasoning,
		Operation:  "hex_decode",
	}}
}

func (d *SmartDetector) detectBase64(text string) []DetectionResult {
	stripped := strings.TrimSpace(text)
	if !LooksLikeBase64(stripped) {
		return nil
	}
	_, layers, ok := decodeBase64(stripped)
	if !ok {
		return []DetectionResult{{
			Layer:      LayerBase64,
			Confidence: 0.2,
			Reasoning:  "Matches Base64 alphabet but does not decode to text",
			Operation:  "base64_decode",
		}}
	}
	results := []DetectionResult{{
		Layer:      LayerBase64,
		Confidence: 0.9,
		Reasoning:  "Matches Base64 pattern and decodes successfully",
		Operation:  "base64_decode",
	}}
	if len(layers) > 1 && layers[1] == LayerGzip {
		results = append(results, DetectionResult{
			Layer:      LayerGzip,
			Confidence: 0.99,
			Reasoning:  "Base64 payload starts with gzip magic bytes (0x1f 0x8b)",
			Operation:  "gzip_decompress",
		})
	}
	return results
}
