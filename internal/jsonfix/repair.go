// Package jsonfix repairs and re-serializes JSON recovered from decoded
// payloads. Every function is total: input it cannot handle comes back
// unchanged.
package jsonfix

import (
	"regexp"
	"strings"
)

// stringLiteralPattern matches one double-quoted span with its backslash
// escapes. Raw control characters are allowed inside so they can be fixed.
var stringLiteralPattern = regexp.MustCompile(`"([^"\\]*(?:\\.[^"\\]*)*)"`)

// CRLF must win over its parts so a Windows line break becomes one escape.
var lineBreakEscaper = strings.NewReplacer("\r\n", `\n`, "\r", `\n`, "\n", `\n`)

// Repair escapes raw line breaks found inside JSON string literals so the
// text parses. Text outside string literals is left alone.
func Repair(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	return stringLiteralPattern.ReplaceAllStringFunc(text, func(lit string) string {
		body := lit[1 : len(lit)-1]
		return `"` + lineBreakEscaper.Replace(body) + `"`
	})
}

// Format repairs text and pretty-prints the result.
func Format(text string) string {
	return Pretty(Repair(text))
}
