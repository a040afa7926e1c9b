package jsonfix

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const indentUnit = "  "

// Pretty re-serializes valid JSON with two-space indentation. Keys keep their
// source order; a repeated key keeps its first position and its last value.
// Numbers are written exactly as they appear in the input and non-ASCII text
// is written literally. Invalid JSON and text that is not valid UTF-8 are
// returned unchanged.
func Pretty(text string) string {
	if !utf8.ValidString(text) || !gjson.Valid(text) {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + len(text)/2)
	writeValue(&b, gjson.Parse(text), 0)
	return b.String()
}

// Compact strips insignificant whitespace from valid JSON. Invalid JSON is
// returned unchanged.
func Compact(text string) string {
	if !gjson.Valid(text) {
		return text
	}
	return string(pretty.Ugly([]byte(text)))
}

type member struct {
	key   string
	value gjson.Result
}

func objectMembers(obj gjson.Result) []member {
	var members []member
	seen := make(map[string]int)
	obj.ForEach(func(key, value gjson.Result) bool {
		if i, ok := seen[key.Str]; ok {
			members[i].value = value
			return true
		}
		seen[key.Str] = len(members)
		members = append(members, member{key: key.Str, value: value})
		return true
	})
	return members
}

func writeValue(b *strings.Builder, v gjson.Result, depth int) {
	switch {
	case v.IsObject():
		members := objectMembers(v)
		if len(members) == 0 {
			b.WriteString("{}")
			return
		}
		b.WriteString("{\n")
		for i, m := range members {
			writeIndent(b, depth+1)
			writeString(b, m.key)
			b.WriteString(": ")
			writeValue(b, m.value, depth+1)
			if i < len(members)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		writeIndent(b, depth)
		b.WriteByte('}')
	case v.IsArray():
		items := v.Array()
		if len(items) == 0 {
			b.WriteString("[]")
			return
		}
		b.WriteString("[\n")
		for i, item := range items {
			writeIndent(b, depth+1)
			writeValue(b, item, depth+1)
			if i < len(items)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		writeIndent(b, depth)
		b.WriteByte(']')
	case v.Type == gjson.String:
		writeString(b, v.Str)
	default:
		// numbers, true, false and null
		b.WriteString(v.Raw)
	}
}

func writeIndent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString(indentUnit)
	}
}

// writeString quotes s with the minimal set of escapes.
func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
