// Package htmlform pulls INPUT name/value pairs out of the hand written pages
// served by the controller.
//
// The pages are neither valid XML nor valid HTML, so extraction runs on the
// lenient tokenizer from golang.org/x/net/html and never fails. A broken page
// yields whatever fields could be read before the damage.
package htmlform

import (
	"strings"

	"golang.org/x/net/html"
)

// Field is one INPUT element in document order
type Field struct {
	Name  string
	Value string
}

// Extract returns the name/value pairs of all INPUT elements in doc. Element
// and attribute names match case-insensitively, values keep their case, the
// last element wins when names repeat and elements without a NAME are
// skipped. Invalid UTF-8 is replaced with U+FFFD.
func Extract(doc []byte) map[string]string {
	fields := ExtractFields(doc)
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Name] = f.Value
	}
	return out
}

// ExtractFields returns the INPUT elements of doc in document order,
// duplicates included.
func ExtractFields(doc []byte) []Field {
	text := strings.ToValidUTF8(string(doc), "\uFFFD")
	z := html.NewTokenizer(strings.NewReader(text))

	var fields []Field
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF, or a page the tokenizer gave up on
			return fields
		case html.StartTagToken, html.SelfClosingTagToken:
			// an unclosed TITLE, TEXTAREA or SCRIPT must not hide the
			// INPUTs after it
			z.NextIsNotRawText()
			name, hasAttr := z.TagName()
			if string(name) != "input" || !hasAttr {
				continue
			}
			if f, ok := readInput(z); ok {
				fields = append(fields, f)
			}
		}
	}
}

// readInput consumes the attributes of the current tag. The first occurrence
// of an attribute wins, as in a browser.
func readInput(z *html.Tokenizer) (Field, bool) {
	var f Field
	var haveName, haveValue bool
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "name":
			if !haveName {
				f.Name = string(val)
				haveName = true
			}
		case "value":
			if !haveValue {
				f.Value = string(val)
				haveValue = true
			}
		}
		if !more {
			break
		}
	}
	return f, haveName && f.Name != ""
}
