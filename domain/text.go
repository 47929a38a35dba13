// domain/text.go
package domain

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// PlainText flattens rich structured content into its visible text. Content
// may be a JSON string, or a document tree whose text lives under "text"
// (ProseMirror style) or "insert" (delta style) keys.
func PlainText(content json.RawMessage) string {
	if len(content) == 0 {
		return ""
	}
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return string(content)
	}
	var b strings.Builder
	collectText(doc, &b)
	return strings.TrimSpace(b.String())
}

func collectText(v any, b *strings.Builder) {
	switch t := v.(type) {
	case string:
		appendText(b, t)
	case []any:
		for _, item := range t {
			collectText(item, b)
		}
	case map[string]any:
		for _, key := range []string{"text", "insert"} {
			if s, ok := t[key].(string); ok {
				appendText(b, s)
			}
		}
		for _, key := range []string{"content", "ops", "children"} {
			if child, ok := t[key]; ok {
				collectText(child, b)
			}
		}
	}
}

func appendText(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(s)
}

func SearchableText(title, plain string) string {
	return strings.ToLower(strings.TrimSpace(title + " " + plain))
}

func CharacterCount(plain string) int {
	return utf8.RuneCountInString(plain)
}

func WordCount(plain string) int {
	return len(strings.Fields(plain))
}

// NormalizeTags trims names, drops empties and keeps first occurrence order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
