// Package ledger defines the ledger-side domain types: entries, their typed
// property values and content blocks, in the ledger's wire shapes.
package ledger

import (
	"encoding/json"
	"unicode/utf16"
	"unicode/utf8"
)

// Ledger limits. Text is measured in UTF-16 code units.
const (
	MaxTextLength       = 2000
	MaxRichTextSpans    = 100
	MaxBlocksPerRequest = 100
)

// Annotations are the inline styles of a rich-text span.
type Annotations struct {
	Bold          bool   `json:"bold"`
	Italic        bool   `json:"italic"`
	Strikethrough bool   `json:"strikethrough"`
	Underline     bool   `json:"underline"`
	Code          bool   `json:"code"`
	Color         string `json:"color"`
}

// RichText is one styled run of text, optionally linked.
type RichText struct {
	Content     string
	Link        string
	Annotations Annotations
}

// Plain returns an unstyled span.
func Plain(content string) RichText {
	return RichText{Content: content}
}

// SameStyle reports whether two spans can be merged into one.
func (r RichText) SameStyle(o RichText) bool {
	return r.Link == o.Link && r.Annotations.normalized() == o.Annotations.normalized()
}

func (a Annotations) normalized() Annotations {
	if a.Color == "" {
		a.Color = "default"
	}
	return a
}

type wireLink struct {
	URL string `json:"url"`
}

type wireText struct {
	Content string    `json:"content"`
	Link    *wireLink `json:"link"`
}

type wireRichText struct {
	Type        string      `json:"type"`
	Text        *wireText   `json:"text,omitempty"`
	Annotations Annotations `json:"annotations"`
	PlainText   string      `json:"plain_text,omitempty"`
	Href        string      `json:"href,omitempty"`
}

// MarshalJSON encodes the span as a ledger "text" rich-text object.
func (r RichText) MarshalJSON() ([]byte, error) {
	w := wireRichText{
		Type:        "text",
		Text:        &wireText{Content: r.Content},
		Annotations: r.Annotations.normalized(),
	}
	if r.Link != "" {
		w.Text.Link = &wireLink{URL: r.Link}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes any rich-text object; non-text spans (mentions,
// equations) keep their plain text rendering.
func (r *RichText) UnmarshalJSON(data []byte) error {
	var w wireRichText
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RichText{Annotations: w.Annotations, Content: w.PlainText, Link: w.Href}
	if w.Text != nil {
		r.Content = w.Text.Content
		if w.Text.Link != nil {
			r.Link = w.Text.Link.URL
		}
	}
	return nil
}

// PlainText concatenates the content of all spans.
func PlainText(spans []RichText) string {
	n := 0
	for i := range spans {
		n += len(spans[i].Content)
	}
	buf := make([]byte, 0, n)
	for i := range spans {
		buf = append(buf, spans[i].Content...)
	}
	return string(buf)
}

// TextLength returns the length of s in UTF-16 code units.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// TruncateText cuts s to at most limit UTF-16 code units without splitting
// a character.
func TruncateText(s string, limit int) string {
	n := 0
	for i, r := range s {
		l := utf16.RuneLen(r)
		if l < 0 {
			l = 1
		}
		if n+l > limit {
			return s[:i]
		}
		n += l
	}
	return s
}

// SplitText breaks s into consecutive pieces of at most limit UTF-16 code units.
func SplitText(s string, limit int) []string {
	var parts []string
	for s != "" {
		head := TruncateText(s, limit)
		if head == "" {
			// limit smaller than one character; emit it whole
			_, size := utf8.DecodeRuneInString(s)
			head = s[:size]
		}
		parts = append(parts, head)
		s = s[len(head):]
	}
	return parts
}
