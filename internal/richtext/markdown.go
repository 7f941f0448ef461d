package richtext

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/Strob0t/ledgersync/internal/domain/ledger"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

// Markdown parses lightweight markup into ledger rich-text spans.
// Paragraphs, list items and code blocks are separated by newlines; code
// blocks and list markers degrade to plain text. Adjacent spans with the
// same style are merged and no span exceeds ledger.MaxTextLength.
func Markdown(src string) ([]ledger.RichText, error) {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))
	if doc == nil {
		return nil, fmt.Errorf("parse markdown: no document")
	}

	w := &spanWriter{source: source}
	w.blocks(doc)
	return w.finish(), nil
}

type style struct {
	ann  ledger.Annotations
	link string
}

type spanWriter struct {
	source []byte
	spans  []ledger.RichText
	// started is set once any block produced output, so separators are
	// only written between blocks.
	started bool
}

func (w *spanWriter) emit(s string, st style) {
	if s == "" {
		return
	}
	if n := len(w.spans); n > 0 {
		last := &w.spans[n-1]
		if last.SameStyle(ledger.RichText{Link: st.link, Annotations: st.ann}) {
			last.Content += s
			return
		}
	}
	w.spans = append(w.spans, ledger.RichText{Content: s, Link: st.link, Annotations: st.ann})
}

func (w *spanWriter) separate() {
	if w.started {
		w.emit("\n", style{})
	}
	w.started = true
}

func (w *spanWriter) blocks(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}
}

func (w *spanWriter) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		w.separate()
		w.inlines(n, style{})
	case *ast.List:
		i := n.Start
		if i == 0 {
			i = 1
		}
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			w.separate()
			if n.IsOrdered() {
				w.emit(strconv.Itoa(i)+". ", style{})
				i++
			} else {
				w.emit("- ", style{})
			}
			w.listItem(item)
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		w.separate()
		w.emit(strings.TrimRight(w.lines(n), "\n"), style{})
	case *ast.ThematicBreak:
		w.separate()
		w.emit("---", style{})
	default:
		// Blockquotes and any container we do not know: flatten children.
		w.blocks(n)
	}
}

// listItem writes the item's first block inline after the marker and any
// further blocks on their own lines.
func (w *spanWriter) listItem(item ast.Node) {
	first := true
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			if !first {
				w.emit("\n", style{})
			}
			w.inlines(c, style{})
		default:
			w.block(c)
		}
		first = false
	}
}

func (w *spanWriter) lines(n ast.Node) string {
	var b strings.Builder
	l := n.Lines()
	for i := 0; i < l.Len(); i++ {
		seg := l.At(i)
		b.Write(seg.Value(w.source))
	}
	return b.String()
}

func (w *spanWriter) inlines(parent ast.Node, st style) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.inline(n, st)
	}
}

func (w *spanWriter) inline(n ast.Node, st style) {
	switch n := n.(type) {
	case *ast.Text:
		w.emit(unescape(n.Segment.Value(w.source)), st)
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.emit("\n", st)
		}
	case *ast.String:
		w.emit(unescape(n.Value), st)
	case *ast.Emphasis:
		inner := st
		if n.Level >= 2 {
			inner.ann.Bold = true
		} else {
			inner.ann.Italic = true
		}
		w.inlines(n, inner)
	case *east.Strikethrough:
		inner := st
		inner.ann.Strikethrough = true
		w.inlines(n, inner)
	case *ast.CodeSpan:
		inner := st
		inner.ann.Code = true
		w.emit(w.raw(n), inner)
	case *ast.Link:
		inner := st
		inner.link = absoluteURL(string(n.Destination))
		w.inlines(n, inner)
	case *ast.AutoLink:
		inner := st
		target := string(n.URL(w.source))
		switch {
		case n.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(target, "mailto:"):
			target = "mailto:" + target
		case n.AutoLinkType == ast.AutoLinkURL && !strings.Contains(target, "://"):
			target = "http://" + target
		}
		inner.link = target
		w.emit(string(n.Label(w.source)), inner)
	case *ast.Image:
		w.inlines(n, st)
		w.emit(" (image)", st)
	case *ast.RawHTML:
		// Tags are stripped before parsing; anything left is dropped.
	default:
		w.inlines(n, st)
	}
}

// raw returns the literal text of a code span.
func (w *spanWriter) raw(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(w.source))
		case *ast.String:
			b.Write(c.Value)
		}
	}
	return b.String()
}

func (w *spanWriter) finish() []ledger.RichText {
	out := make([]ledger.RichText, 0, len(w.spans))
	for _, s := range w.spans {
		if ledger.TextLength(s.Content) <= ledger.MaxTextLength {
			out = append(out, s)
			continue
		}
		for _, part := range ledger.SplitText(s.Content, ledger.MaxTextLength) {
			out = append(out, ledger.RichText{Content: part, Link: s.Link, Annotations: s.Annotations})
		}
	}
	return out
}

// absoluteURL returns dest when the ledger can store it as a link, or ""
// for relative targets and fragments, which the ledger rejects.
func absoluteURL(dest string) string {
	u, err := url.Parse(dest)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return dest
}

func unescape(b []byte) string {
	b = util.UnescapePunctuations(b)
	b = util.ResolveNumericReferences(b)
	b = util.ResolveEntityNames(b)
	return string(b)
}
