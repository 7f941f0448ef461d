package richtext

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	autolinkTag = regexp.MustCompile(`^<(?:https?://|mailto:)[^\s<>]*>$`)
	blankRuns   = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)*`)
	headingLine = regexp.MustCompile(`(?m)^ {0,3}#{1,6}(?:[ \t]+(.*?))?(?:[ \t]+#+)?[ \t]*$`)
	inlineImage = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	refImage    = regexp.MustCompile(`!\[([^\]]*)\]\[[^\]]*\]`)
)

// Strip removes markup tags (paired, self-closing, comments, doctypes)
// and keeps the text between them verbatim. An <img> tag becomes its alt
// text followed by "(image)"; <br> becomes a newline. Angle-bracket
// autolinks such as <https://example.com> are kept for the markdown pass.
// Anything that only looks like a tag is kept too: a "<" that is never
// closed (i<n), a name that is no HTML element (Vec<String>) and an
// unterminated comment.
func Strip(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	z := html.NewTokenizer(strings.NewReader(s))
	consumed := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// Reading a string only fails at EOF. An unfinished tag at the
			// end of the input has not been written; keep it as text.
			b.WriteString(s[consumed:])
			return b.String()
		}
		raw := z.Raw()
		consumed += len(raw)

		switch tt {
		case html.TextToken:
			// Raw keeps entities and whitespace as written.
			b.Write(raw)
		case html.CommentToken, html.DoctypeToken:
			if !bytes.HasSuffix(raw, []byte(">")) {
				b.Write(raw)
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, hasAttr := z.TagName()
			switch {
			case autolinkTag.Match(raw), atom.Lookup(name) == 0:
				b.Write(raw)
			case tt == html.EndTagToken:
			case atom.Lookup(name) == atom.Img:
				b.WriteString(imageText(altAttr(z, hasAttr)))
			case atom.Lookup(name) == atom.Br:
				b.WriteByte('\n')
			}
		}
	}
}

func altAttr(z *html.Tokenizer, more bool) string {
	for more {
		var key, val []byte
		key, val, more = z.TagAttr()
		if string(key) == "alt" {
			return string(val)
		}
	}
	return ""
}

func imageText(alt string) string {
	alt = strings.TrimSpace(alt)
	if alt == "" {
		return "(image)"
	}
	return alt + " (image)"
}

// Rewrite normalizes line endings, collapses runs of blank lines into a
// single newline, turns headings into bold text and image references into
// their alt text followed by "(image)".
func Rewrite(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRuns.ReplaceAllString(s, "\n")
	s = headingLine.ReplaceAllStringFunc(s, func(line string) string {
		m := headingLine.FindStringSubmatch(line)
		title := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*_"))
		if title == "" {
			return ""
		}
		return "**" + title + "**"
	})
	s = inlineImage.ReplaceAllStringFunc(s, func(ref string) string {
		return imageText(inlineImage.FindStringSubmatch(ref)[1])
	})
	return refImage.ReplaceAllStringFunc(s, func(ref string) string {
		return imageText(refImage.FindStringSubmatch(ref)[1])
	})
}
