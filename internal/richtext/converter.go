// Package richtext converts free-form issue bodies into ledger rich text.
package richtext

import (
	"fmt"
	"log/slog"

	"github.com/Strob0t/ledgersync/internal/domain/ledger"
)

// ParseFunc turns preprocessed markup into rich-text spans.
type ParseFunc func(src string) ([]ledger.RichText, error)

// Converter strips markup tags, rewrites headings and images and parses
// the result as markdown. It never fails: when parsing errors or panics it
// falls back to a single plain span of the tag-stripped text.
type Converter struct {
	parse ParseFunc
	log   *slog.Logger
}

// New returns a Converter backed by the goldmark parser.
func New(log *slog.Logger) *Converter {
	return &Converter{parse: Markdown, log: log}
}

// WithParser replaces the markup parser.
func (c *Converter) WithParser(parse ParseFunc) *Converter {
	c.parse = parse
	return c
}

// Convert returns the rich-text rendering of body. An empty body yields an
// empty slice.
func (c *Converter) Convert(body string) []ledger.RichText {
	stripped := Strip(body)
	spans, err := c.safeParse(Rewrite(stripped))
	if err != nil {
		c.log.Warn("rich text conversion failed, using plain text", "error", err)
		return Fallback(stripped)
	}
	if spans == nil {
		return []ledger.RichText{}
	}
	return spans
}

func (c *Converter) safeParse(src string) (spans []ledger.RichText, err error) {
	defer func() {
		if r := recover(); r != nil {
			spans, err = nil, fmt.Errorf("markup parser panic: %v", r)
		}
	}()
	return c.parse(src)
}

// Fallback returns stripped as one plain span cut to the ledger's text
// limit, or an empty slice when there is nothing to show.
func Fallback(stripped string) []ledger.RichText {
	text := ledger.TruncateText(stripped, ledger.MaxTextLength)
	if text == "" {
		return []ledger.RichText{}
	}
	return []ledger.RichText{ledger.Plain(text)}
}
