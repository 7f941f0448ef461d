package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PropertyType tags the variant held by a PropertyValue.
type PropertyType string

const (
	PropertyTitle       PropertyType = "title"
	PropertyText        PropertyType = "text" // plain text, sent as rich_text
	PropertyRichText    PropertyType = "rich_text"
	PropertyNumber      PropertyType = "number"
	PropertyURL         PropertyType = "url"
	PropertyDate        PropertyType = "date"
	PropertySelect      PropertyType = "select"
	PropertyMultiSelect PropertyType = "multi_select"
)

// PropertyValue is a tagged union over the property types the ledger schema
// uses. Only the fields of the active Type are meaningful. Picking the right
// constructor for a given property name is the caller's responsibility.
type PropertyValue struct {
	Type        PropertyType
	RichText    []RichText
	Number      *float64
	URL         string
	Date        *time.Time
	Select      string
	MultiSelect []string
}

// Title builds a title property.
func Title(s string) PropertyValue {
	return PropertyValue{Type: PropertyTitle, RichText: textSpans(s)}
}

// Text builds a plain-text property.
func Text(s string) PropertyValue {
	return PropertyValue{Type: PropertyText, RichText: textSpans(s)}
}

// RichTextValue builds a rich-text property from pre-styled spans.
func RichTextValue(spans []RichText) PropertyValue {
	if spans == nil {
		spans = []RichText{}
	}
	return PropertyValue{Type: PropertyRichText, RichText: spans}
}

// Number builds a number property.
func Number(n float64) PropertyValue {
	return PropertyValue{Type: PropertyNumber, Number: &n}
}

// URL builds a url property.
func URL(u string) PropertyValue {
	return PropertyValue{Type: PropertyURL, URL: u}
}

// Date builds a date property. A zero time encodes as an empty date.
func Date(t time.Time) PropertyValue {
	if t.IsZero() {
		return PropertyValue{Type: PropertyDate}
	}
	return PropertyValue{Type: PropertyDate, Date: &t}
}

// Select builds a single-select property.
func Select(option string) PropertyValue {
	return PropertyValue{Type: PropertySelect, Select: option}
}

// MultiSelect builds a multi-select property. An empty list clears the property.
func MultiSelect(options []string) PropertyValue {
	out := make([]string, len(options))
	copy(out, options)
	return PropertyValue{Type: PropertyMultiSelect, MultiSelect: out}
}

// PlainText returns the text held by title, text and rich_text values.
func (p PropertyValue) PlainText() string {
	return PlainText(p.RichText)
}

// textSpans splits plain text into spans that respect the per-span limit.
func textSpans(s string) []RichText {
	if s == "" {
		return []RichText{}
	}
	parts := SplitText(s, MaxTextLength)
	spans := make([]RichText, 0, len(parts))
	for _, p := range parts {
		spans = append(spans, Plain(p))
	}
	return spans
}

type selectOption struct {
	Name string `json:"name"`
}

type dateValue struct {
	Start string `json:"start"`
}

// MarshalJSON encodes the value in the ledger's property wire shape.
func (p PropertyValue) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case PropertyTitle:
		return json.Marshal(map[string]any{"title": nonNilSpans(p.RichText)})
	case PropertyText, PropertyRichText:
		return json.Marshal(map[string]any{"rich_text": nonNilSpans(p.RichText)})
	case PropertyNumber:
		return json.Marshal(map[string]any{"number": p.Number})
	case PropertyURL:
		var u *string
		if p.URL != "" {
			u = &p.URL
		}
		return json.Marshal(map[string]any{"url": u})
	case PropertyDate:
		var d *dateValue
		if p.Date != nil {
			d = &dateValue{Start: p.Date.UTC().Format(time.RFC3339)}
		}
		return json.Marshal(map[string]any{"date": d})
	case PropertySelect:
		var s *selectOption
		if p.Select != "" {
			s = &selectOption{Name: p.Select}
		}
		return json.Marshal(map[string]any{"select": s})
	case PropertyMultiSelect:
		opts := make([]selectOption, 0, len(p.MultiSelect))
		for _, name := range p.MultiSelect {
			opts = append(opts, selectOption{Name: name})
		}
		return json.Marshal(map[string]any{"multi_select": opts})
	default:
		return nil, fmt.Errorf("marshal property: unsupported type %q", p.Type)
	}
}

// UnmarshalJSON decodes a property object read back from the ledger. Types
// outside the supported set keep their tag and no data.
func (p *PropertyValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        PropertyType   `json:"type"`
		Title       []RichText     `json:"title"`
		RichText    []RichText     `json:"rich_text"`
		Number      *float64       `json:"number"`
		URL         *string        `json:"url"`
		Date        *dateValue     `json:"date"`
		Select      *selectOption  `json:"select"`
		MultiSelect []selectOption `json:"multi_select"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = PropertyValue{Type: raw.Type}
	switch raw.Type {
	case PropertyTitle:
		p.RichText = raw.Title
	case PropertyRichText:
		p.RichText = raw.RichText
	case PropertyNumber:
		p.Number = raw.Number
	case PropertyURL:
		if raw.URL != nil {
			p.URL = *raw.URL
		}
	case PropertyDate:
		if raw.Date != nil && raw.Date.Start != "" {
			t, err := parseDate(raw.Date.Start)
			if err != nil {
				return fmt.Errorf("property date: %w", err)
			}
			p.Date = &t
		}
	case PropertySelect:
		if raw.Select != nil {
			p.Select = raw.Select.Name
		}
	case PropertyMultiSelect:
		p.MultiSelect = make([]string, 0, len(raw.MultiSelect))
		for _, o := range raw.MultiSelect {
			p.MultiSelect = append(p.MultiSelect, o.Name)
		}
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if !strings.Contains(s, "T") {
		return time.Parse(time.DateOnly, s)
	}
	return time.Parse(time.RFC3339, s)
}

func nonNilSpans(spans []RichText) []RichText {
	if spans == nil {
		return []RichText{}
	}
	return spans
}

// Properties maps property names to values.
type Properties map[string]PropertyValue

// Number returns the numeric value of the named property, if it is a set
// number property.
func (p Properties) Number(name string) (float64, bool) {
	v, ok := p[name]
	if !ok || v.Type != PropertyNumber || v.Number == nil {
		return 0, false
	}
	return *v.Number, true
}
