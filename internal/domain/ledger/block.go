package ledger

import (
	"encoding/json"
	"fmt"
)

// BlockType tags the variant held by a Block.
type BlockType string

// BlockParagraph is the only block type the engine writes.
const BlockParagraph BlockType = "paragraph"

// Block is a content block of an entry. ID is empty until the block is
// persisted. Blocks of other types read back from the ledger keep their type
// and whatever rich text they carry.
type Block struct {
	ID       string
	Type     BlockType
	RichText []RichText
}

// Paragraph builds an unpersisted paragraph block.
func Paragraph(spans []RichText) Block {
	return Block{Type: BlockParagraph, RichText: nonNilSpans(spans)}
}

// ParagraphsFromSpans packs spans into as few paragraphs as the per-block
// span limit allows, preserving order. No spans yield no blocks.
func ParagraphsFromSpans(spans []RichText) []Block {
	var blocks []Block
	for len(spans) > 0 {
		n := min(len(spans), MaxRichTextSpans)
		chunk := make([]RichText, n)
		copy(chunk, spans[:n])
		blocks = append(blocks, Paragraph(chunk))
		spans = spans[n:]
	}
	return blocks
}

type blockContent struct {
	RichText []RichText `json:"rich_text"`
}

// MarshalJSON encodes the block for create/append requests.
func (b Block) MarshalJSON() ([]byte, error) {
	if b.Type != BlockParagraph {
		return nil, fmt.Errorf("marshal block: unsupported type %q", b.Type)
	}
	return json.Marshal(map[string]any{
		"object":       "block",
		"type":         b.Type,
		string(b.Type): blockContent{RichText: nonNilSpans(b.RichText)},
	})
}

// ContentJSON encodes only the typed payload, the shape block updates take.
func (b Block) ContentJSON() ([]byte, error) {
	if b.Type != BlockParagraph {
		return nil, fmt.Errorf("marshal block content: unsupported type %q", b.Type)
	}
	return json.Marshal(map[string]any{
		string(b.Type): blockContent{RichText: nonNilSpans(b.RichText)},
	})
}

// UnmarshalJSON decodes a block object read back from the ledger.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = Block{}
	if v, ok := raw["id"]; ok {
		if err := json.Unmarshal(v, &b.ID); err != nil {
			return fmt.Errorf("block id: %w", err)
		}
	}
	if v, ok := raw["type"]; ok {
		if err := json.Unmarshal(v, &b.Type); err != nil {
			return fmt.Errorf("block type: %w", err)
		}
	}
	if v, ok := raw[string(b.Type)]; ok && b.Type != "" {
		var c blockContent
		// Not every block type carries rich text; ignore shapes that do not.
		if json.Unmarshal(v, &c) == nil {
			b.RichText = c.RichText
		}
	}
	return nil
}
