package convert

import (
	"bytes"
	"fmt"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// MarkdownConverter renders Markdown to HTML with goldmark and reuses the
// HTML walker for the block tree.
type MarkdownConverter struct {
	md   goldmark.Markdown
	html *HTMLConverter
}

func NewMarkdownConverter(h *HTMLConverter) *MarkdownConverter {
	return &MarkdownConverter{
		md:   goldmark.New(goldmark.WithExtensions(extension.GFM)),
		html: h,
	}
}

func (c *MarkdownConverter) Convert(data []byte) (*models.IntermediateDocument, error) {
	var buf bytes.Buffer
	if err := c.md.Convert(data, &buf); err != nil {
		return nil, fmt.Errorf("markdown: %w", err)
	}
	return c.html.Convert(buf.Bytes())
}
