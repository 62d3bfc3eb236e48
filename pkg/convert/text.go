package convert

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/xhad/inkdrop/internal/models"
)

const maxTitleLen = 80

type TextConverter struct{}

func NewTextConverter() *TextConverter { return &TextConverter{} }

// Convert splits plain text into paragraphs on blank lines. The first line
// doubles as the title.
func (c *TextConverter) Convert(data []byte) (*models.IntermediateDocument, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("text is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	doc := &models.IntermediateDocument{}
	for _, para := range strings.Split(text, "\n\n") {
		if p := collapse(para); p != "" {
			doc.Blocks = append(doc.Blocks, models.Block{Kind: models.BlockParagraph, Text: p})
		}
	}
	if len(doc.Blocks) == 0 {
		return nil, errors.New("text is empty")
	}

	title := collapse(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	if len(title) > maxTitleLen {
		cut := maxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut]) + "…"
	}
	doc.Title = title
	return doc, nil
}
