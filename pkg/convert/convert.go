// Package convert turns uploaded or fetched bytes into an intermediate
// document the renderer can lay out.
package convert

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

// Converter dispatches to the converter for each supported format.
type Converter struct {
	markdown *MarkdownConverter
	html     *HTMLConverter
	pdf      *PDFConverter
	text     *TextConverter
}

func New() *Converter {
	h := NewHTMLConverter()
	return &Converter{
		markdown: NewMarkdownConverter(h),
		html:     h,
		pdf:      NewPDFConverter(),
		text:     NewTextConverter(),
	}
}

func (c *Converter) Convert(ctx context.Context, data []byte, format models.Format) (*models.IntermediateDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("convert %s: empty input", format)
	}

	var (
		doc *models.IntermediateDocument
		err error
	)
	switch format {
	case models.FormatMarkdown:
		doc, err = c.markdown.Convert(data)
	case models.FormatHTML:
		doc, err = c.html.Convert(data)
	case models.FormatPDF:
		doc, err = c.pdf.Convert(data)
	case models.FormatText:
		doc, err = c.text.Convert(data)
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", format, err)
	}
	doc.SourceFormat = format
	return doc, nil
}

var extFormats = map[string]models.Format{
	".md":       models.FormatMarkdown,
	".markdown": models.FormatMarkdown,
	".mdown":    models.FormatMarkdown,
	".html":     models.FormatHTML,
	".htm":      models.FormatHTML,
	".xhtml":    models.FormatHTML,
	".pdf":      models.FormatPDF,
	".txt":      models.FormatText,
	".text":     models.FormatText,
}

// DetectFormat guesses the format of an upload from its name, falling back
// to content sniffing. It returns FormatUnknown when neither helps.
func DetectFormat(filename string, data []byte) models.Format {
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	if filepath.Ext(filename) != "" {
		return models.FormatUnknown
	}
	return FormatFromMediaType(http.DetectContentType(data))
}

// FormatFromMediaType maps a Content-Type header value to a format.
func FormatFromMediaType(mediaType string) models.Format {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mediaType))
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return models.FormatHTML
	case "text/markdown", "text/x-markdown":
		return models.FormatMarkdown
	case "application/pdf":
		return models.FormatPDF
	case "text/plain":
		return models.FormatText
	}
	return models.FormatUnknown
}
