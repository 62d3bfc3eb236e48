package convert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/testutil"
	"github.com/xhad/inkdrop/internal/types"
)

func TestConvertMarkdown(t *testing.T) {
	src := "# Field Notes\n\nFirst paragraph with *emphasis*.\n\n- one\n- two\n\n```\ncode here\n```\n\n> quoted\n"

	doc, err := New().Convert(context.Background(), []byte(src), models.FormatMarkdown)
	require.NoError(t, err)

	assert.Equal(t, "Field Notes", doc.Title)
	assert.Equal(t, models.FormatMarkdown, doc.SourceFormat)
	require.NotEmpty(t, doc.Blocks)
	assert.Equal(t, models.Block{Kind: models.BlockHeading, Level: 1, Text: "Field Notes"}, doc.Blocks[0])
	assert.Contains(t, doc.PlainText(), "First paragraph with emphasis.")

	kinds := map[models.BlockKind]int{}
	for _, b := range doc.Blocks {
		kinds[b.Kind]++
	}
	assert.Equal(t, 2, kinds[models.BlockListItem])
	assert.Equal(t, 1, kinds[models.BlockCode])
	assert.Equal(t, 1, kinds[models.BlockQuote])
}

func TestConvertHTML(t *testing.T) {
	src := `<html><head><title>Page</title><meta name="author" content="Grace"></head>
<body><h2>Intro</h2><p>Hello <b>world</b></p><img src="a.png" alt="diagram"><div>loose text</div></body></html>`

	doc, err := New().Convert(context.Background(), []byte(src), models.FormatHTML)
	require.NoError(t, err)

	assert.Equal(t, "Page", doc.Title)
	assert.Equal(t, "Grace", doc.Author)
	assert.Contains(t, doc.PlainText(), "Hello world")
	assert.Contains(t, doc.PlainText(), "loose text")
	require.Len(t, doc.Assets, 1)
	assert.Equal(t, "a.png", doc.Assets[0].URL)
}

func TestConvertText(t *testing.T) {
	doc, err := New().Convert(context.Background(), []byte("Shopping list\nmilk\n\neggs"), models.FormatText)
	require.NoError(t, err)

	assert.Equal(t, "Shopping list", doc.Title)
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "Shopping list milk", doc.Blocks[0].Text)
}

func TestConvertPDF(t *testing.T) {
	doc, err := New().Convert(context.Background(), testutil.MinimalPDF(3), models.FormatPDF)
	require.NoError(t, err)

	assert.Equal(t, 3, doc.PageCount)
	assert.NotEmpty(t, doc.Raw)
	assert.Equal(t, models.FormatPDF, doc.SourceFormat)
}

func TestConvertErrors(t *testing.T) {
	c := New()

	_, err := c.Convert(context.Background(), []byte("data"), models.FormatUnknown)
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)

	_, err = c.Convert(context.Background(), []byte("not a pdf"), models.FormatPDF)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrUnsupportedFormat)

	_, err = c.Convert(context.Background(), nil, models.FormatText)
	assert.Error(t, err)

	_, err = c.Convert(context.Background(), []byte{0xff, 0xfe, 0xfd}, models.FormatText)
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		want     models.Format
	}{
		{"markdown extension", "notes.MD", []byte("# hi"), models.FormatMarkdown},
		{"html extension", "page.htm", nil, models.FormatHTML},
		{"pdf extension", "paper.pdf", nil, models.FormatPDF},
		{"unknown extension", "archive.zip", []byte("PK"), models.FormatUnknown},
		{"sniffed pdf", "", testutil.MinimalPDF(1), models.FormatPDF},
		{"sniffed html", "", []byte("<!DOCTYPE html><html></html>"), models.FormatHTML},
		{"sniffed text", "upload", []byte("plain words"), models.FormatText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.filename, tt.data))
		})
	}
}

func TestFormatFromMediaType(t *testing.T) {
	assert.Equal(t, models.FormatHTML, FormatFromMediaType("text/html; charset=utf-8"))
	assert.Equal(t, models.FormatMarkdown, FormatFromMediaType("text/markdown"))
	assert.Equal(t, models.FormatPDF, FormatFromMediaType("application/pdf"))
	assert.Equal(t, models.FormatText, FormatFromMediaType("text/plain"))
	assert.Equal(t, models.FormatUnknown, FormatFromMediaType("image/png"))
}
