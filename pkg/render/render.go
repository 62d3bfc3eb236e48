// Package render lays out intermediate documents in a format the tablet
// reads natively: EPUB for reflowable text, PDF passed through as is.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strings"

	"github.com/bmaupin/go-epub"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xhad/inkdrop/internal/models"
)

const (
	FormatEPUB = "epub"
	FormatPDF  = "pdf"
)

type Config struct {
	Language string
	// SectionLevel splits the EPUB into sections at headings of this level or
	// higher. Zero means 2.
	SectionLevel int
	// EmbedImages downloads referenced images into the EPUB at render time.
	EmbedImages  bool
	OptimizePDF  bool
	TempDir      string
	DefaultTitle string
}

type Renderer struct {
	config  Config
	pdfConf *model.Configuration
}

func New(config Config) *Renderer {
	if config.Language == "" {
		config.Language = "en"
	}
	if config.SectionLevel == 0 {
		config.SectionLevel = 2
	}
	if config.DefaultTitle == "" {
		config.DefaultTitle = "Untitled"
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Renderer{config: config, pdfConf: conf}
}

func (r *Renderer) Render(ctx context.Context, doc *models.IntermediateDocument) (*models.RenderedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("render: nil document")
	}
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = r.config.DefaultTitle
	}

	if doc.SourceFormat == models.FormatPDF && len(doc.Raw) > 0 {
		return r.renderPDF(title, doc), nil
	}
	if len(doc.Blocks) == 0 {
		return nil, errors.New("render: document has no content blocks")
	}
	return r.renderEPUB(title, doc)
}

func (r *Renderer) renderPDF(title string, doc *models.IntermediateDocument) *models.RenderedDocument {
	data := doc.Raw
	if r.config.OptimizePDF {
		var buf bytes.Buffer
		if err := api.Optimize(bytes.NewReader(doc.Raw), &buf, r.pdfConf); err == nil && buf.Len() > 0 {
			data = buf.Bytes()
		}
	}
	return &models.RenderedDocument{
		Title:     title,
		Format:    FormatPDF,
		MediaType: "application/pdf",
		Data:      data,
		PageCount: doc.PageCount,
	}
}

func (r *Renderer) renderEPUB(title string, doc *models.IntermediateDocument) (*models.RenderedDocument, error) {
	e := epub.NewEpub(title)
	e.SetLang(r.config.Language)
	if doc.Author != "" {
		e.SetAuthor(doc.Author)
	}
	if doc.SourceURL != "" {
		e.SetDescription("Source: " + doc.SourceURL)
	}

	sections := r.sections(title, doc.Blocks)
	for _, s := range sections {
		if _, err := e.AddSection(r.body(e, s.blocks), s.title, "", ""); err != nil {
			return nil, fmt.Errorf("add section %q: %w", s.title, err)
		}
	}

	f, err := os.CreateTemp(r.config.TempDir, "inkdrop-*.epub")
	if err != nil {
		return nil, fmt.Errorf("create temp epub: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := e.Write(path); err != nil {
		return nil, fmt.Errorf("write epub: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read epub: %w", err)
	}

	return &models.RenderedDocument{
		Title:     title,
		Format:    FormatEPUB,
		MediaType: "application/epub+zip",
		Data:      data,
		PageCount: len(sections),
	}, nil
}

type section struct {
	title  string
	blocks []models.Block
}

func (r *Renderer) sections(title string, blocks []models.Block) []section {
	out := []section{{title: title}}
	for _, b := range blocks {
		cur := &out[len(out)-1]
		if b.Kind == models.BlockHeading && b.Level <= r.config.SectionLevel && len(cur.blocks) > 0 {
			out = append(out, section{title: b.Text})
			cur = &out[len(out)-1]
		}
		cur.blocks = append(cur.blocks, b)
	}
	return out
}

func (r *Renderer) body(e *epub.Epub, blocks []models.Block) string {
	var sb strings.Builder
	inList := false

	for _, b := range blocks {
		if b.Kind != models.BlockListItem && inList {
			sb.WriteString("</ul>\n")
			inList = false
		}
		text := html.EscapeString(b.Text)

		switch b.Kind {
		case models.BlockHeading:
			level := min(max(b.Level, 1), 6)
			fmt.Fprintf(&sb, "<h%d>%s</h%d>\n", level, text, level)
		case models.BlockListItem:
			if !inList {
				sb.WriteString("<ul>\n")
				inList = true
			}
			fmt.Fprintf(&sb, "<li>%s</li>\n", text)
		case models.BlockCode:
			fmt.Fprintf(&sb, "<pre><code>%s</code></pre>\n", text)
		case models.BlockQuote:
			fmt.Fprintf(&sb, "<blockquote><p>%s</p></blockquote>\n", text)
		case models.BlockImage:
			// Images that cannot be fetched fall back to their caption.
			if internal, ok := r.embed(e, b.Src); ok {
				fmt.Fprintf(&sb, "<p><img src=\"%s\" alt=\"%s\"/></p>\n", internal, text)
			} else if text != "" {
				fmt.Fprintf(&sb, "<p><em>[%s]</em></p>\n", text)
			}
		default:
			fmt.Fprintf(&sb, "<p>%s</p>\n", text)
		}
	}
	if inList {
		sb.WriteString("</ul>\n")
	}
	return sb.String()
}

func (r *Renderer) embed(e *epub.Epub, src string) (string, bool) {
	if !r.config.EmbedImages || src == "" {
		return "", false
	}
	internal, err := e.AddImage(src, "")
	if err != nil {
		return "", false
	}
	return internal, true
}
