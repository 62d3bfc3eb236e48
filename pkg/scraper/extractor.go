package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

type ExtractorConfig struct {
	// Selectors are tried in order to find the main content area.
	Selectors     []string
	NoisePatterns []string
	MinTextLength int
}

// Extractor pulls the readable article out of an HTML page.
type Extractor struct {
	config ExtractorConfig
}

func NewExtractor(config ExtractorConfig) *Extractor {
	if len(config.Selectors) == 0 {
		config.Selectors = []string{
			"article",
			"main",
			"[role=main]",
			".content",
			"#content",
			".post",
			".documentation",
			"#documentation",
		}
	}
	if config.NoisePatterns == nil {
		config.NoisePatterns = []string{
			"Cookie Policy",
			"Accept Cookies",
			"Privacy Policy",
			"Terms of Service",
		}
	}
	if config.MinTextLength == 0 {
		config.MinTextLength = 2
	}
	return &Extractor{config: config}
}

const (
	chromeSelector  = "script, style, noscript, nav, footer, aside, form, iframe, svg"
	contentSelector = "h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, img"
)

func (e *Extractor) Extract(ctx context.Context, html []byte, baseURL string) (*models.IntermediateDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", types.ErrExtraction, err)
	}
	base, _ := url.Parse(baseURL)

	out := &models.IntermediateDocument{
		Title:        e.title(doc),
		Author:       strings.TrimSpace(doc.Find(`meta[name="author"]`).AttrOr("content", "")),
		SourceURL:    baseURL,
		SourceFormat: models.FormatHTML,
	}

	doc.Find(chromeSelector).Remove()
	root := e.mainContent(doc)

	root.Find(contentSelector).Each(func(_ int, sel *goquery.Selection) {
		if block, ok := e.block(sel, base); ok {
			out.Blocks = append(out.Blocks, block)
			if block.Kind == models.BlockImage {
				out.Assets = append(out.Assets, models.Asset{URL: block.Src, Alt: block.Text})
			}
		}
	})

	// Pages built from bare divs and text nodes.
	if out.PlainText() == "" {
		if text := e.cleanContent(root.Text()); len(text) >= e.config.MinTextLength {
			out.Blocks = append(out.Blocks, models.Block{Kind: models.BlockParagraph, Text: text})
		}
	}

	if out.PlainText() == "" {
		return nil, fmt.Errorf("%w: %s", types.ErrExtraction, "page has no readable text")
	}
	if out.Title == "" {
		out.Title = firstHeading(out.Blocks)
	}
	return out, nil
}

func (e *Extractor) title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func (e *Extractor) mainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range e.config.Selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			return selected.First()
		}
	}
	return doc.Find("body")
}

func (e *Extractor) block(sel *goquery.Selection, base *url.URL) (models.Block, bool) {
	tag := goquery.NodeName(sel)

	// Nested elements are covered by their container's text.
	if tag != "img" && sel.ParentsFiltered("li, blockquote, pre").Length() > 0 {
		return models.Block{}, false
	}

	switch tag {
	case "img":
		src, ok := sel.Attr("src")
		if !ok || strings.HasPrefix(src, "data:") {
			return models.Block{}, false
		}
		return models.Block{Kind: models.BlockImage, Src: resolve(base, src), Text: sel.AttrOr("alt", "")}, true
	case "pre":
		text := strings.Trim(sel.Text(), "\n")
		return models.Block{Kind: models.BlockCode, Text: text}, strings.TrimSpace(text) != ""
	}

	text := e.cleanContent(sel.Text())
	if len(text) < e.config.MinTextLength {
		return models.Block{}, false
	}

	switch tag {
	case "li":
		return models.Block{Kind: models.BlockListItem, Text: text}, true
	case "blockquote":
		return models.Block{Kind: models.BlockQuote, Text: text}, true
	case "p":
		return models.Block{Kind: models.BlockParagraph, Text: text}, true
	default:
		return models.Block{Kind: models.BlockHeading, Level: int(tag[1] - '0'), Text: text}, true
	}
}

func (e *Extractor) cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	for _, pattern := range e.config.NoisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil || base == nil || u.IsAbs() {
		return ref
	}
	return base.ResolveReference(u).String()
}

func firstHeading(blocks []models.Block) string {
	for _, b := range blocks {
		if b.Kind == models.BlockHeading {
			return b.Text
		}
	}
	return ""
}
