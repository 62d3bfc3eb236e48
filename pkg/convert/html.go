package convert

import (
	"bytes"
	"errors"
	"strings"

	"github.com/xhad/inkdrop/internal/models"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLConverter converts uploaded HTML files. Fetched pages go through the
// scraper's extractor instead, which also strips site chrome.
type HTMLConverter struct{}

func NewHTMLConverter() *HTMLConverter { return &HTMLConverter{} }

func (c *HTMLConverter) Convert(data []byte) (*models.IntermediateDocument, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	doc := &models.IntermediateDocument{}
	c.walk(root, doc)

	if len(doc.Blocks) == 0 {
		return nil, errors.New("no content blocks")
	}
	if doc.Title == "" {
		for _, b := range doc.Blocks {
			if b.Kind == models.BlockHeading {
				doc.Title = b.Text
				break
			}
		}
	}
	return doc, nil
}

func (c *HTMLConverter) walk(n *html.Node, doc *models.IntermediateDocument) {
	if n.Type == html.TextNode {
		if text := collapse(n.Data); text != "" && n.Parent != nil && isLoose(n.Parent) {
			doc.Blocks = append(doc.Blocks, models.Block{Kind: models.BlockParagraph, Text: text})
		}
		return
	}
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Iframe:
			return
		case atom.Title:
			doc.Title = collapse(textOf(n))
			return
		case atom.Meta:
			if attr(n, "name") == "author" {
				doc.Author = attr(n, "content")
			}
			return
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			c.add(doc, models.Block{Kind: models.BlockHeading, Level: int(n.Data[1] - '0'), Text: collapse(textOf(n))})
			return
		case atom.P:
			c.add(doc, models.Block{Kind: models.BlockParagraph, Text: collapse(textOf(n))})
			return
		case atom.Li:
			c.add(doc, models.Block{Kind: models.BlockListItem, Text: collapse(textOf(n))})
			return
		case atom.Blockquote:
			c.add(doc, models.Block{Kind: models.BlockQuote, Text: collapse(textOf(n))})
			return
		case atom.Pre:
			c.add(doc, models.Block{Kind: models.BlockCode, Text: strings.Trim(textOf(n), "\n")})
			return
		case atom.Img:
			if src := attr(n, "src"); src != "" {
				alt := attr(n, "alt")
				doc.Blocks = append(doc.Blocks, models.Block{Kind: models.BlockImage, Src: src, Text: alt})
				doc.Assets = append(doc.Assets, models.Asset{URL: src, Alt: alt})
			}
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, doc)
	}
}

func (c *HTMLConverter) add(doc *models.IntermediateDocument, b models.Block) {
	if strings.TrimSpace(b.Text) != "" {
		doc.Blocks = append(doc.Blocks, b)
	}
}

// isLoose reports whether text directly inside n is outside any block element.
func isLoose(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Body, atom.Div, atom.Section, atom.Article, atom.Main:
		return true
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			f(child)
		}
	}
	f(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
