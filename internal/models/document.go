package models

import (
	"strings"
	"time"
	"unicode"
)

// InputKind is the modality of the original content reference.
type InputKind int

const (
	InputURL InputKind = iota + 1
	InputText
	InputImage
	InputFile
)

func (k InputKind) String() string {
	switch k {
	case InputURL:
		return "url"
	case InputText:
		return "text"
	case InputImage:
		return "image"
	case InputFile:
		return "file"
	default:
		return "unknown"
	}
}

// Input is the raw reference an ingestion request starts from.
type Input struct {
	Kind     InputKind
	URL      string
	Text     string
	Filename string
	Data     []byte
}

// ContentType is the detected kind of content flowing through a run.
// The zero value means "not detected yet".
type ContentType int

const (
	ContentURL ContentType = iota + 1
	ContentRawText
	ContentDocument
)

func (c ContentType) String() string {
	switch c {
	case ContentURL:
		return "url"
	case ContentRawText:
		return "raw_text"
	case ContentDocument:
		return "document"
	default:
		return "unset"
	}
}

// Format is a source document format understood by the converters.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatText     Format = "text"
	FormatUnknown  Format = ""
)

// RawContent is fetched or decoded content before conversion.
type RawContent struct {
	Data      []byte
	MediaType string
	Format    Format
	Source    string
}

// IsHTML reports whether the content should go through web extraction.
func (r *RawContent) IsHTML() bool {
	if r.Format == FormatHTML {
		return true
	}
	mt := strings.ToLower(r.MediaType)
	return mt == "" || strings.HasPrefix(mt, "text/html") || strings.HasPrefix(mt, "application/xhtml")
}

// IsImage reports whether the content is image data.
func (r *RawContent) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(r.MediaType), "image/")
}

type BlockKind string

const (
	BlockHeading   BlockKind = "heading"
	BlockParagraph BlockKind = "paragraph"
	BlockListItem  BlockKind = "list_item"
	BlockCode      BlockKind = "code"
	BlockQuote     BlockKind = "quote"
	BlockImage     BlockKind = "image"
)

// Block is one element of the intermediate document tree.
type Block struct {
	Kind  BlockKind
	Level int
	Text  string
	Src   string
}

// Asset is an external resource referenced by a document.
type Asset struct {
	URL string
	Alt string
}

// IntermediateDocument is the converter-produced structure handed to the renderer.
type IntermediateDocument struct {
	Title        string
	Author       string
	SourceURL    string
	SourceFormat Format
	Blocks       []Block
	Assets       []Asset
	// Raw carries the original bytes for formats the renderer passes through (PDF).
	Raw       []byte
	PageCount int
}

// PlainText flattens the readable blocks into text.
func (d *IntermediateDocument) PlainText() string {
	var sb strings.Builder
	for _, b := range d.Blocks {
		if b.Kind == BlockImage || strings.TrimSpace(b.Text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// RenderedDocument is the device-ready output.
type RenderedDocument struct {
	Title     string
	Format    string
	MediaType string
	Data      []byte
	PageCount int
}

// Extension returns the file extension matching the rendered format.
func (r *RenderedDocument) Extension() string {
	return "." + r.Format
}

// Filename is a filesystem-safe name derived from the title.
func (r *RenderedDocument) Filename() string {
	var sb strings.Builder
	dash := false
	for _, c := range strings.ToLower(strings.TrimSpace(r.Title)) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c > 127 && unicode.IsLetter(c):
			sb.WriteRune(c)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
		if sb.Len() >= 80 {
			break
		}
	}
	name := strings.TrimRight(sb.String(), "-")
	if name == "" {
		name = "document"
	}
	return name + r.Extension()
}

// Annotations is the AI enrichment payload.
type Annotations struct {
	Summary  string
	Entities []string
	Model    string
	Chunks   int
}

// Destination describes where and how a rendered document is delivered.
type Destination struct {
	Target   string
	Title    string
	Summary  string
	Entities []string
	Metadata map[string]string
}

// DeliveryReceipt confirms a delivery.
type DeliveryReceipt struct {
	ID          string
	Target      string
	Location    string
	DeliveredAt time.Time
}
