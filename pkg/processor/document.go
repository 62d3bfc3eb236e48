package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/convert"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

// Document converts uploaded, typed or fetched non-HTML content into an
// intermediate document and renders it for the device. When an earlier
// stage already produced the intermediate document it only renders.
type Document struct {
	converter types.Converter
	renderer  types.Renderer
}

func NewDocument(converter types.Converter, renderer types.Renderer) *Document {
	return &Document{converter: converter, renderer: renderer}
}

func (p *Document) Name() string { return "document" }

func (p *Document) Applies(rc *pipeline.RunContext) (bool, string) {
	if rc.HasRendered() {
		return false, "already rendered"
	}
	if rc.HasIntermediate() {
		return true, ""
	}
	if !rc.HasContentType() {
		switch rc.InputKind() {
		case models.InputFile, models.InputText:
			return true, ""
		}
		return false, "content type not detected"
	}
	ct, _ := rc.ContentType()
	switch ct {
	case models.ContentDocument, models.ContentRawText:
		return true, ""
	case models.ContentURL:
		if rc.HasRaw() {
			return true, ""
		}
		return false, "nothing fetched"
	}
	return false, "no convertible content"
}

func (p *Document) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	if !rc.HasIntermediate() {
		if out := p.convert(ctx, rc); out.Action == pipeline.ActionFail {
			return out
		}
	}

	doc, err := rc.Intermediate()
	if err != nil {
		return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
	}
	rendered, err := p.renderer.Render(ctx, doc)
	if err != nil {
		return pipeline.Fail(pipeline.KindRender, err.Error(), err)
	}
	if err := rc.SetRendered(rendered); err != nil {
		return pipeline.Fail(pipeline.KindRender, "renderer produced no output", err)
	}
	rc.SetMeta("document.format", rendered.Format)
	rc.SetMeta("document.pages", rendered.PageCount)
	return pipeline.Continue()
}

func (p *Document) convert(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	if !rc.HasContentType() {
		ct := models.ContentRawText
		if rc.InputKind() == models.InputFile {
			ct = models.ContentDocument
		}
		if err := rc.SetContentType(ct); err != nil {
			return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
		}
	}

	raw, err := p.source(rc)
	if err != nil {
		return pipeline.Fail(pipeline.KindConversion, err.Error(), err)
	}
	format := raw.Format
	if format == models.FormatUnknown {
		if !raw.IsHTML() {
			return pipeline.Fail(pipeline.KindUnsupportedFormat,
				fmt.Sprintf("cannot convert %s", describe(raw)), types.ErrUnsupportedFormat)
		}
		format = models.FormatHTML
	}

	doc, err := p.converter.Convert(ctx, raw.Data, format)
	if err != nil {
		if errors.Is(err, types.ErrUnsupportedFormat) {
			return pipeline.Fail(pipeline.KindUnsupportedFormat, err.Error(), err)
		}
		return pipeline.Fail(pipeline.KindConversion, err.Error(), err)
	}
	if rc.IsContentType(models.ContentURL) && doc.SourceURL == "" {
		doc.SourceURL = raw.Source
	}
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = titleFrom(rc)
	}
	if err := rc.SetIntermediate(doc); err != nil {
		return pipeline.Fail(pipeline.KindConversion, "converter produced no content", err)
	}
	return pipeline.Continue()
}

// source returns the raw content to convert, recording it on the context
// when it comes straight from the input.
func (p *Document) source(rc *pipeline.RunContext) (*models.RawContent, error) {
	if raw, err := rc.Raw(); err == nil {
		return raw, nil
	}

	in := rc.Input()
	var raw *models.RawContent
	switch in.Kind {
	case models.InputFile:
		raw = &models.RawContent{
			Data:      in.Data,
			MediaType: http.DetectContentType(in.Data),
			Format:    convert.DetectFormat(in.Filename, in.Data),
			Source:    in.Filename,
		}
	case models.InputText:
		raw = &models.RawContent{
			Data:      []byte(in.Text),
			MediaType: "text/plain; charset=utf-8",
			Format:    models.FormatText,
		}
	default:
		return nil, fmt.Errorf("no content to convert for %s input", in.Kind)
	}
	if err := rc.SetRaw(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func titleFrom(rc *pipeline.RunContext) string {
	in := rc.Input()
	if in.Filename != "" {
		base := filepath.Base(in.Filename)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	if raw, err := rc.Raw(); err == nil && raw.Source != "" && raw.Source != "qr" {
		return raw.Source
	}
	return ""
}

func describe(raw *models.RawContent) string {
	if raw.Source != "" {
		return fmt.Sprintf("%s (%s)", raw.Source, raw.MediaType)
	}
	return raw.MediaType
}
