package processor

import (
	"context"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

// WebContent extracts the readable article from fetched HTML. Extraction
// failures are recorded as warnings and the raw page is passed through to
// the document stage.
type WebContent struct {
	extractor types.Extractor
}

func NewWebContent(extractor types.Extractor) *WebContent {
	return &WebContent{extractor: extractor}
}

func (p *WebContent) Name() string { return "webcontent" }

func (p *WebContent) Applies(rc *pipeline.RunContext) (bool, string) {
	if !rc.IsContentType(models.ContentURL) {
		return false, "not a URL content type"
	}
	raw, err := rc.Raw()
	if err != nil {
		return false, "no fetched content"
	}
	if !raw.IsHTML() {
		return false, "not HTML content"
	}
	if rc.HasIntermediate() {
		return false, "content already extracted"
	}
	return true, ""
}

func (p *WebContent) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	raw, err := rc.Raw()
	if err != nil {
		return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
	}

	doc, err := p.extractor.Extract(ctx, raw.Data, raw.Source)
	if err == nil {
		doc.SourceURL = raw.Source
		doc.SourceFormat = models.FormatHTML
		err = rc.SetIntermediate(doc)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipeline.Fail(pipeline.KindCancelled, ctxErr.Error(), ctxErr)
		}
		rc.Warn(pipeline.KindExtraction, err.Error())
		rc.SetMeta("webcontent.passthrough", true)
	}
	return pipeline.Continue()
}
