package processor

import (
	"context"
	"errors"

	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

// AI enriches the document with a summary and named entities. It never fails
// a run: provider errors become warnings and the run continues without
// annotations.
type AI struct {
	annotator types.Annotator
}

func NewAI(annotator types.Annotator) *AI {
	return &AI{annotator: annotator}
}

func (p *AI) Name() string { return "ai" }

func (p *AI) Applies(rc *pipeline.RunContext) (bool, string) {
	if !rc.Options().Enrich {
		return false, "enrichment not requested"
	}
	if p.annotator == nil {
		return false, "no annotator configured"
	}
	if !rc.HasIntermediate() {
		return false, "no intermediate document"
	}
	return true, ""
}

func (p *AI) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	doc, err := rc.Intermediate()
	if err != nil {
		return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
	}

	annotations, err := p.annotator.Annotate(ctx, doc, rc.Options().Annotate)
	if err == nil {
		err = rc.SetAnnotations(annotations)
	}
	if err != nil {
		kind := pipeline.KindProviderUnavailable
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = pipeline.KindProviderTimeout
		}
		rc.Warn(kind, err.Error())
		return pipeline.Continue()
	}
	rc.SetMeta("ai.model", annotations.Model)
	return pipeline.Continue()
}
