package processor

import (
	"context"

	"github.com/xhad/inkdrop/pkg/pipeline"
)

// Ingest is the top-level composite. It runs its stages as a sub-sequence of
// the current run, propagating the first failure.
type Ingest struct {
	stages *pipeline.Pipeline
}

func NewIngest(stages *pipeline.Pipeline) *Ingest {
	return &Ingest{stages: stages}
}

func (p *Ingest) Name() string { return "ingest" }

func (p *Ingest) Applies(*pipeline.RunContext) (bool, string) { return true, "" }

func (p *Ingest) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	out := p.stages.Execute(ctx, rc)
	switch out.Action {
	case pipeline.ActionFail:
		return out
	case pipeline.ActionComplete:
		return pipeline.Complete()
	}
	// Stage sets without an upload stage (dry runs) finish here.
	return pipeline.Continue()
}
