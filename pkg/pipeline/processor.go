package pipeline

import "context"

// Processor is one stage of a run.
//
// Applies is a pure predicate over the content tag and the populated fields;
// when it returns false the engine records a Skip with the given reason and
// Process is not called. Implementations hold only read-only collaborators and
// must be safe to use from concurrent runs.
type Processor interface {
	Name() string
	Applies(rc *RunContext) (bool, string)
	Process(ctx context.Context, rc *RunContext) Outcome
}

// ProcessorFunc adapts a function to a Processor that always applies.
type ProcessorFunc struct {
	StageName string
	Fn        func(ctx context.Context, rc *RunContext) Outcome
}

func (f ProcessorFunc) Name() string { return f.StageName }

func (f ProcessorFunc) Applies(*RunContext) (bool, string) { return true, "" }

func (f ProcessorFunc) Process(ctx context.Context, rc *RunContext) Outcome {
	return f.Fn(ctx, rc)
}
