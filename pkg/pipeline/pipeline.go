package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"
)

// Pipeline runs an ordered list of processors against one RunContext at a
// time. A Pipeline holds no per-run state and can be shared across runs.
type Pipeline struct {
	stages []Processor
	logger *slog.Logger
}

// New builds a pipeline from procs in order. It panics on a nil processor
// or a duplicate stage name.
func New(procs ...Processor) *Pipeline {
	p := &Pipeline{}
	p.Register(procs...)
	return p
}

// Register appends processors. It is meant for setup time, before the
// pipeline is shared.
func (p *Pipeline) Register(procs ...Processor) {
	for _, proc := range procs {
		if proc == nil {
			panic("pipeline: nil processor")
		}
		if p.index(proc.Name()) >= 0 {
			panic("pipeline: duplicate stage " + proc.Name())
		}
		p.stages = append(p.stages, proc)
	}
}

// WithLogger returns a copy of p that logs stage records to l.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	cp := *p
	cp.stages = slices.Clone(p.stages)
	cp.logger = l
	return &cp
}

// Without returns a copy of p without the named stages.
func (p *Pipeline) Without(names ...string) *Pipeline {
	cp := *p
	cp.stages = slices.DeleteFunc(slices.Clone(p.stages), func(proc Processor) bool {
		return slices.Contains(names, proc.Name())
	})
	return &cp
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, proc := range p.stages {
		names[i] = proc.Name()
	}
	return names
}

func (p *Pipeline) index(name string) int {
	return slices.IndexFunc(p.stages, func(proc Processor) bool { return proc.Name() == name })
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// Run executes every stage in order and returns the context with its final
// status. A context that already reached a terminal status is returned as is.
func (p *Pipeline) Run(ctx context.Context, rc *RunContext) (*RunContext, FinalStatus) {
	if rc.status.Terminal() {
		return rc, rc.final
	}
	if err := rc.advance(StatusRunning); err != nil {
		return rc, rc.final
	}
	out := p.execute(ctx, rc, "", p.stages)
	return rc, p.finish(ctx, rc, out)
}

// Retry re-runs a failed or cancelled context starting at the named stage.
func (p *Pipeline) Retry(ctx context.Context, rc *RunContext, stage string) (*RunContext, FinalStatus, error) {
	if rc.status != StatusFailed && rc.status != StatusCancelled {
		return rc, rc.final, fmt.Errorf("retry %s: run is %s", stage, rc.status)
	}
	i := p.index(stage)
	if i < 0 {
		return rc, rc.final, fmt.Errorf("retry %s: no such stage", stage)
	}
	rc.resetForRetry(stage)
	out := p.execute(ctx, rc, "", p.stages[i:])
	return rc, p.finish(ctx, rc, out), nil
}

// Execute runs the stages as a sub-sequence of the stage currently running on
// rc. Composite processors use it; records are named parent/child. It never
// moves the run into a terminal status.
func (p *Pipeline) Execute(ctx context.Context, rc *RunContext) Outcome {
	parent := rc.stage
	defer func() { rc.stage = parent }()
	return p.execute(ctx, rc, parent, p.stages)
}

func (p *Pipeline) execute(ctx context.Context, rc *RunContext, prefix string, stages []Processor) Outcome {
	for _, proc := range stages {
		name := proc.Name()
		if prefix != "" {
			name = prefix + "/" + name
		}

		if err := ctx.Err(); err != nil {
			p.log().LogAttrs(ctx, slog.LevelWarn, "pipeline cancelled",
				slog.String("run_id", rc.id),
				slog.String("stage", name),
				slog.String("error", err.Error()),
			)
			return Outcome{Action: ActionFail, Err: &StageError{Stage: name, Kind: KindCancelled, Detail: err.Error(), Err: err}}
		}

		out := p.runStage(ctx, rc, name, proc)
		if out.Action == ActionFail || out.Action == ActionComplete {
			return out
		}
	}
	return Continue()
}

func (p *Pipeline) runStage(ctx context.Context, rc *RunContext, name string, proc Processor) Outcome {
	_ = rc.advance(StatusRunning)
	rc.stage = name
	start := time.Now()

	out := invoke(ctx, rc, proc)

	if out.Action == ActionFail {
		if out.Err == nil {
			out.Err = &StageError{Kind: KindInternal, Detail: "fail outcome without error"}
		}
		if out.Err.Stage == "" {
			out.Err.Stage = name
		}
		if out.Err.Kind != KindCancelled && errors.Is(ctx.Err(), context.Canceled) {
			out.Err = &StageError{Stage: out.Err.Stage, Kind: KindCancelled, Detail: ctx.Err().Error(), Err: out.Err}
		}
	}
	if out.Action == ActionSkip {
		rc.SetMeta("skip."+name, out.Reason)
	}

	rec := StageRecord{
		Stage:     name,
		Action:    out.Action,
		Reason:    out.Reason,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if out.Err != nil {
		rec.Kind = out.Err.Kind
		rec.Detail = out.Err.Detail
	}
	rc.record(rec)
	p.logRecord(ctx, rc, rec)
	p.notify(ctx, rc, rec)
	return out
}

func (p *Pipeline) notify(ctx context.Context, rc *RunContext, rec StageRecord) {
	if rc.opts.Observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			rc.SetMeta("observer.panic", fmt.Sprint(r))
			p.log().LogAttrs(ctx, slog.LevelError, "pipeline observer panicked",
				slog.String("run_id", rc.id),
				slog.String("stage", rec.Stage),
				slog.Any("panic", r),
			)
		}
	}()
	rc.opts.Observer(rec)
}

// invoke calls the stage, turning a panic into an InternalError failure.
func invoke(ctx context.Context, rc *RunContext, proc Processor) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			rc.SetMeta("internal.cause", fmt.Sprint(r))
			rc.SetMeta("internal.stack", string(debug.Stack()))
			out = Fail(KindInternal, fmt.Sprintf("panic: %v", r), fmt.Errorf("panic in %s: %v", proc.Name(), r))
		}
	}()

	if ok, reason := proc.Applies(rc); !ok {
		return Skip(reason)
	}
	return proc.Process(ctx, rc)
}

func (p *Pipeline) finish(ctx context.Context, rc *RunContext, out Outcome) FinalStatus {
	final := FinalStatus{Status: StatusCompleted}
	if out.Action == ActionFail {
		final = FinalStatus{Status: StatusFailed, Stage: out.Err.Stage, Kind: out.Err.Kind, Detail: out.Err.Detail}
		if out.Err.Kind == KindCancelled {
			final.Status = StatusCancelled
		}
	}
	_ = rc.advance(final.Status)
	rc.final = final

	attrs := []slog.Attr{
		slog.String("run_id", rc.id),
		slog.String("status", final.Status.String()),
		slog.Int("stages", len(rc.stages)),
		slog.Int("warnings", len(rc.warnings)),
	}
	if final.Kind != "" {
		attrs = append(attrs, slog.String("stage", final.Stage), slog.String("error_kind", string(final.Kind)))
	}
	p.log().LogAttrs(ctx, slog.LevelInfo, "pipeline finished", attrs...)
	return final
}

func (p *Pipeline) logRecord(ctx context.Context, rc *RunContext, rec StageRecord) {
	level := slog.LevelDebug
	attrs := []slog.Attr{
		slog.String("run_id", rc.id),
		slog.String("stage", rec.Stage),
		slog.String("action", rec.Action.String()),
		slog.Int64("duration_ms", rec.Duration.Milliseconds()),
	}
	switch rec.Action {
	case ActionSkip:
		attrs = append(attrs, slog.String("reason", rec.Reason))
	case ActionFail:
		level = slog.LevelError
		attrs = append(attrs, slog.String("error_kind", string(rec.Kind)), slog.String("detail", rec.Detail))
	default:
		level = slog.LevelInfo
	}
	p.log().LogAttrs(ctx, level, "pipeline stage", attrs...)
}
