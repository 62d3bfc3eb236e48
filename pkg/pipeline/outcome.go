package pipeline

import "fmt"

// Action is what the engine does after a stage returns.
type Action int

const (
	ActionContinue Action = iota
	ActionSkip
	ActionComplete
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionSkip:
		return "skip"
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Outcome is the result of a single Process call.
type Outcome struct {
	Action Action
	Reason string
	Err    *StageError
}

func Continue() Outcome { return Outcome{Action: ActionContinue} }

func Skip(reason string) Outcome { return Outcome{Action: ActionSkip, Reason: reason} }

func Complete() Outcome { return Outcome{Action: ActionComplete} }

func Fail(kind ErrorKind, detail string, cause error) Outcome {
	return Outcome{Action: ActionFail, Err: &StageError{Kind: kind, Detail: detail, Err: cause}}
}

// Status is the lifecycle state of a run.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further stage may run.
func (s Status) Terminal() bool {
	return s >= StatusCompleted
}

// FinalStatus is what a caller gets back from Run.
type FinalStatus struct {
	Status Status
	Stage  string
	Kind   ErrorKind
	Detail string
}

func (f FinalStatus) String() string {
	switch f.Status {
	case StatusFailed:
		return fmt.Sprintf("failed at %s (%s: %s)", f.Stage, f.Kind, f.Detail)
	case StatusCancelled:
		if f.Stage != "" {
			return fmt.Sprintf("cancelled before %s", f.Stage)
		}
		return "cancelled"
	default:
		return f.Status.String()
	}
}

// OK reports whether the run completed.
func (f FinalStatus) OK() bool { return f.Status == StatusCompleted }
