package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

// RunOptions is the per-run configuration carried by a RunContext.
type RunOptions struct {
	// Enrich requests the AI annotation stage.
	Enrich   bool
	Annotate types.AnnotateOptions
	// Target names the delivery destination (folder, bucket prefix, device).
	Target string
	// Observer, if set, is called synchronously after every stage. A panic
	// in the observer is logged and does not affect the run.
	Observer func(StageRecord)
}

// Warning is a non-fatal problem recorded by a stage.
type Warning struct {
	Stage  string
	Kind   ErrorKind
	Detail string
	At     time.Time
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.Stage, w.Kind, w.Detail)
}

// AuditEntry records one mutation of the context.
type AuditEntry struct {
	Stage  string
	Field  string
	Detail string
	At     time.Time
}

// StageRecord is the timing/outcome record the engine appends for every stage.
type StageRecord struct {
	Stage     string
	Action    Action
	Reason    string
	Kind      ErrorKind
	Detail    string
	StartedAt time.Time
	Duration  time.Duration
}

// RunContext is the per-run state passed between processors. It is owned by a
// single run and must not be shared between goroutines.
type RunContext struct {
	id        string
	createdAt time.Time
	opts      RunOptions

	input       models.Input
	payload     string
	hasPayload  bool
	contentType models.ContentType

	raw          *models.RawContent
	intermediate *models.IntermediateDocument
	rendered     *models.RenderedDocument
	annotations  *models.Annotations

	values   map[string]any
	audit    []AuditEntry
	stages   []StageRecord
	warnings []Warning

	status Status
	final  FinalStatus
	stage  string
}

func newRunContext(in models.Input, opts RunOptions) *RunContext {
	return &RunContext{
		id:        ulid.Make().String(),
		createdAt: time.Now(),
		opts:      opts,
		input:     in,
		values:    make(map[string]any),
		status:    StatusPending,
	}
}

func NewURLContext(rawURL string, opts RunOptions) *RunContext {
	return newRunContext(models.Input{Kind: models.InputURL, URL: strings.TrimSpace(rawURL)}, opts)
}

func NewTextContext(text string, opts RunOptions) *RunContext {
	return newRunContext(models.Input{Kind: models.InputText, Text: text}, opts)
}

func NewImageContext(image []byte, opts RunOptions) *RunContext {
	return newRunContext(models.Input{Kind: models.InputImage, Data: slices.Clone(image)}, opts)
}

func NewFileContext(filename string, data []byte, opts RunOptions) *RunContext {
	return newRunContext(models.Input{Kind: models.InputFile, Filename: filename, Data: slices.Clone(data)}, opts)
}

func (rc *RunContext) ID() string { return rc.id }
func (rc *RunContext) CreatedAt() time.Time { return rc.createdAt }
func (rc *RunContext) Options() RunOptions { return rc.opts }
func (rc *RunContext) Status() Status { return rc.status }
func (rc *RunContext) Final() FinalStatus { return rc.final }
func (rc *RunContext) CurrentStage() string { return rc.stage }
func (rc *RunContext) InputKind() models.InputKind { return rc.input.Kind }

// Input returns a copy of the original reference.
func (rc *RunContext) Input() models.Input {
	in := rc.input
	in.Data = slices.Clone(in.Data)
	return in
}

// Reference is the textual reference stages operate on: the decoded payload
// when one exists, otherwise the original URL or text.
func (rc *RunContext) Reference() string {
	if rc.hasPayload {
		return rc.payload
	}
	switch rc.input.Kind {
	case models.InputURL:
		return rc.input.URL
	case models.InputText:
		return strings.TrimSpace(rc.input.Text)
	}
	return ""
}

func (rc *RunContext) Payload() (string, error) {
	if !rc.hasPayload {
		return "", fieldErr("payload", ErrFieldNotSet)
	}
	return rc.payload, nil
}

// SetPayload stores a decoded input-equivalent. It may be written once.
func (rc *RunContext) SetPayload(payload string) error {
	if rc.hasPayload {
		return fieldErr("payload", ErrFieldAlreadySet)
	}
	rc.payload = payload
	rc.hasPayload = true
	rc.auditf("payload", "%d bytes", len(payload))
	return nil
}

func (rc *RunContext) HasContentType() bool { return rc.contentType != 0 }

func (rc *RunContext) ContentType() (models.ContentType, error) {
	if rc.contentType == 0 {
		return 0, fieldErr("contentType", ErrFieldNotSet)
	}
	return rc.contentType, nil
}

// SetContentType tags the run. The tag is write-once.
func (rc *RunContext) SetContentType(ct models.ContentType) error {
	if ct == 0 {
		return fieldErr("contentType", ErrInvalidValue)
	}
	if rc.contentType != 0 {
		return fieldErr("contentType", ErrFieldAlreadySet)
	}
	rc.contentType = ct
	rc.auditf("contentType", "%s", ct)
	return nil
}

// IsContentType reports whether the tag is set and equal to ct.
func (rc *RunContext) IsContentType(ct models.ContentType) bool {
	return rc.contentType != 0 && rc.contentType == ct
}

func (rc *RunContext) HasRaw() bool { return rc.raw != nil }

func (rc *RunContext) Raw() (*models.RawContent, error) {
	if rc.raw == nil {
		return nil, fieldErr("rawContent", ErrFieldNotSet)
	}
	return rc.raw, nil
}

func (rc *RunContext) SetRaw(raw *models.RawContent) error {
	if raw == nil || len(raw.Data) == 0 {
		return fieldErr("rawContent", ErrInvalidValue)
	}
	rc.raw = raw
	rc.auditf("rawContent", "%d bytes %s", len(raw.Data), raw.MediaType)
	return nil
}

func (rc *RunContext) HasIntermediate() bool { return rc.intermediate != nil }

func (rc *RunContext) Intermediate() (*models.IntermediateDocument, error) {
	if rc.intermediate == nil {
		return nil, fieldErr("intermediateDocument", ErrFieldNotSet)
	}
	return rc.intermediate, nil
}

func (rc *RunContext) SetIntermediate(doc *models.IntermediateDocument) error {
	if doc == nil || (len(doc.Blocks) == 0 && len(doc.Raw) == 0) {
		return fieldErr("intermediateDocument", ErrInvalidValue)
	}
	rc.intermediate = doc
	rc.auditf("intermediateDocument", "%d blocks format=%s", len(doc.Blocks), doc.SourceFormat)
	return nil
}

func (rc *RunContext) HasRendered() bool { return rc.rendered != nil }

func (rc *RunContext) Rendered() (*models.RenderedDocument, error) {
	if rc.rendered == nil {
		return nil, fieldErr("renderedDocument", ErrFieldNotSet)
	}
	return rc.rendered, nil
}

func (rc *RunContext) SetRendered(doc *models.RenderedDocument) error {
	if doc == nil || len(doc.Data) == 0 {
		return fieldErr("renderedDocument", ErrInvalidValue)
	}
	rc.rendered = doc
	rc.auditf("renderedDocument", "%d bytes %s", len(doc.Data), doc.Format)
	return nil
}

func (rc *RunContext) HasAnnotations() bool { return rc.annotations != nil }

func (rc *RunContext) Annotations() (*models.Annotations, error) {
	if rc.annotations == nil {
		return nil, fieldErr("aiAnnotations", ErrFieldNotSet)
	}
	return rc.annotations, nil
}

func (rc *RunContext) SetAnnotations(a *models.Annotations) error {
	if a == nil {
		return fieldErr("aiAnnotations", ErrInvalidValue)
	}
	rc.annotations = a
	rc.auditf("aiAnnotations", "summary=%d entities=%d", len(a.Summary), len(a.Entities))
	return nil
}

// SetMeta stores a diagnostic value.
func (rc *RunContext) SetMeta(key string, value any) {
	rc.values[key] = value
	rc.auditf("metadata."+key, "")
}

func (rc *RunContext) Meta(key string) (any, bool) {
	v, ok := rc.values[key]
	return v, ok
}

// MetaString returns the value under key formatted as a string, or "".
func (rc *RunContext) MetaString(key string) string {
	v, ok := rc.values[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Metadata returns a copy of the diagnostic values.
func (rc *RunContext) Metadata() map[string]any {
	return maps.Clone(rc.values)
}

// Warn records a non-fatal warning for the current stage.
func (rc *RunContext) Warn(kind ErrorKind, detail string) {
	w := Warning{Stage: rc.stage, Kind: kind, Detail: detail, At: time.Now()}
	rc.warnings = append(rc.warnings, w)
	rc.auditf("errors", "%s", w)
}

func (rc *RunContext) Warnings() []Warning { return slices.Clone(rc.warnings) }
func (rc *RunContext) Audit() []AuditEntry { return slices.Clone(rc.audit) }
func (rc *RunContext) Stages() []StageRecord { return slices.Clone(rc.stages) }

func (rc *RunContext) auditf(field, format string, args ...any) {
	rc.audit = append(rc.audit, AuditEntry{
		Stage:  rc.stage,
		Field:  field,
		Detail: fmt.Sprintf(format, args...),
		At:     time.Now(),
	})
}

// advance moves the lifecycle forward. Running may be re-entered; nothing
// moves out of a terminal state except resetForRetry.
func (rc *RunContext) advance(to Status) error {
	if rc.status.Terminal() || to < rc.status {
		return fmt.Errorf("invalid status transition %s -> %s", rc.status, to)
	}
	rc.status = to
	return nil
}

func (rc *RunContext) resetForRetry(stage string) {
	rc.status = StatusRunning
	rc.final = FinalStatus{}
	rc.stage = stage
	rc.auditf("status", "retry from %s", stage)
}

func (rc *RunContext) record(rec StageRecord) {
	rc.stages = append(rc.stages, rec)
}
