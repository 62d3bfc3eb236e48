package processor

import (
	"context"
	"errors"
	"strings"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

const excerptRunes = 500

// Upload delivers the rendered document and completes the run.
type Upload struct {
	deliverer types.Deliverer
}

func NewUpload(deliverer types.Deliverer) *Upload {
	return &Upload{deliverer: deliverer}
}

func (p *Upload) Name() string { return "upload" }

func (p *Upload) Applies(rc *pipeline.RunContext) (bool, string) {
	if !rc.HasRendered() {
		return false, "nothing rendered"
	}
	return true, ""
}

func (p *Upload) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	doc, err := rc.Rendered()
	if err != nil {
		return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
	}

	receipt, err := p.deliverer.Deliver(ctx, doc, destination(rc, doc))
	if err != nil {
		if errors.Is(err, types.ErrUploadRejected) {
			return pipeline.Fail(pipeline.KindUploadRejected, err.Error(), err)
		}
		return pipeline.Fail(pipeline.KindDeviceUnavailable, err.Error(), err)
	}

	rc.SetMeta("delivery.id", receipt.ID)
	rc.SetMeta("delivery.target", receipt.Target)
	rc.SetMeta("delivery.location", receipt.Location)
	rc.SetMeta("delivery.at", receipt.DeliveredAt)
	return pipeline.Complete()
}

func destination(rc *pipeline.RunContext, doc *models.RenderedDocument) models.Destination {
	dest := models.Destination{
		Target: rc.Options().Target,
		Title:  doc.Title,
		Metadata: map[string]string{
			"run_id": rc.ID(),
			"format": doc.Format,
		},
	}
	if ct, err := rc.ContentType(); err == nil {
		dest.Metadata["content_type"] = ct.String()
	}
	if ref := rc.Reference(); ref != "" && len(ref) < 2048 {
		dest.Metadata["source"] = ref
	} else if name := rc.Input().Filename; name != "" {
		dest.Metadata["source"] = name
	}
	if inter, err := rc.Intermediate(); err == nil {
		if inter.Author != "" {
			dest.Metadata["author"] = inter.Author
		}
		if excerpt := truncate(inter.PlainText(), excerptRunes); excerpt != "" {
			dest.Metadata["excerpt"] = excerpt
		}
	}
	if a, err := rc.Annotations(); err == nil {
		dest.Summary = a.Summary
		dest.Entities = a.Entities
	}
	return dest
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
