package processor

import (
	"context"
	"net/http"
	"strings"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

// QR decodes a QR code from image input and re-injects the payload as the
// reference the rest of the run works on. Payloads are decoded once; a
// payload that itself points at a QR image is treated as plain text.
type QR struct {
	decoder types.QRDecoder
}

func NewQR(decoder types.QRDecoder) *QR {
	return &QR{decoder: decoder}
}

func (p *QR) Name() string { return "qr" }

func (p *QR) Applies(rc *pipeline.RunContext) (bool, string) {
	if _, err := rc.Payload(); err == nil {
		return false, "payload already decoded"
	}
	switch rc.InputKind() {
	case models.InputImage:
		return true, ""
	case models.InputFile:
		if isImage(rc.Input().Data) {
			return true, ""
		}
	}
	if !rc.HasContentType() && rc.HasRaw() {
		if raw, _ := rc.Raw(); raw.IsImage() {
			return true, ""
		}
	}
	return false, "not image input"
}

func (p *QR) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	data := rc.Input().Data
	if rc.InputKind() != models.InputImage && rc.InputKind() != models.InputFile {
		raw, err := rc.Raw()
		if err != nil {
			return pipeline.Fail(pipeline.KindDecode, "no image data", err)
		}
		data = raw.Data
	}

	payload, err := p.decoder.Decode(ctx, data)
	if err != nil {
		return pipeline.Fail(pipeline.KindDecode, err.Error(), err)
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return pipeline.Fail(pipeline.KindDecode, "empty QR payload", types.ErrNoQRCode)
	}
	if err := rc.SetPayload(payload); err != nil {
		return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
	}

	ct := models.ContentRawText
	if looksLikeURL(payload) {
		ct = models.ContentURL
	}
	if err := rc.SetContentType(ct); err != nil {
		return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
	}
	if ct == models.ContentRawText {
		raw := &models.RawContent{
			Data:      []byte(payload),
			MediaType: "text/plain; charset=utf-8",
			Format:    models.FormatText,
			Source:    "qr",
		}
		if err := rc.SetRaw(raw); err != nil {
			return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
		}
	}
	return pipeline.Continue()
}

func isImage(data []byte) bool {
	return len(data) > 0 && strings.HasPrefix(http.DetectContentType(data), "image/")
}
