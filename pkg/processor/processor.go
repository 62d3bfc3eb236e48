// Package processor holds the concrete ingestion stages and the composite
// that chains them: qr, url, webcontent, document, ai, upload.
package processor

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

// Deps are the collaborators injected into the stages. Annotator may be nil,
// in which case enrichment is skipped.
type Deps struct {
	QR        types.QRDecoder
	Fetcher   types.Fetcher
	Extractor types.Extractor
	Converter types.Converter
	Renderer  types.Renderer
	Annotator types.Annotator
	Deliverer types.Deliverer
}

// DefaultStages returns the ingestion stages in execution order. QR decoding
// runs first so decoded URLs take the same path as direct ones.
func DefaultStages(d Deps) []pipeline.Processor {
	return []pipeline.Processor{
		NewQR(d.QR),
		NewURL(d.Fetcher),
		NewWebContent(d.Extractor),
		NewDocument(d.Converter, d.Renderer),
		NewAI(d.Annotator),
		NewUpload(d.Deliverer),
	}
}

// NewPipeline returns a top-level pipeline with a single ingest stage
// wrapping DefaultStages.
func NewPipeline(d Deps, logger *slog.Logger) *pipeline.Pipeline {
	sub := pipeline.New(DefaultStages(d)...)
	if logger != nil {
		sub = sub.WithLogger(logger)
	}
	p := pipeline.New(NewIngest(sub))
	if logger != nil {
		p = p.WithLogger(logger)
	}
	return p
}

// looksLikeURL reports whether s is a single absolute http(s) URL.
func looksLikeURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}

type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}
