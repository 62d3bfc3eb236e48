package types

import (
	"context"
	"time"

	"github.com/xhad/inkdrop/internal/models"
)

// Collaborator interfaces consumed by the pipeline processors.

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

type Extractor interface {
	Extract(ctx context.Context, html []byte, baseURL string) (*models.IntermediateDocument, error)
}

type Converter interface {
	Convert(ctx context.Context, data []byte, format models.Format) (*models.IntermediateDocument, error)
}

type Renderer interface {
	Render(ctx context.Context, doc *models.IntermediateDocument) (*models.RenderedDocument, error)
}

type Annotator interface {
	Annotate(ctx context.Context, doc *models.IntermediateDocument, opts AnnotateOptions) (*models.Annotations, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, doc *models.RenderedDocument, dest models.Destination) (*models.DeliveryReceipt, error)
}

type QRDecoder interface {
	Decode(ctx context.Context, image []byte) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type AnnotateOptions struct {
	Summarize       bool
	ExtractEntities bool
	MaxChunks       int
	Timeout         time.Duration
}
