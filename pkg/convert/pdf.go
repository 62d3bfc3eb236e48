package convert

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/xhad/inkdrop/internal/models"
)

// PDFConverter validates a PDF and carries it through unchanged; the device
// reads PDFs natively.
type PDFConverter struct {
	conf *model.Configuration
}

func NewPDFConverter() *PDFConverter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFConverter{conf: conf}
}

func (c *PDFConverter) Convert(data []byte) (*models.IntermediateDocument, error) {
	if err := api.Validate(bytes.NewReader(data), c.conf); err != nil {
		return nil, fmt.Errorf("invalid pdf: %w", err)
	}
	pages, err := api.PageCount(bytes.NewReader(data), c.conf)
	if err != nil {
		return nil, fmt.Errorf("pdf page count: %w", err)
	}
	return &models.IntermediateDocument{
		Raw:       data,
		PageCount: pages,
	}, nil
}
