// Package device delivers rendered documents to a tablet or a mailbox the
// tablet syncs from.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

type WebConfig struct {
	// BaseURL of the tablet's USB web interface.
	BaseURL    string
	UploadPath string
	FieldName  string
	Timeout    time.Duration
}

// WebUploader posts documents to the tablet's USB web interface. Uploads
// land in the folder last browsed, so a Target folder is opened first.
type WebUploader struct {
	config WebConfig
	client *http.Client
}

func NewWebUploader(config WebConfig) *WebUploader {
	if config.BaseURL == "" {
		config.BaseURL = "http://10.11.99.1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.UploadPath == "" {
		config.UploadPath = "/upload"
	}
	if config.FieldName == "" {
		config.FieldName = "file"
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &WebUploader{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (u *WebUploader) Deliver(ctx context.Context, doc *models.RenderedDocument, dest models.Destination) (*models.DeliveryReceipt, error) {
	if dest.Target != "" {
		if err := u.openFolder(ctx, dest.Target); err != nil {
			return nil, err
		}
	}

	name := named(doc, dest).Filename()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, u.config.FieldName, name))
	header.Set("Content-Type", doc.MediaType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(doc.Data); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.config.BaseURL+u.config.UploadPath, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := u.do(req); err != nil {
		return nil, err
	}

	return &models.DeliveryReceipt{
		ID:          uuid.NewString(),
		Target:      "web:" + u.config.BaseURL,
		Location:    strings.TrimPrefix(dest.Target+"/"+name, "/"),
		DeliveredAt: time.Now(),
	}, nil
}

func (u *WebUploader) openFolder(ctx context.Context, folder string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.config.BaseURL+"/documents/"+url.PathEscape(folder), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}
	if err := u.do(req); err != nil {
		return fmt.Errorf("open folder %q: %w", folder, err)
	}
	return nil
}

// do classifies the response: 4xx means the device refused the request,
// anything else that is not 2xx means it could not be reached.
func (u *WebUploader) do(req *http.Request) error {
	resp, err := u.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrDeviceUnavailable, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s %s: status %d: %s", types.ErrUploadRejected, req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return fmt.Errorf("%w: %s %s: status %d", types.ErrDeviceUnavailable, req.Method, req.URL.Path, resp.StatusCode)
	}
}

// named returns doc retitled with the destination title when one is given.
func named(doc *models.RenderedDocument, dest models.Destination) *models.RenderedDocument {
	if dest.Title == "" || dest.Title == doc.Title {
		return doc
	}
	cp := *doc
	cp.Title = dest.Title
	return &cp
}
