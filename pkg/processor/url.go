package processor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/convert"
	"github.com/xhad/inkdrop/pkg/pipeline"
)

// URL fetches the content behind a URL reference, whether the reference was
// given directly or decoded from a QR code.
type URL struct {
	fetcher types.Fetcher
}

func NewURL(fetcher types.Fetcher) *URL {
	return &URL{fetcher: fetcher}
}

func (p *URL) Name() string { return "url" }

func (p *URL) Applies(rc *pipeline.RunContext) (bool, string) {
	if rc.IsContentType(models.ContentURL) {
		return true, ""
	}
	if rc.HasContentType() {
		return false, "not a URL reference"
	}
	if rc.InputKind() == models.InputURL || looksLikeURL(rc.Reference()) {
		return true, ""
	}
	return false, "not a URL reference"
}

func (p *URL) Process(ctx context.Context, rc *pipeline.RunContext) pipeline.Outcome {
	ref := rc.Reference()
	u, err := url.Parse(ref)
	if err != nil {
		return pipeline.Fail(pipeline.KindInvalidURL, err.Error(), err)
	}
	if scheme := strings.ToLower(u.Scheme); (scheme != "http" && scheme != "https") || u.Host == "" {
		return pipeline.Fail(pipeline.KindInvalidURL, fmt.Sprintf("%q is not an absolute http(s) URL", ref), nil)
	}
	if !rc.HasContentType() {
		if err := rc.SetContentType(models.ContentURL); err != nil {
			return pipeline.Fail(pipeline.KindInternal, err.Error(), err)
		}
	}

	body, mediaType, err := p.fetcher.Fetch(ctx, u.String())
	if err != nil {
		if isTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			return pipeline.Fail(pipeline.KindFetch, "timeout", err)
		}
		return pipeline.Fail(pipeline.KindFetch, err.Error(), err)
	}

	raw := &models.RawContent{
		Data:      body,
		MediaType: mediaType,
		Format:    convert.FormatFromMediaType(mediaType),
		Source:    u.String(),
	}
	if err := rc.SetRaw(raw); err != nil {
		return pipeline.Fail(pipeline.KindFetch, "empty response body", err)
	}
	rc.SetMeta("url.media_type", mediaType)
	return pipeline.Continue()
}
