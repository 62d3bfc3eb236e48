package processor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/testutil"
	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/convert"
	"github.com/xhad/inkdrop/pkg/llm"
	"github.com/xhad/inkdrop/pkg/pipeline"
	"github.com/xhad/inkdrop/pkg/processor"
	"github.com/xhad/inkdrop/pkg/qr"
	"github.com/xhad/inkdrop/pkg/render"
	"github.com/xhad/inkdrop/pkg/scraper"
)

const articleURL = "https://example.com/article"

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Example Article</title><meta name="author" content="Jane Doe"></head>
<body>
  <nav><a href="/">Home</a></nav>
  <article>
    <h1>Example Article</h1>
    <p>The first paragraph explains what the article is about.</p>
    <h2>Details</h2>
    <p>The second paragraph goes into the details.</p>
    <ul><li>One point</li><li>Another point</li></ul>
  </article>
  <footer>Privacy Policy</footer>
</body>
</html>`

const notesMarkdown = `# Meeting Notes

We agreed to ship the **reader** next week.

- Alice owns the release
- Bob writes the announcement
`

type page struct {
	body      string
	mediaType string
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]page
	err    error
	calls  []string
	onCall func()
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, "", f.err
	}
	p, ok := f.pages[url]
	if !ok {
		return nil, "", &scraper.FetchError{URL: url, StatusCode: http.StatusNotFound}
	}
	return []byte(p.body), p.mediaType, nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	docs  []*models.RenderedDocument
	dests []models.Destination
	err   error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, doc *models.RenderedDocument, dest models.Destination) (*models.DeliveryReceipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.docs = append(d.docs, doc)
	d.dests = append(d.dests, dest)
	return &models.DeliveryReceipt{
		ID:          fmt.Sprintf("r%d", len(d.docs)),
		Target:      "fake",
		Location:    doc.Filename(),
		DeliveredAt: time.Now(),
	}, nil
}

type fakeAnnotator struct {
	result *models.Annotations
	err    error
}

func (a *fakeAnnotator) Annotate(ctx context.Context, doc *models.IntermediateDocument, opts types.AnnotateOptions) (*models.Annotations, error) {
	return a.result, a.err
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, []byte, string) (*models.IntermediateDocument, error) {
	return nil, fmt.Errorf("%w: unsupported markup", types.ErrExtraction)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]page{
		articleURL:                     {body: articleHTML, mediaType: "text/html; charset=utf-8"},
		"https://example.com/notes.md": {body: notesMarkdown, mediaType: "text/markdown"},
	}}
}

func newDeps(t *testing.T, f *fakeFetcher, d *fakeDeliverer) processor.Deps {
	t.Helper()
	return processor.Deps{
		QR:        qr.NewDecoder(true),
		Fetcher:   f,
		Extractor: scraper.NewExtractor(scraper.ExtractorConfig{}),
		Converter: convert.New(),
		Renderer:  render.New(render.Config{TempDir: t.TempDir()}),
		Deliverer: d,
	}
}

func run(t *testing.T, deps processor.Deps, rc *pipeline.RunContext) (*pipeline.RunContext, pipeline.FinalStatus) {
	t.Helper()
	return processor.NewPipeline(deps, quietLogger()).Run(context.Background(), rc)
}

type step struct {
	stage  string
	action pipeline.Action
}

func trace(rc *pipeline.RunContext) []step {
	var out []step
	for _, r := range rc.Stages() {
		out = append(out, step{r.Stage, r.Action})
	}
	return out
}

func qrImage(t *testing.T, payload string) []byte {
	t.Helper()
	img, err := testutil.QRCodePNG(payload)
	require.NoError(t, err)
	return img
}

func TestURLArticleIsDelivered(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	rc, final := run(t, newDeps(t, f, d), pipeline.NewURLContext(articleURL, pipeline.RunOptions{Target: "Articles"}))

	require.True(t, final.OK(), final.String())
	assert.Equal(t, pipeline.StatusCompleted, rc.Status())
	assert.Equal(t, []step{
		{"ingest/qr", pipeline.ActionSkip},
		{"ingest/url", pipeline.ActionContinue},
		{"ingest/webcontent", pipeline.ActionContinue},
		{"ingest/document", pipeline.ActionContinue},
		{"ingest/ai", pipeline.ActionSkip},
		{"ingest/upload", pipeline.ActionComplete},
		{"ingest", pipeline.ActionComplete},
	}, trace(rc))

	rendered, err := rc.Rendered()
	require.NoError(t, err)
	assert.NotEmpty(t, rendered.Data)
	assert.Equal(t, "epub", rendered.Format)
	assert.False(t, rc.HasAnnotations())
	assert.Equal(t, "enrichment not requested", rc.MetaString("skip.ingest/ai"))

	require.Len(t, d.dests, 1)
	assert.Equal(t, "Example Article", d.dests[0].Title)
	assert.Equal(t, "Articles", d.dests[0].Target)
	assert.Equal(t, articleURL, d.dests[0].Metadata["source"])
	assert.Equal(t, "Jane Doe", d.dests[0].Metadata["author"])
	assert.Contains(t, d.dests[0].Metadata["excerpt"], "first paragraph")
	assert.NotContains(t, d.dests[0].Metadata["excerpt"], "Privacy Policy")
	assert.Equal(t, "r1", rc.MetaString("delivery.id"))
	assert.Equal(t, []string{articleURL}, f.calls)
}

func TestQRCodeFollowsURLPath(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	direct, directFinal := run(t, newDeps(t, f, d), pipeline.NewURLContext(articleURL, pipeline.RunOptions{}))
	scanned, scannedFinal := run(t, newDeps(t, f, d), pipeline.NewImageContext(qrImage(t, articleURL), pipeline.RunOptions{}))

	require.True(t, directFinal.OK(), directFinal.String())
	require.True(t, scannedFinal.OK(), scannedFinal.String())

	payload, err := scanned.Payload()
	require.NoError(t, err)
	assert.Equal(t, articleURL, payload)

	directType, _ := direct.ContentType()
	scannedType, _ := scanned.ContentType()
	assert.Equal(t, models.ContentURL, directType)
	assert.Equal(t, directType, scannedType)

	// Identical from the url stage on.
	assert.Equal(t, pipeline.ActionContinue, trace(scanned)[0].action)
	assert.Equal(t, trace(direct)[1:], trace(scanned)[1:])
	assert.Equal(t, []string{articleURL, articleURL}, f.calls)
	require.Len(t, d.docs, 2)
	assert.Equal(t, d.docs[0].Title, d.docs[1].Title)
}

func TestMarkdownFileSkipsWebContent(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	rc, final := run(t, newDeps(t, f, d), pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{}))

	require.True(t, final.OK(), final.String())
	assert.Equal(t, "not a URL content type", rc.MetaString("skip.ingest/webcontent"))
	assert.Empty(t, f.calls)

	ct, err := rc.ContentType()
	require.NoError(t, err)
	assert.Equal(t, models.ContentDocument, ct)

	doc, err := rc.Intermediate()
	require.NoError(t, err)
	assert.Equal(t, models.FormatMarkdown, doc.SourceFormat)
	assert.Equal(t, "Meeting Notes", doc.Title)

	require.Len(t, d.docs, 1)
	assert.Equal(t, "meeting-notes.epub", d.docs[0].Filename())
}

func TestFetchTimeoutFailsRun(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	f.err = &scraper.FetchError{URL: articleURL, Err: context.DeadlineExceeded}

	rc, final := run(t, newDeps(t, f, d), pipeline.NewURLContext(articleURL, pipeline.RunOptions{}))

	assert.Equal(t, pipeline.StatusFailed, final.Status)
	assert.Equal(t, pipeline.KindFetch, final.Kind)
	assert.Equal(t, "timeout", final.Detail)
	assert.Equal(t, "ingest/url", final.Stage)
	assert.False(t, rc.HasIntermediate())
	assert.False(t, rc.HasRendered())
	assert.Empty(t, d.docs)
	assert.Equal(t, []step{
		{"ingest/qr", pipeline.ActionSkip},
		{"ingest/url", pipeline.ActionFail},
		{"ingest", pipeline.ActionFail},
	}, trace(rc))
}

func TestFetchTimeoutWithHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := &fakeDeliverer{}
	deps := newDeps(t, newFetcher(), d)
	deps.Fetcher = scraper.NewFetcher(scraper.FetcherConfig{Timeout: 50 * time.Millisecond, RateLimit: 100})

	_, final := run(t, deps, pipeline.NewURLContext(srv.URL+"/slow", pipeline.RunOptions{}))

	assert.Equal(t, pipeline.KindFetch, final.Kind)
	assert.Equal(t, "timeout", final.Detail)
	assert.Empty(t, d.docs)
}

func TestAIFailureIsNotFatal(t *testing.T) {
	d := &fakeDeliverer{}
	deps := newDeps(t, newFetcher(), d)
	deps.Annotator = &fakeAnnotator{err: fmt.Errorf("%w: connection refused", types.ErrProviderUnavailable)}

	rc, final := run(t, deps, pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{Enrich: true}))

	require.True(t, final.OK(), final.String())
	assert.False(t, rc.HasAnnotations())
	warnings := rc.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, pipeline.KindProviderUnavailable, warnings[0].Kind)
	assert.Equal(t, "ingest/ai", warnings[0].Stage)
	require.Len(t, d.dests, 1)
	assert.Empty(t, d.dests[0].Summary)
}

func TestAIProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	annotator, err := llm.NewAnnotator(llm.AnnotatorConfig{Provider: "ollama", BaseURL: baseURL})
	require.NoError(t, err)

	d := &fakeDeliverer{}
	deps := newDeps(t, newFetcher(), d)
	deps.Annotator = annotator

	rc, final := run(t, deps, pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{Enrich: true}))

	require.True(t, final.OK(), final.String())
	require.Len(t, rc.Warnings(), 1)
	assert.Equal(t, pipeline.KindProviderUnavailable, rc.Warnings()[0].Kind)
	assert.Len(t, d.docs, 1)
}

func TestAITimeoutWarning(t *testing.T) {
	deps := newDeps(t, newFetcher(), &fakeDeliverer{})
	deps.Annotator = &fakeAnnotator{err: fmt.Errorf("annotate: %w", context.DeadlineExceeded)}

	rc, final := run(t, deps, pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{Enrich: true}))

	require.True(t, final.OK(), final.String())
	require.Len(t, rc.Warnings(), 1)
	assert.Equal(t, pipeline.KindProviderTimeout, rc.Warnings()[0].Kind)
}

func TestAIAnnotationsAreDelivered(t *testing.T) {
	d := &fakeDeliverer{}
	deps := newDeps(t, newFetcher(), d)
	deps.Annotator = &fakeAnnotator{result: &models.Annotations{
		Summary:  "The team ships the reader next week.",
		Entities: []string{"Alice", "Bob"},
		Model:    "mistral",
	}}

	rc, final := run(t, deps, pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{Enrich: true}))

	require.True(t, final.OK(), final.String())
	assert.True(t, rc.HasAnnotations())
	assert.Empty(t, rc.Warnings())
	require.Len(t, d.dests, 1)
	assert.Equal(t, "The team ships the reader next week.", d.dests[0].Summary)
	assert.Equal(t, []string{"Alice", "Bob"}, d.dests[0].Entities)
}

func TestMandatoryFailureStopsRun(t *testing.T) {
	var blank bytes.Buffer
	require.NoError(t, png.Encode(&blank, image.NewGray(image.Rect(0, 0, 64, 64))))

	tests := []struct {
		name    string
		rc      func() *pipeline.RunContext
		deliver error
		kind    pipeline.ErrorKind
		last    string
	}{
		{
			name: "unsupported format",
			rc: func() *pipeline.RunContext {
				return pipeline.NewFileContext("report.docx", []byte("PK\x03\x04 not really a docx"), pipeline.RunOptions{Enrich: true})
			},
			kind: pipeline.KindUnsupportedFormat,
			last: "ingest/document",
		},
		{
			name: "broken pdf",
			rc: func() *pipeline.RunContext {
				return pipeline.NewFileContext("broken.pdf", []byte("%PDF-1.4 garbage"), pipeline.RunOptions{})
			},
			kind: pipeline.KindConversion,
			last: "ingest/document",
		},
		{
			name: "upload rejected",
			rc: func() *pipeline.RunContext {
				return pipeline.NewURLContext(articleURL, pipeline.RunOptions{})
			},
			deliver: fmt.Errorf("%w: 413", types.ErrUploadRejected),
			kind:    pipeline.KindUploadRejected,
			last:    "ingest/upload",
		},
		{
			name: "device unavailable",
			rc: func() *pipeline.RunContext {
				return pipeline.NewURLContext(articleURL, pipeline.RunOptions{})
			},
			deliver: fmt.Errorf("%w: no route to host", types.ErrDeviceUnavailable),
			kind:    pipeline.KindDeviceUnavailable,
			last:    "ingest/upload",
		},
		{
			name: "invalid url",
			rc: func() *pipeline.RunContext {
				return pipeline.NewURLContext("ftp://example.com/file", pipeline.RunOptions{})
			},
			kind: pipeline.KindInvalidURL,
			last: "ingest/url",
		},
		{
			name: "image without QR code",
			rc: func() *pipeline.RunContext {
				return pipeline.NewImageContext(blank.Bytes(), pipeline.RunOptions{})
			},
			kind: pipeline.KindDecode,
			last: "ingest/qr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDeliverer{err: tt.deliver}
			ann := &fakeAnnotator{result: &models.Annotations{Summary: "s"}}
			deps := newDeps(t, newFetcher(), d)
			deps.Annotator = ann

			rc, final := run(t, deps, tt.rc())

			assert.Equal(t, pipeline.StatusFailed, final.Status)
			assert.Equal(t, tt.kind, final.Kind)
			assert.Equal(t, tt.last, final.Stage)

			records := rc.Stages()
			require.GreaterOrEqual(t, len(records), 2)
			assert.Equal(t, tt.last, records[len(records)-2].Stage)
			assert.Equal(t, pipeline.ActionFail, records[len(records)-2].Action)
			assert.Equal(t, "ingest", records[len(records)-1].Stage)
			assert.Empty(t, d.docs)
		})
	}
}

func TestExtractionFailurePassesRawThrough(t *testing.T) {
	d := &fakeDeliverer{}
	deps := newDeps(t, newFetcher(), d)
	deps.Extractor = failingExtractor{}

	rc, final := run(t, deps, pipeline.NewURLContext(articleURL, pipeline.RunOptions{}))

	require.True(t, final.OK(), final.String())
	require.Len(t, rc.Warnings(), 1)
	assert.Equal(t, pipeline.KindExtraction, rc.Warnings()[0].Kind)
	assert.Equal(t, true, rc.Metadata()["webcontent.passthrough"])

	doc, err := rc.Intermediate()
	require.NoError(t, err)
	assert.Equal(t, models.FormatHTML, doc.SourceFormat)
	assert.Equal(t, "Example Article", doc.Title)
	assert.Len(t, d.docs, 1)
}

func TestFetchedMarkdownIsConverted(t *testing.T) {
	d := &fakeDeliverer{}
	rc, final := run(t, newDeps(t, newFetcher(), d), pipeline.NewURLContext("https://example.com/notes.md", pipeline.RunOptions{}))

	require.True(t, final.OK(), final.String())
	assert.Equal(t, "not HTML content", rc.MetaString("skip.ingest/webcontent"))
	doc, err := rc.Intermediate()
	require.NoError(t, err)
	assert.Equal(t, models.FormatMarkdown, doc.SourceFormat)
	assert.Equal(t, "https://example.com/notes.md", doc.SourceURL)
}

func TestTextInput(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		d := &fakeDeliverer{}
		rc, final := run(t, newDeps(t, newFetcher(), d), pipeline.NewTextContext("Reading list\n\nFinish the novel.", pipeline.RunOptions{}))

		require.True(t, final.OK(), final.String())
		ct, _ := rc.ContentType()
		assert.Equal(t, models.ContentRawText, ct)
		require.Len(t, d.docs, 1)
		assert.Equal(t, "Reading list", d.docs[0].Title)
	})

	t.Run("url text", func(t *testing.T) {
		f := newFetcher()
		rc, final := run(t, newDeps(t, f, &fakeDeliverer{}), pipeline.NewTextContext("  "+articleURL+"\n", pipeline.RunOptions{}))

		require.True(t, final.OK(), final.String())
		ct, _ := rc.ContentType()
		assert.Equal(t, models.ContentURL, ct)
		assert.Equal(t, []string{articleURL}, f.calls)
	})
}

func TestQRCodeWithTextPayload(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	rc, final := run(t, newDeps(t, f, d), pipeline.NewImageContext(qrImage(t, "Remember the milk"), pipeline.RunOptions{}))

	require.True(t, final.OK(), final.String())
	ct, _ := rc.ContentType()
	assert.Equal(t, models.ContentRawText, ct)
	assert.Equal(t, "not a URL reference", rc.MetaString("skip.ingest/url"))
	assert.Empty(t, f.calls)
	require.Len(t, d.docs, 1)
	assert.Equal(t, "Remember the milk", d.docs[0].Title)
}

func TestNestedQRPayloadIsOpaque(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	payload := "qr:" + articleURL
	rc, final := run(t, newDeps(t, f, d), pipeline.NewFileContext("scan.png", qrImage(t, payload), pipeline.RunOptions{}))

	require.True(t, final.OK(), final.String())
	decoded, err := rc.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
	assert.Empty(t, f.calls)
}

func TestCancelBeforeStart(t *testing.T) {
	f, d := newFetcher(), &fakeDeliverer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc, final := processor.NewPipeline(newDeps(t, f, d), quietLogger()).Run(ctx, pipeline.NewURLContext(articleURL, pipeline.RunOptions{}))

	assert.Equal(t, pipeline.StatusCancelled, final.Status)
	assert.Equal(t, pipeline.KindCancelled, final.Kind)
	assert.Empty(t, rc.Stages())
	assert.Empty(t, f.calls)
	assert.Empty(t, d.docs)
}

func TestCancelMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f, d := newFetcher(), &fakeDeliverer{}
	f.onCall = cancel

	rc, final := processor.NewPipeline(newDeps(t, f, d), quietLogger()).Run(ctx, pipeline.NewURLContext(articleURL, pipeline.RunOptions{}))

	assert.Equal(t, pipeline.StatusCancelled, final.Status)
	assert.Equal(t, "ingest/webcontent", final.Stage)
	// The fetch itself finished; nothing after it ran.
	assert.True(t, rc.HasRaw())
	assert.False(t, rc.HasIntermediate())
	assert.Equal(t, []step{
		{"ingest/qr", pipeline.ActionSkip},
		{"ingest/url", pipeline.ActionContinue},
		{"ingest", pipeline.ActionFail},
	}, trace(rc))
	assert.Empty(t, d.docs)
}

func TestRetryUpload(t *testing.T) {
	d := &fakeDeliverer{err: fmt.Errorf("%w: tablet asleep", types.ErrDeviceUnavailable)}
	p := pipeline.New(processor.DefaultStages(newDeps(t, newFetcher(), d))...).WithLogger(quietLogger())

	rc, final := p.Run(context.Background(), pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{}))
	require.Equal(t, pipeline.KindDeviceUnavailable, final.Kind)

	d.err = nil
	rc, final, err := p.Retry(context.Background(), rc, "upload")
	require.NoError(t, err)
	assert.True(t, final.OK(), final.String())
	assert.Len(t, d.docs, 1)
	assert.NotEmpty(t, rc.MetaString("delivery.location"))
}

func TestDryRunWithoutUpload(t *testing.T) {
	d := &fakeDeliverer{}
	sub := pipeline.New(processor.DefaultStages(newDeps(t, newFetcher(), d))...).Without("upload").WithLogger(quietLogger())
	p := pipeline.New(processor.NewIngest(sub)).WithLogger(quietLogger())

	rc, final := p.Run(context.Background(), pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{}))

	require.True(t, final.OK(), final.String())
	assert.True(t, rc.HasRendered())
	assert.Empty(t, d.docs)
	assert.Equal(t, pipeline.ActionContinue, rc.Stages()[len(rc.Stages())-1].Action)
}

func TestSentinelsSurviveStageErrors(t *testing.T) {
	d := &fakeDeliverer{err: fmt.Errorf("%w: 403", types.ErrUploadRejected)}
	p := pipeline.New(processor.DefaultStages(newDeps(t, newFetcher(), d))...).WithLogger(quietLogger())
	proc := processor.NewUpload(d)

	rc, _ := p.Run(context.Background(), pipeline.NewFileContext("notes.md", []byte(notesMarkdown), pipeline.RunOptions{}))
	out := proc.Process(context.Background(), rc)

	require.NotNil(t, out.Err)
	assert.True(t, errors.Is(out.Err, types.ErrUploadRejected))
}
