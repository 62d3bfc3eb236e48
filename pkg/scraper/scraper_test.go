package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

const articleHTML = `
<html>
	<head>
		<title>Test Page</title>
		<meta name="author" content="Ada">
		<script>var tracking = true;</script>
	</head>
	<body>
		<nav><a href="/">Home</a></nav>
		<article>
			<h1>Test Content</h1>
			<p>This is a test paragraph. Accept Cookies</p>
			<ul><li>first <p>nested</p></li><li>second</li></ul>
			<pre>go test ./...</pre>
			<img src="/img/figure.png" alt="figure">
		</article>
		<footer>Privacy Policy</footer>
	</body>
</html>`

func TestFetchWithMockServer(t *testing.T) {
	var ua string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer server.Close()

	f := NewFetcher(FetcherConfig{RateLimit: 100, UserAgent: "inkdrop-test"})
	body, mediaType, err := f.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, string(body), "Test Content")
	assert.Equal(t, "text/html; charset=utf-8", mediaType)
	assert.Equal(t, "inkdrop-test", ua)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := NewFetcher(FetcherConfig{RateLimit: 100, MaxRetries: 2, RetryBackoff: time.Millisecond})
	body, _, err := f.Fetch(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(FetcherConfig{RateLimit: 100, MaxRetries: 3, RetryBackoff: time.Millisecond})
	_, _, err := f.Fetch(context.Background(), server.URL)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	f := NewFetcher(FetcherConfig{RateLimit: 100, Timeout: 50 * time.Millisecond, MaxRetries: 2})
	_, _, err := f.Fetch(context.Background(), server.URL)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Timeout())
}

func TestFetchBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	f := NewFetcher(FetcherConfig{RateLimit: 100, MaxBytes: 1024, MaxRetries: 2})
	_, _, err := f.Fetch(context.Background(), server.URL)

	assert.True(t, errors.Is(err, ErrBodyTooLarge))
}

func TestFetchIgnorePatterns(t *testing.T) {
	f := NewFetcher(FetcherConfig{IgnorePatterns: []string{"/private/"}})
	_, _, err := f.Fetch(context.Background(), "https://example.com/private/page.html")
	assert.Error(t, err)
}

func TestExtractReadableContent(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	doc, err := e.Extract(context.Background(), []byte(articleHTML), "https://example.com/post/1")
	require.NoError(t, err)

	assert.Equal(t, "Test Page", doc.Title)
	assert.Equal(t, "Ada", doc.Author)
	assert.Equal(t, models.FormatHTML, doc.SourceFormat)

	text := doc.PlainText()
	assert.Contains(t, text, "Test Content")
	assert.Contains(t, text, "This is a test paragraph.")
	assert.NotContains(t, text, "Accept Cookies")
	assert.NotContains(t, text, "Home")
	assert.NotContains(t, text, "tracking")

	kinds := map[models.BlockKind]int{}
	for _, b := range doc.Blocks {
		kinds[b.Kind]++
	}
	assert.Equal(t, 1, kinds[models.BlockHeading])
	assert.Equal(t, 2, kinds[models.BlockListItem])
	assert.Equal(t, 1, kinds[models.BlockParagraph])
	assert.Equal(t, 1, kinds[models.BlockCode])

	require.Len(t, doc.Assets, 1)
	assert.Equal(t, "https://example.com/img/figure.png", doc.Assets[0].URL)
}

func TestExtractFallsBackToBody(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	doc, err := e.Extract(context.Background(), []byte(`<html><body><div>Just some text</div></body></html>`), "")
	require.NoError(t, err)
	assert.Equal(t, "Just some text", doc.PlainText())
}

func TestExtractEmptyPage(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	_, err := e.Extract(context.Background(), []byte(`<html><body><script>x()</script></body></html>`), "")
	assert.ErrorIs(t, err, types.ErrExtraction)
}
