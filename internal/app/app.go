// Package app wires configuration into collaborators and the ingestion
// pipeline shared by the CLI and the websocket server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xhad/inkdrop/internal/types"
	"github.com/xhad/inkdrop/pkg/config"
	"github.com/xhad/inkdrop/pkg/convert"
	"github.com/xhad/inkdrop/pkg/device"
	"github.com/xhad/inkdrop/pkg/llm"
	"github.com/xhad/inkdrop/pkg/pipeline"
	"github.com/xhad/inkdrop/pkg/processor"
	"github.com/xhad/inkdrop/pkg/qr"
	"github.com/xhad/inkdrop/pkg/render"
	"github.com/xhad/inkdrop/pkg/scraper"
	"github.com/xhad/inkdrop/pkg/store"
)

var ErrNoLibrary = errors.New("no library database configured")

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pipeline *pipeline.Pipeline

	library *store.Library
	outbox  *store.Outbox
}

// NewLogger builds the slog logger described by the log section.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New validates cfg and constructs every collaborator. Close releases the
// deliverer's resources.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	deliverer, err := a.deliverer(ctx)
	if err != nil {
		return nil, err
	}

	deps := processor.Deps{
		QR: qr.NewDecoder(true),
		Fetcher: scraper.NewFetcher(scraper.FetcherConfig{
			RateLimit:      cfg.Fetch.RateLimit,
			Timeout:        cfg.Fetch.Timeout,
			UserAgent:      cfg.Fetch.UserAgent,
			MaxBytes:       cfg.Fetch.MaxBytes,
			MaxRetries:     cfg.Fetch.MaxRetries,
			IgnorePatterns: cfg.Fetch.IgnorePatterns,
		}),
		Extractor: scraper.NewExtractor(scraper.ExtractorConfig{}),
		Converter: convert.New(),
		Renderer: render.New(render.Config{
			Language:     cfg.Render.Language,
			SectionLevel: cfg.Render.SectionLevel,
			EmbedImages:  cfg.Render.EmbedImages,
			OptimizePDF:  cfg.Render.OptimizePDF,
		}),
		Deliverer: deliverer,
	}

	annotator, err := llm.NewAnnotator(llm.AnnotatorConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Chunker:     a.chunker(),
	})
	if err != nil {
		// Runs still succeed without enrichment.
		logger.Warn("annotator unavailable", slog.String("error", err.Error()))
	} else {
		deps.Annotator = annotator
	}

	a.Pipeline = processor.NewPipeline(deps, logger)
	logger.Debug("pipeline ready",
		slog.String("device", cfg.Device.Kind),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.Any("stages", a.Pipeline.Stages()),
	)
	return a, nil
}

func (a *App) chunker() llm.ChunkerConfig {
	return llm.ChunkerConfig{ChunkSize: a.Config.LLM.ChunkSize, ChunkOverlap: a.Config.LLM.ChunkOverlap}
}

func (a *App) deliverer(ctx context.Context) (types.Deliverer, error) {
	cfg := a.Config.Device
	switch cfg.Kind {
	case "web":
		return device.NewWebUploader(device.WebConfig{
			BaseURL: cfg.Web.BaseURL,
			Timeout: cfg.Web.Timeout,
		}), nil
	case "s3":
		return device.NewObjectStore(device.ObjectStoreConfig{
			EndpointURL:     cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKey,
			SecretAccessKey: cfg.ObjectStore.SecretKey,
			Region:          cfg.ObjectStore.Region,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Bucket:          cfg.ObjectStore.Bucket,
			Prefix:          cfg.ObjectStore.Prefix,
		})
	case "outbox":
		outbox, err := store.OpenOutbox(ctx, cfg.Outbox.Path)
		if err != nil {
			return nil, err
		}
		a.outbox = outbox
		return outbox, nil
	case "library":
		library, err := a.openLibrary(ctx)
		if err != nil {
			return nil, err
		}
		a.library = library
		return library, nil
	}
	return nil, fmt.Errorf("unknown device kind %q", cfg.Kind)
}

func (a *App) openLibrary(ctx context.Context) (*store.Library, error) {
	cfg := a.Config
	if cfg.Device.Library.URL == "" {
		return nil, ErrNoLibrary
	}
	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Model:   cfg.LLM.EmbeddingModel,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return store.NewLibrary(ctx, store.LibraryConfig{
		ConnString: cfg.Device.Library.URL,
		TableName:  cfg.Device.Library.TableName,
		VectorDim:  cfg.Device.Library.VectorDim,
		Chunker:    a.chunker(),
	}, embedder)
}

// Options returns the run options from configuration, with enrichment
// forced on when enrich is set and the target overridden when non-empty.
func (a *App) Options(enrich bool, target string) pipeline.RunOptions {
	cfg := a.Config
	opts := pipeline.RunOptions{
		Enrich: cfg.Pipeline.Enrich || enrich,
		Target: cfg.Device.Target,
	}
	opts.Annotate.Summarize = cfg.Pipeline.Summarize
	opts.Annotate.ExtractEntities = cfg.Pipeline.ExtractEntities
	opts.Annotate.MaxChunks = cfg.LLM.MaxChunks
	opts.Annotate.Timeout = cfg.LLM.Timeout
	if target != "" {
		opts.Target = target
	}
	return opts
}

// Ingest runs rc under the configured per-run timeout.
func (a *App) Ingest(ctx context.Context, rc *pipeline.RunContext) (*pipeline.RunContext, pipeline.FinalStatus) {
	if a.Config.Pipeline.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Config.Pipeline.Timeout)
		defer cancel()
	}
	return a.Pipeline.Run(ctx, rc)
}

// Search queries the document library, opening it on first use.
func (a *App) Search(ctx context.Context, query string, limit int) ([]store.LibraryEntry, error) {
	if a.library == nil {
		library, err := a.openLibrary(ctx)
		if err != nil {
			return nil, err
		}
		a.library = library
	}
	return a.library.Search(ctx, query, limit)
}

// Outbox returns the local outbox when the device kind is outbox.
func (a *App) Outbox() *store.Outbox { return a.outbox }

func (a *App) Close() {
	if a.library != nil {
		a.library.Close()
	}
	if a.outbox != nil {
		if err := a.outbox.Close(); err != nil {
			a.Logger.Warn("closing outbox", slog.String("error", err.Error()))
		}
	}
}
