package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/inkdrop/internal/models"
	"github.com/xhad/inkdrop/internal/types"
)

// AnnotatorConfig represents the configuration for the AI annotator.
type AnnotatorConfig struct {
	Provider       string // "ollama" or "openai"
	Model          string
	BaseURL        string
	APIKey         string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	SummaryPrompt  string
	CombinePrompt  string
	EntityPrompt   string
	MaxEntities    int
	Chunker        ChunkerConfig
}

// Annotator summarizes documents and extracts named entities with an LLM.
type Annotator struct {
	config  AnnotatorConfig
	llm     llms.Model
	chunker *Chunker
}

// NewAnnotator creates an Annotator backed by the configured provider.
func NewAnnotator(config AnnotatorConfig) (*Annotator, error) {
	config, err := annotatorDefaults(config)
	if err != nil {
		return nil, err
	}

	var model llms.Model
	switch config.Provider {
	case "ollama":
		model, err = ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case "openai":
		opts := []openai.Option{openai.WithModel(config.Model), openai.WithToken(config.APIKey)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &Annotator{config: config, llm: model, chunker: NewChunker(config.Chunker)}, nil
}

// NewAnnotatorWithModel wraps an already constructed model.
func NewAnnotatorWithModel(config AnnotatorConfig, model llms.Model) (*Annotator, error) {
	config, err := annotatorDefaults(config)
	if err != nil {
		return nil, err
	}
	return &Annotator{config: config, llm: model, chunker: NewChunker(config.Chunker)}, nil
}

func annotatorDefaults(config AnnotatorConfig) (AnnotatorConfig, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Provider == "ollama" && config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return config, fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 512
	}
	if config.MaxEntities == 0 {
		config.MaxEntities = 20
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = "You prepare documents for reading on an e-ink tablet. Be concise and factual."
	}
	if config.SummaryPrompt == "" {
		config.SummaryPrompt = "Summarize the following text in at most five sentences:\n\n%s"
	}
	if config.CombinePrompt == "" {
		config.CombinePrompt = "These are summaries of consecutive parts of one document. Combine them into a single summary of at most five sentences:\n\n%s"
	}
	if config.EntityPrompt == "" {
		config.EntityPrompt = "List the people, organizations, places and products named in the following text, one per line, with no other commentary:\n\n%s"
	}
	return config, nil
}

// Annotate runs the requested enrichment over doc. Provider failures wrap
// types.ErrProviderUnavailable; deadline expiry wraps context.DeadlineExceeded.
func (a *Annotator) Annotate(ctx context.Context, doc *models.IntermediateDocument, opts types.AnnotateOptions) (*models.Annotations, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if !opts.Summarize && !opts.ExtractEntities {
		opts.Summarize = true
	}

	chunks := a.chunker.Split(doc.PlainText())
	if len(chunks) == 0 {
		return nil, errors.New("document has no text to annotate")
	}
	if opts.MaxChunks > 0 && len(chunks) > opts.MaxChunks {
		chunks = chunks[:opts.MaxChunks]
	}

	out := &models.Annotations{Model: a.config.Model, Chunks: len(chunks)}

	if opts.Summarize {
		summary, err := a.summarize(ctx, chunks)
		if err != nil {
			return nil, err
		}
		out.Summary = summary
	}

	if opts.ExtractEntities {
		entities, err := a.entities(ctx, chunks)
		if err != nil {
			return nil, err
		}
		out.Entities = entities
	}
	return out, nil
}

func (a *Annotator) summarize(ctx context.Context, chunks []string) (string, error) {
	partials := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		s, err := a.generate(ctx, fmt.Sprintf(a.config.SummaryPrompt, chunk))
		if err != nil {
			return "", err
		}
		partials = append(partials, s)
	}
	if len(partials) == 1 {
		return partials[0], nil
	}
	return a.generate(ctx, fmt.Sprintf(a.config.CombinePrompt, strings.Join(partials, "\n\n")))
}

func (a *Annotator) entities(ctx context.Context, chunks []string) ([]string, error) {
	seen := make(map[string]bool)
	var entities []string

	for _, chunk := range chunks {
		resp, err := a.generate(ctx, fmt.Sprintf(a.config.EntityPrompt, chunk))
		if err != nil {
			return nil, err
		}
		for _, e := range parseList(resp) {
			key := strings.ToLower(e)
			if seen[key] {
				continue
			}
			seen[key] = true
			entities = append(entities, e)
			if len(entities) == a.config.MaxEntities {
				return entities, nil
			}
		}
	}
	return entities, nil
}

func (a *Annotator) generate(ctx context.Context, prompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, a.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := a.llm.GenerateContent(ctx, content,
		llms.WithTemperature(a.config.Temperature),
		llms.WithMaxTokens(a.config.MaxTokens),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("annotate: %w", ctxErr)
		}
		return "", fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%w: empty response", types.ErrProviderUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// parseList turns a one-item-per-line model reply into items, dropping list
// markers and numbering.
func parseList(resp string) []string {
	var items []string
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.IndexAny(line, ".)"); i > 0 && i <= 3 && isDigits(line[:i]) {
			line = strings.TrimSpace(line[i+1:])
		}
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
