package config

import (
	"fmt"
	"net/url"
	"slices"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	// Fetch
	if c.Fetch.RateLimit <= 0 {
		add("fetch.rate_limit", "rate_limit must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		add("fetch.timeout", "timeout must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		add("fetch.max_retries", "max_retries cannot be negative")
	}

	// LLM
	switch c.LLM.Provider {
	case "ollama":
		if !validURL(c.LLM.BaseURL) {
			add("llm.base_url", "Ollama base URL is required")
		}
	case "openai":
		if c.LLM.APIKey == "" && c.Pipeline.Enrich {
			add("llm.api_key", "api_key is required for the openai provider")
		}
	default:
		add("llm.provider", fmt.Sprintf("unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 4096 {
		add("llm.max_tokens", "max_tokens must be between 1 and 4096")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		add("llm.temperature", "temperature must be between 0 and 1")
	}
	if c.LLM.ChunkSize < 1 {
		add("llm.chunk_size", "chunk_size must be positive")
	}
	if c.LLM.ChunkOverlap < 0 || c.LLM.ChunkOverlap >= c.LLM.ChunkSize {
		add("llm.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Render
	if c.Render.SectionLevel < 1 || c.Render.SectionLevel > 6 {
		add("render.section_level", "section_level must be between 1 and 6")
	}

	// Device
	if !slices.Contains([]string{"web", "s3", "outbox", "library"}, c.Device.Kind) {
		add("device.kind", fmt.Sprintf("unknown device kind %q", c.Device.Kind))
	}
	switch c.Device.Kind {
	case "web":
		if !validURL(c.Device.Web.BaseURL) {
			add("device.web.base_url", "invalid device URL")
		}
	case "s3":
		if c.Device.ObjectStore.Endpoint == "" {
			add("device.object_store.endpoint", "endpoint is required")
		}
		if c.Device.ObjectStore.AccessKey == "" || c.Device.ObjectStore.SecretKey == "" {
			add("device.object_store.access_key", "credentials are required")
		}
	case "outbox":
		if c.Device.Outbox.Path == "" {
			add("device.outbox.path", "path is required")
		}
	case "library":
		if c.Device.Library.URL == "" {
			add("device.library.url", "database URL is required")
		}
	}
	if c.Device.Library.URL != "" {
		if _, err := url.Parse(c.Device.Library.URL); err != nil {
			add("device.library.url", "invalid database URL")
		}
	}
	if c.Device.Library.VectorDim < 1 {
		add("device.library.vector_dim", "vector_dim must be positive")
	}

	// Pipeline
	if c.Pipeline.Concurrency < 1 {
		add("pipeline.concurrency", "concurrency must be positive")
	}

	// Log
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		add("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("log.format", "format must be text or json")
	}

	return errors
}

func validURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
