package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Fetch struct {
		RateLimit      float64       `yaml:"rate_limit"`
		Timeout        time.Duration `yaml:"timeout"`
		UserAgent      string        `yaml:"user_agent"`
		MaxBytes       int64         `yaml:"max_bytes"`
		MaxRetries     int           `yaml:"max_retries"`
		IgnorePatterns []string      `yaml:"ignore_patterns"`
	} `yaml:"fetch"`

	LLM struct {
		Provider       string        `yaml:"provider"`
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		Model          string        `yaml:"model"`
		EmbeddingModel string        `yaml:"embedding_model"`
		MaxTokens      int           `yaml:"max_tokens"`
		Temperature    float64       `yaml:"temperature"`
		ChunkSize      int           `yaml:"chunk_size"`
		ChunkOverlap   int           `yaml:"chunk_overlap"`
		MaxChunks      int           `yaml:"max_chunks"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"llm"`

	Render struct {
		Language     string `yaml:"language"`
		SectionLevel int    `yaml:"section_level"`
		EmbedImages  bool   `yaml:"embed_images"`
		OptimizePDF  bool   `yaml:"optimize_pdf"`
	} `yaml:"render"`

	Device struct {
		// Kind selects the deliverer: web, s3, outbox or library.
		Kind   string `yaml:"kind"`
		Target string `yaml:"target"`

		Web struct {
			BaseURL string        `yaml:"base_url"`
			Timeout time.Duration `yaml:"timeout"`
		} `yaml:"web"`

		ObjectStore struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Region    string `yaml:"region"`
			Bucket    string `yaml:"bucket"`
			Prefix    string `yaml:"prefix"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"object_store"`

		Outbox struct {
			Path string `yaml:"path"`
		} `yaml:"outbox"`

		Library struct {
			URL       string `yaml:"url"`
			TableName string `yaml:"table_name"`
			VectorDim int    `yaml:"vector_dim"`
		} `yaml:"library"`
	} `yaml:"device"`

	Pipeline struct {
		Enrich          bool          `yaml:"enrich"`
		Summarize       bool          `yaml:"summarize"`
		ExtractEntities bool          `yaml:"extract_entities"`
		Concurrency     int           `yaml:"concurrency"`
		Timeout         time.Duration `yaml:"timeout"`
	} `yaml:"pipeline"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"inkdrop.yaml",
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/inkdrop/config.yaml"),
			"/etc/inkdrop/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.Fetch.RateLimit == 0 {
		config.Fetch.RateLimit = 2.0
	}
	if config.Fetch.Timeout == 0 {
		config.Fetch.Timeout = 30 * time.Second
	}
	if config.Fetch.UserAgent == "" {
		config.Fetch.UserAgent = "inkdrop/1.0"
	}
	if config.Fetch.MaxBytes == 0 {
		config.Fetch.MaxBytes = 32 << 20
	}

	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "nomic-embed-text:latest"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 512
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.ChunkSize == 0 {
		config.LLM.ChunkSize = 4000
	}
	if config.LLM.ChunkOverlap == 0 {
		config.LLM.ChunkOverlap = 200
	}
	if config.LLM.MaxChunks == 0 {
		config.LLM.MaxChunks = 8
	}
	if config.LLM.Timeout == 0 {
		config.LLM.Timeout = 2 * time.Minute
	}

	if config.Render.Language == "" {
		config.Render.Language = "en"
	}
	if config.Render.SectionLevel == 0 {
		config.Render.SectionLevel = 2
	}

	if config.Device.Kind == "" {
		config.Device.Kind = "outbox"
	}
	if config.Device.Web.BaseURL == "" {
		config.Device.Web.BaseURL = "http://10.11.99.1"
	}
	if config.Device.Web.Timeout == 0 {
		config.Device.Web.Timeout = 60 * time.Second
	}
	if config.Device.ObjectStore.Bucket == "" {
		config.Device.ObjectStore.Bucket = "inkdrop"
	}
	if config.Device.Outbox.Path == "" {
		config.Device.Outbox.Path = "inkdrop.db"
	}
	if config.Device.Library.TableName == "" {
		config.Device.Library.TableName = "library"
	}
	if config.Device.Library.VectorDim == 0 {
		config.Device.Library.VectorDim = 768
	}

	if config.Pipeline.Concurrency == 0 {
		config.Pipeline.Concurrency = 4
	}
	if config.Pipeline.Timeout == 0 {
		config.Pipeline.Timeout = 5 * time.Minute
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Device.Library.URL = dbURL
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Device.ObjectStore.Endpoint = endpoint
	}
	if key := os.Getenv("MINIO_ACCESS_KEY"); key != "" {
		config.Device.ObjectStore.AccessKey = key
	}
	if secret := os.Getenv("MINIO_SECRET_KEY"); secret != "" {
		config.Device.ObjectStore.SecretKey = secret
	}
	if deviceURL := os.Getenv("INKDROP_DEVICE_URL"); deviceURL != "" {
		config.Device.Web.BaseURL = deviceURL
	}
	if level := os.Getenv("INKDROP_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
