package llm

import (
	"strings"
	"unicode/utf8"
)

type ChunkerConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinChunkLength int
}

// Chunker splits long text into overlapping, sentence-aligned pieces that
// fit a model's context window.
type Chunker struct {
	config ChunkerConfig
}

func NewChunker(config ChunkerConfig) *Chunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 4000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 100
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}
	return &Chunker{config: config}
}

// Split returns the chunks of text. Text shorter than MinChunkLength is
// returned as a single chunk rather than dropped.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return nil
	}

	var chunks []string
	current := strings.Builder{}

	for _, sentence := range splitIntoSentences(text) {
		if current.Len() > 0 && current.Len()+len(sentence) > c.config.ChunkSize {
			if current.Len() >= c.config.MinChunkLength {
				chunks = append(chunks, strings.TrimSpace(current.String()))
			}

			if c.config.ChunkOverlap > 0 && current.Len() > c.config.ChunkOverlap {
				prev := current.String()
				cut := len(prev) - c.config.ChunkOverlap
				for cut < len(prev) && !utf8.RuneStart(prev[cut]) {
					cut++
				}
				current.Reset()
				current.WriteString(prev[cut:])
			} else {
				current.Reset()
			}
		}

		current.WriteString(sentence)
		current.WriteString(" ")
	}

	if last := strings.TrimSpace(current.String()); len(last) >= c.config.MinChunkLength || len(chunks) == 0 {
		chunks = append(chunks, last)
	}
	return chunks
}

func splitIntoSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' || text[i+1] == '\n' {
				sentences = append(sentences, strings.TrimSpace(text[start:i+1]))
				start = i + 2
				i++
			}
		}
	}
	if rest := strings.TrimSpace(text[min(start, len(text)):]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
