package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitIntoSentences(t *testing.T) {
	got := splitIntoSentences("One. Two! Three? Four")
	assert.Equal(t, []string{"One.", "Two!", "Three?", "Four"}, got)
}

func TestChunkerKeepsShortText(t *testing.T) {
	c := NewChunker(ChunkerConfig{})
	assert.Equal(t, []string{"Short note."}, c.Split("  Short   note. "))
	assert.Nil(t, c.Split("   "))
}

func TestChunkerSplitsWithOverlap(t *testing.T) {
	c := NewChunker(ChunkerConfig{ChunkSize: 50, ChunkOverlap: 10, MinChunkLength: 5})
	text := strings.Repeat("The quick brown fox jumps. ", 8)

	chunks := c.Split(text)

	assert.Greater(t, len(chunks), 2)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 50+len("The quick brown fox jumps."))
	}
	// Each chunk after the first starts with the tail of the previous one.
	assert.Contains(t, chunks[0], chunks[1][:9])
}
