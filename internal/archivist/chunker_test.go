package archivist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitRespectsSize(t *testing.T) {
	c := NewChunker(100, 10)
	text := strings.Repeat("alpha beta gamma delta ", 30) // ~690 chars

	chunks := c.Split(text)
	assert.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		if len([]rune(ch)) > 100 {
			t.Errorf("chunk %d exceeds size: %d chars", i, len(ch))
		}
		assert.NotEmpty(t, ch)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(1000, 100)
	chunks := c.Split("short note")
	assert.Equal(t, []string{"short note"}, chunks)
}

func TestSplitEmpty(t *testing.T) {
	c := NewChunker(1000, 100)
	assert.Nil(t, c.Split("   "))
}

func TestSplitOverlapCarriesText(t *testing.T) {
	c := NewChunker(50, 10)
	text := strings.Repeat("abcde ", 40)
	chunks := c.Split(text)
	assert.Greater(t, len(chunks), 2)

	// Consecutive chunks share content because of the overlap window.
	joined := strings.Join(chunks, "")
	assert.Greater(t, len(joined), len(strings.TrimSpace(text))-len(chunks)*2)
}

func TestChunkEntitySummaryFirst(t *testing.T) {
	c := NewChunker(1000, 100)
	chunks := c.ChunkEntity("the summary", "the referencing text")
	assert.Equal(t, "the summary", chunks[0])
	assert.Contains(t, chunks, "the referencing text")
}

func TestReferencingTextMatchesTitleAndAliases(t *testing.T) {
	cleaned := "Ryan started Water OS last year.\nUnrelated line about gardening.\nThe WOS roadmap is ambitious."
	got := ReferencingText(cleaned, "Water OS", []string{"WOS"})
	assert.Contains(t, got, "Water OS")
	assert.Contains(t, got, "WOS roadmap")
	assert.NotContains(t, got, "gardening")
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"collapses spaces", "a   b\t\tc", "a b c"},
		{"strips urls", "see https://example.com/x for details", "see for details"},
		{"strips html", "<p>hello</p> world", "hello world"},
		{"strips markdown emphasis", "**bold** and __underlined__", "bold and underlined"},
		{"trims blank runs", "a\n\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.input))
		})
	}
}
