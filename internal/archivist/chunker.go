package archivist

import (
	"strings"
)

// Chunker splits entity text into bounded, overlapping character chunks.
// Chunk 0 always holds the entity summary so summary embeddings have a
// stable home.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the configured size and overlap.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// ChunkEntity returns the ordered chunk texts for an entity: the summary
// first, then the slices of cleaned event text that reference the entity.
func (c *Chunker) ChunkEntity(summary, referencingText string) []string {
	out := []string{strings.TrimSpace(summary)}
	for _, piece := range c.Split(referencingText) {
		if piece != "" && piece != out[0] {
			out = append(out, piece)
		}
	}
	return out
}

// Split cuts text into chunks of at most size characters with overlap
// characters carried between neighbors. Split prefers to break at a
// whitespace boundary near the limit.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}
		cut := end
		for cut > start+c.size/2 && !isSpace(runes[cut-1]) {
			cut--
		}
		if cut == start+c.size/2 {
			cut = end
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:cut])))
		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	out := chunks[:0]
	for _, ch := range chunks {
		if ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// ReferencingText pulls the lines of cleaned text that mention the entity
// title or one of its aliases, so chunks stay scoped to the entity.
func ReferencingText(cleaned, title string, aliases []string) string {
	needles := make([]string, 0, len(aliases)+1)
	needles = append(needles, strings.ToLower(title))
	for _, a := range aliases {
		if a != "" {
			needles = append(needles, strings.ToLower(a))
		}
	}

	var matched []string
	for _, line := range strings.Split(cleaned, "\n") {
		lower := strings.ToLower(line)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				matched = append(matched, line)
				break
			}
		}
	}
	return strings.Join(matched, "\n")
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}
