package parser

import (
	"fmt"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/models"
)

// Chunker splits text into fixed-width character windows that overlap by a
// fixed number of characters.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker requires 0 < overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap <= 0 {
		return nil, apperr.InvalidRequest(fmt.Sprintf("chunk size and overlap must be positive, got %d/%d", size, overlap))
	}
	if overlap >= size {
		return nil, apperr.InvalidRequest(fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", overlap, size))
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// DefaultChunker uses 500 characters with a 50 character overlap.
func DefaultChunker() *Chunker {
	return &Chunker{size: models.DefaultChunkSize, overlap: models.DefaultChunkOverlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk returns the windows of text in order. Text no longer than the chunk
// size is returned unchanged as the only chunk.
//
// The window start advances by size-overlap and the loop stops once the next
// start falls within the last overlap characters; the previous window already
// ends at or past the end of the text at that point.
func (c *Chunker) Chunk(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n <= c.size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := min(start+c.size, n)
		chunks = append(chunks, string(runes[start:end]))
		start += c.size - c.overlap
		if start >= n-c.overlap {
			break
		}
	}
	return chunks
}

// ChunkText is a convenience wrapper around NewChunker and Chunk.
func ChunkText(text string, size, overlap int) ([]string, error) {
	c, err := NewChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return c.Chunk(text), nil
}
