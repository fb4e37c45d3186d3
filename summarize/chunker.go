package summarize

import (
	"github.com/c360/bookrec/errors"
)

// DefaultLookahead is how far past the nominal chunk boundary the chunker
// searches for a sentence-terminal character before hard-cutting.
const DefaultLookahead = 100

// Chunker splits text into overlapping chunks. Consecutive chunks share
// exactly Overlap characters so meaning is not lost at boundaries.
type Chunker struct {
	ChunkSize int
	Overlap   int
	Lookahead int
}

// NewChunker validates the chunking parameters.
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Chunker", "NewChunker", "chunk size must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "Chunker", "NewChunker", "overlap must be in [0, chunkSize)")
	}
	return &Chunker{
		ChunkSize: chunkSize,
		Overlap:   overlap,
		Lookahead: DefaultLookahead,
	}, nil
}

// Split chunks text into overlapping slices. A boundary extends to the next
// sentence-terminal character within the lookahead window if one exists,
// else it is a hard cut at ChunkSize. Text no longer than one chunk is
// returned whole.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.ChunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for {
		end := start + c.ChunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}

		end = c.extendToSentence(text, end)
		chunks = append(chunks, text[start:end])

		if end >= len(text) {
			break
		}
		start = end - c.Overlap
	}
	return chunks
}

// extendToSentence moves end forward to just past the first sentence
// terminal within the lookahead window, if any.
func (c *Chunker) extendToSentence(text string, end int) int {
	limit := end + c.Lookahead
	if limit > len(text) {
		limit = len(text)
	}
	for i := end; i < limit; i++ {
		switch text[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return end
}
