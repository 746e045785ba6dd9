package indexer

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/intellilearn/internal/models"
)

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// A non-positive size yields one chunk per word.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into chunks of doc. Each window starts chunkSize-chunkOverlap words
// after the previous one; the last window ends at the final word.
func (c *Chunker) Chunk(doc *models.Document, text string) []*models.DocumentChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	if step <= 0 {
		step = 1
	}
	var chunks []*models.DocumentChunk
	for start := 0; ; start += step {
		end := min(start+c.chunkSize, len(words))
		chunks = append(chunks, &models.DocumentChunk{
			ID:         doc.ID + "_" + uuid.NewString()[:8],
			DocumentID: doc.ID,
			TopicID:    doc.TopicID,
			FileName:   doc.FileName,
			Content:    strings.Join(words[start:end], " "),
			ChunkIndex: len(chunks),
		})
		if end == len(words) {
			return chunks
		}
	}
}
