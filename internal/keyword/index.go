// Package keyword indexes document chunks for topic-scoped keyword search.
package keyword

import (
	"context"

	"github.com/hyperjump/intellilearn/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FileNameBoost multiplies the score contribution of matches in the file name.
	// Values <= 0 fall back to DefaultFileNameBoost.
	FileNameBoost float64
	// FuzzyFallback retries a search that found nothing with fuzzy term matching.
	FuzzyFallback bool
	// Fuzziness is the maximum edit distance for the fuzzy retry (1 or 2). Default 1.
	Fuzziness int
}

// DefaultFileNameBoost ranks file-name matches above body matches.
const DefaultFileNameBoost = 2.0

// Index defines chunk indexing and search operations.
type Index interface {
	IndexChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	Search(ctx context.Context, topicID, query string, limit int, opts *SearchOptions) ([]*Hit, error)
	Delete(ctx context.Context, chunkIDs []string) error
	DocCount() (uint64, error)
	Close() error
}

// Hit is a single matching chunk.
type Hit struct {
	ChunkID    string
	DocumentID string
	TopicID    string
	FileName   string
	ChunkIndex int
	Content    string
	Score      float64
}
