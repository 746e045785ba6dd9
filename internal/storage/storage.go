// Package storage persists the dev backend's topics, documents and chunks.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/intellilearn/internal/models"
)

// ErrNotFound is returned when a topic, document or chunk does not exist.
var ErrNotFound = errors.New("not found")

// Progress is a processing update written by the ingestion worker.
type Progress struct {
	Status     models.DocumentStatus
	Stage      string
	Percent    int
	Details    string
	ChunkCount int
}

// Storage defines topic, document and chunk persistence operations.
type Storage interface {
	// Topic operations
	CreateTopic(ctx context.Context, topic *models.Topic) error
	GetTopic(ctx context.Context, id string) (*models.Topic, error)
	ListTopics(ctx context.Context, userID string) ([]*models.Topic, error)
	// DeleteTopic removes the topic with its documents and chunks and reports how many
	// documents went with it.
	DeleteTopic(ctx context.Context, id string) (int, error)

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, topicID string) ([]*models.Document, error)
	UpdateProgress(ctx context.Context, id string, p Progress) error
	DeleteDocument(ctx context.Context, id string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)
	ChunkIDsByTopic(ctx context.Context, topicID string) ([]string, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
