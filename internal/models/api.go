package models

import (
	"errors"
	"fmt"
	"strings"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Validate checks required fields.
func (r *HealthResponse) Validate() error {
	if r.Status == "" {
		return errors.New("missing status")
	}
	return nil
}

// CreateTopicRequest is the body of POST /topics.
type CreateTopicRequest struct {
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// Topic is a user-created grouping of documents ("course").
type Topic struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// Validate checks required fields.
func (t *Topic) Validate() error {
	if t.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

// TopicList is the body of GET /topics/{userId}.
type TopicList struct {
	Topics []*Topic `json:"topics"`
	Count  int      `json:"count"`
}

// Validate checks every listed topic.
func (l *TopicList) Validate() error {
	for i, t := range l.Topics {
		if t == nil {
			return fmt.Errorf("topics[%d]: null entry", i)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("topics[%d]: %w", i, err)
		}
	}
	return nil
}

// DeleteTopicResponse is the body of DELETE /topics/{topicId}.
type DeleteTopicResponse struct {
	Status           string `json:"status"`
	TopicID          string `json:"topic_id"`
	DocumentsDeleted int    `json:"documents_deleted"`
	Message          string `json:"message"`
}

// Validate checks required fields.
func (r *DeleteTopicResponse) Validate() error {
	if r.Status == "" {
		return errors.New("missing status")
	}
	return nil
}

// UploadResponse is the body of POST /upload.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
	FileName   string `json:"file_name"`
	UserID     string `json:"user_id"`
	TopicID    string `json:"topic_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// Validate requires the backend-assigned document id.
func (r *UploadResponse) Validate() error {
	if strings.TrimSpace(r.DocumentID) == "" {
		return errors.New("upload succeeded but no document_id was returned")
	}
	return nil
}

// IngestRequest is the body of POST /ingest.
type IngestRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

// IngestResponse is the body of POST /ingest.
type IngestResponse struct {
	Status      string `json:"status"`
	QueuedCount int    `json:"queued_count"`
	Message     string `json:"message"`
}

// Validate checks required fields.
func (r *IngestResponse) Validate() error {
	if r.Status == "" {
		return errors.New("missing status")
	}
	return nil
}

// DocumentList is the body of GET /documents/{topicId}.
type DocumentList struct {
	Documents []*Document `json:"documents"`
	Count     int         `json:"count"`
}

// Validate checks every listed document and clamps progress.
func (l *DocumentList) Validate() error {
	for i, d := range l.Documents {
		if d == nil {
			return fmt.Errorf("documents[%d]: null entry", i)
		}
		if d.ID == "" {
			return fmt.Errorf("documents[%d]: missing id", i)
		}
		if !d.Status.Valid() {
			return fmt.Errorf("documents[%d]: unknown status %q", i, d.Status)
		}
		d.ProgressPercent = ClampPercent(d.ProgressPercent)
	}
	return nil
}

// DocumentStatusResponse is the body of GET /documents/{documentId}/status.
type DocumentStatusResponse struct {
	DocumentID      string         `json:"document_id"`
	FileName        string         `json:"file_name"`
	Status          DocumentStatus `json:"status"`
	ProcessingStage string         `json:"processing_stage"`
	ProgressPercent int            `json:"progress_percent"`
	StageDetails    string         `json:"stage_details"`
	ChunkCount      int            `json:"chunk_count"`
	CreatedAt       string         `json:"created_at"`
}

// Validate requires a known status and clamps progress to 0..100.
func (r *DocumentStatusResponse) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("unknown status %q", r.Status)
	}
	r.ProgressPercent = ClampPercent(r.ProgressPercent)
	if r.ChunkCount < 0 {
		r.ChunkCount = 0
	}
	return nil
}

// SearchHit is one chunk returned by a topic search.
type SearchHit struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// SearchResponse is the body of GET /topics/{topicId}/search.
type SearchResponse struct {
	Query string       `json:"query"`
	Hits  []*SearchHit `json:"hits"`
	Count int          `json:"count"`
}

// Validate checks every hit.
func (r *SearchResponse) Validate() error {
	for i, h := range r.Hits {
		if h == nil || h.DocumentID == "" {
			return fmt.Errorf("hits[%d]: missing document_id", i)
		}
	}
	return nil
}

// ErrorResponse is the error body returned by the backend.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatsConfig is the ingestion configuration reported by the development backend.
type StatsConfig struct {
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	StageDelay     string `json:"stage_delay"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
	DatabasePath   string `json:"database_path,omitempty"`
	IndexPath      string `json:"index_path,omitempty"`
	UploadDir      string `json:"upload_dir,omitempty"`
}

// StatsResponse is the body of GET /stats (development backend only).
type StatsResponse struct {
	Documents      int64        `json:"documents"`
	Chunks         int64        `json:"chunks"`
	IndexedChunks  uint64       `json:"indexed_chunks"`
	DiskUsageBytes *int64       `json:"disk_usage_bytes,omitempty"`
	Config         *StatsConfig `json:"config,omitempty"`
}

// Validate rejects negative counts.
func (r *StatsResponse) Validate() error {
	if r.Documents < 0 || r.Chunks < 0 {
		return fmt.Errorf("negative counts: documents=%d chunks=%d", r.Documents, r.Chunks)
	}
	return nil
}
