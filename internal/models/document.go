// Package models defines the data exchanged with the RAG backend: topics, documents,
// processing status, and the local chat history records.
package models

import "fmt"

// DocumentStatus is the backend-owned processing state of a document.
type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusDone       DocumentStatus = "done"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether polling should stop at this status.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// ParseStatus maps a backend status string onto DocumentStatus.
func ParseStatus(s string) (DocumentStatus, error) {
	st := DocumentStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown document status %q", s)
	}
	return st, nil
}

// Document is the client-side projection of a backend document.
// Placeholder entries are local-only and carry a temporary ID until the next refresh.
type Document struct {
	ID              string         `json:"id"`
	TopicID         string         `json:"topic_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	FileName        string         `json:"file_name"`
	FilePath        string         `json:"file_path,omitempty"`
	Status          DocumentStatus `json:"status"`
	ProcessingStage string         `json:"processing_stage,omitempty"`
	ProgressPercent int            `json:"progress_percent"`
	StageDetails    string         `json:"stage_details,omitempty"`
	ChunkCount      int            `json:"chunk_count"`
	CreatedAt       string         `json:"created_at,omitempty"`
	Placeholder     bool           `json:"placeholder,omitempty"`
}

// ClampPercent bounds p to 0..100.
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// DocumentChunk is a slice of extracted document text, indexed for topic search.
type DocumentChunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	TopicID    string `json:"topic_id"`
	FileName   string `json:"file_name"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
}
