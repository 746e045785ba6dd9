package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/intellilearn/internal/indexer"
	"github.com/hyperjump/intellilearn/internal/keyword"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.internalError(w, "stats: count documents failed", err)
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.internalError(w, "stats: count chunks failed", err)
		return
	}
	indexed, err := s.index.DocCount()
	if err != nil {
		s.internalError(w, "stats: index doc count failed", err)
		return
	}
	resp := models.StatsResponse{
		Documents:     docCount,
		Chunks:        chunkCount,
		IndexedChunks: indexed,
		Config: &models.StatsConfig{
			ChunkSize:      s.config.ChunkSize,
			ChunkOverlap:   s.config.ChunkOverlap,
			StageDelay:     s.config.StageDelay.String(),
			MaxUploadBytes: s.config.MaxUploadBytes(),
			DatabasePath:   s.config.DatabasePath,
			IndexPath:      s.config.IndexPath,
			UploadDir:      s.config.UploadDir,
		},
	}
	if bytes, err := storage.DiskUsageBytes(s.config.DatabasePath, s.config.IndexPath, s.config.UploadDir); err == nil {
		resp.DiskUsageBytes = &bytes
	} else {
		s.logger.Warn("stats: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "user_id and name are required")
		return
	}
	topic := &models.Topic{ID: s.newID(), UserID: req.UserID, Name: req.Name}
	if req.Description != nil {
		topic.Description = *req.Description
	}
	if err := s.storage.CreateTopic(r.Context(), topic); err != nil {
		s.internalError(w, "create topic failed", err)
		return
	}
	s.logger.Debug("topic created", zap.String("topic_id", topic.ID), zap.String("user_id", topic.UserID))
	s.respondJSON(w, http.StatusOK, topic)
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.storage.ListTopics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "list topics failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.TopicList{Topics: topics, Count: len(topics)})
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetTopic(ctx, id); err != nil {
		s.storageError(w, "Topic not found", err)
		return
	}
	docs, err := s.storage.ListDocuments(ctx, id)
	if err != nil {
		s.internalError(w, "delete topic: list documents failed", err)
		return
	}
	chunkIDs, err := s.storage.ChunkIDsByTopic(ctx, id)
	if err != nil {
		s.internalError(w, "delete topic: list chunks failed", err)
		return
	}
	if err := s.index.Delete(ctx, chunkIDs); err != nil {
		s.internalError(w, "delete topic: index cleanup failed", err)
		return
	}
	n, err := s.storage.DeleteTopic(ctx, id)
	if err != nil {
		s.storageError(w, "Topic not found", err)
		return
	}
	for _, d := range docs {
		s.removeUpload(d.ID)
	}
	s.logger.Debug("topic deleted", zap.String("topic_id", id), zap.Int("documents", n))
	s.respondJSON(w, http.StatusOK, models.DeleteTopicResponse{
		Status:           "deleted",
		TopicID:          id,
		DocumentsDeleted: n,
		Message:          fmt.Sprintf("Topic and %d document(s) deleted", n),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := chi.URLParam(r, "id")
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit := keyword.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if _, err := s.storage.GetTopic(ctx, topicID); err != nil {
		s.storageError(w, "Topic not found", err)
		return
	}
	hits, err := s.index.Search(ctx, topicID, query, limit, &keyword.SearchOptions{FuzzyFallback: true})
	if err != nil {
		s.internalError(w, "search failed", err)
		return
	}
	resp := models.SearchResponse{Query: query, Hits: make([]*models.SearchHit, 0, len(hits))}
	for _, h := range hits {
		resp.Hits = append(resp.Hits, &models.SearchHit{
			DocumentID: h.DocumentID,
			FileName:   h.FileName,
			ChunkIndex: h.ChunkIndex,
			Content:    h.Content,
			Score:      h.Score,
		})
	}
	resp.Count = len(resp.Hits)
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	topicID := strings.TrimSpace(r.URL.Query().Get("topic_id"))
	if userID == "" || topicID == "" {
		s.respondError(w, http.StatusBadRequest, "user_id and topic_id are required")
		return
	}
	if _, err := s.storage.GetTopic(ctx, topicID); err != nil {
		s.storageError(w, "Topic not found", err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes())
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}
	var part io.ReadCloser
	var fileName string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if p.FormName() == "file" {
			part, fileName = p, filepath.Base(p.FileName())
			break
		}
		_ = p.Close()
	}
	if part == nil {
		s.respondError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer part.Close()
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		s.respondError(w, http.StatusBadRequest, "file name is required")
		return
	}

	docID := s.newID()
	path, err := s.saveUpload(docID, fileName, part)
	if err != nil {
		s.removeUpload(docID)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.internalError(w, "upload: save file failed", err)
		return
	}
	doc := &models.Document{
		ID:              docID,
		TopicID:         topicID,
		UserID:          userID,
		FileName:        fileName,
		FilePath:        path,
		Status:          models.StatusPending,
		ProcessingStage: "uploaded",
		StageDetails:    "Waiting for ingestion",
	}
	if err := s.storage.CreateDocument(ctx, doc); err != nil {
		s.removeUpload(docID)
		s.internalError(w, "upload: create document failed", err)
		return
	}
	s.logger.Debug("document uploaded", zap.String("document_id", docID), zap.String("file_name", fileName))
	s.respondJSON(w, http.StatusOK, models.UploadResponse{
		DocumentID: docID,
		FilePath:   path,
		FileName:   fileName,
		UserID:     userID,
		TopicID:    topicID,
		Status:     "uploaded",
		Message:    "File uploaded successfully",
	})
}

func (s *Server) saveUpload(docID, fileName string, content io.Reader) (string, error) {
	dir := filepath.Join(s.config.UploadDir, docID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, f.Close()
}

func (s *Server) removeUpload(docID string) {
	if err := os.RemoveAll(filepath.Join(s.config.UploadDir, docID)); err != nil {
		s.logger.Warn("failed to remove upload", zap.String("document_id", docID), zap.Error(err))
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.DocumentIDs) == 0 {
		s.respondError(w, http.StatusBadRequest, "document_ids must not be empty")
		return
	}
	n, err := s.ingestor.Enqueue(r.Context(), req.DocumentIDs)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "Document not found")
		return
	case errors.Is(err, indexer.ErrStopped):
		s.respondError(w, http.StatusServiceUnavailable, "ingestion is shutting down")
		return
	case err != nil:
		s.internalError(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.IngestResponse{
		Status:      "queued",
		QueuedCount: n,
		Message:     fmt.Sprintf("%d document(s) queued for ingestion", n),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	topicID := chi.URLParam(r, "id")
	if _, err := s.storage.GetTopic(ctx, topicID); err != nil {
		s.storageError(w, "Topic not found", err)
		return
	}
	docs, err := s.storage.ListDocuments(ctx, topicID)
	if err != nil {
		s.internalError(w, "list documents failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.DocumentList{Documents: docs, Count: len(docs)})
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := s.storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storageError(w, "Document not found", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.DocumentStatusResponse{
		DocumentID:      doc.ID,
		FileName:        doc.FileName,
		Status:          doc.Status,
		ProcessingStage: doc.ProcessingStage,
		ProgressPercent: doc.ProgressPercent,
		StageDetails:    doc.StageDetails,
		ChunkCount:      doc.ChunkCount,
		CreatedAt:       doc.CreatedAt,
	})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetDocument(ctx, id); err != nil {
		s.storageError(w, "Document not found", err)
		return
	}
	if err := s.ingestor.RemoveChunks(ctx, id); err != nil {
		s.internalError(w, "delete document: chunk cleanup failed", err)
		return
	}
	if err := s.storage.DeleteDocument(ctx, id); err != nil {
		s.storageError(w, "Document not found", err)
		return
	}
	s.removeUpload(id)
	s.logger.Debug("document deleted", zap.String("document_id", id))
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "document_id": id})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, models.ErrorResponse{Detail: message})
}

// storageError maps storage.ErrNotFound to 404 with notFound as detail.
func (s *Server) storageError(w http.ResponseWriter, notFound string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, notFound)
		return
	}
	s.internalError(w, "storage error", err)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}
