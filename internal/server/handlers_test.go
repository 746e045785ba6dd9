package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/intellilearn/internal/config"
	"github.com/hyperjump/intellilearn/internal/extract"
	"github.com/hyperjump/intellilearn/internal/indexer"
	"github.com/hyperjump/intellilearn/internal/keyword"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/storage"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	cfg     *config.DevServerConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.DevServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		DatabasePath: filepath.Join(dir, "dev.db"),
		IndexPath:    filepath.Join(dir, "bleve"),
		UploadDir:    filepath.Join(dir, "uploads"),
		ChunkSize:    8,
		ChunkOverlap: 2,
	}
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := keyword.NewBleveIndex(cfg.IndexPath)
	if err != nil {
		t.Fatal(err)
	}
	logger := zaptest.NewLogger(t)
	ing := indexer.NewIngestor(store, idx, extract.NewExtractor(),
		indexer.WithLogger(logger), indexer.WithChunking(cfg.ChunkSize, cfg.ChunkOverlap))
	ing.Start()
	t.Cleanup(func() {
		ing.Stop()
		_ = idx.Close()
		_ = store.Close()
	})
	srv := NewServer(store, idx, ing, cfg, logger)
	return &testEnv{srv: srv, handler: srv.Handler(), cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, path, body)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path string, in interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, body, "application/json")
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode %T: %v", out, err)
	}
	return out
}

func expectDetail(t *testing.T, w *httptest.ResponseRecorder, status int, detail string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if got := decode[models.ErrorResponse](t, w); got.Detail != detail {
		t.Errorf("detail = %q, want %q", got.Detail, detail)
	}
}

func (e *testEnv) createTopic(t *testing.T, userID, name string) *models.Topic {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/topics", models.CreateTopicRequest{UserID: userID, Name: name})
	if w.Code != http.StatusOK {
		t.Fatalf("create topic: %d %s", w.Code, w.Body.String())
	}
	topic := decode[models.Topic](t, w)
	return &topic
}

func multipartFile(t *testing.T, field, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, userID, topicID, name, content string) models.UploadResponse {
	t.Helper()
	body, ct := multipartFile(t, "file", name, content)
	w := e.do(t, http.MethodPost, "/upload?user_id="+userID+"&topic_id="+topicID, body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	return decode[models.UploadResponse](t, w)
}

func (e *testEnv) waitStatus(t *testing.T, id string) models.DocumentStatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := e.do(t, http.MethodGet, "/documents/"+id+"/status", nil, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status: %d %s", w.Code, w.Body.String())
		}
		st := decode[models.DocumentStatusResponse](t, w)
		if st.Status.IsTerminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s never finished", id)
	return models.DocumentStatusResponse{}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if got := decode[models.HealthResponse](t, w); got.Status != "ok" {
		t.Errorf("health = %+v", got)
	}
}

func TestTopics_CreateListDelete(t *testing.T) {
	env := newTestEnv(t)

	w := env.doJSON(t, http.MethodPost, "/topics", models.CreateTopicRequest{UserID: "u1"})
	expectDetail(t, w, http.StatusBadRequest, "user_id and name are required")

	desc := "Cells and genetics"
	w = env.doJSON(t, http.MethodPost, "/topics", models.CreateTopicRequest{UserID: "u1", Name: "Biology", Description: &desc})
	if w.Code != http.StatusOK {
		t.Fatalf("create: %d", w.Code)
	}
	bio := decode[models.Topic](t, w)
	if bio.ID == "" || bio.Description != desc || bio.CreatedAt == "" {
		t.Errorf("topic = %+v", bio)
	}
	env.createTopic(t, "u2", "Someone else's")

	list := decode[models.TopicList](t, env.do(t, http.MethodGet, "/topics/u1", nil, ""))
	if list.Count != 1 || list.Topics[0].ID != bio.ID {
		t.Errorf("list = %+v", list)
	}

	up := env.upload(t, "u1", bio.ID, "notes.txt", "the nucleus stores DNA")
	w = env.do(t, http.MethodDelete, "/topics/"+bio.ID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	del := decode[models.DeleteTopicResponse](t, w)
	if del.Status != "deleted" || del.TopicID != bio.ID || del.DocumentsDeleted != 1 {
		t.Errorf("delete = %+v", del)
	}
	if _, err := os.Stat(filepath.Dir(up.FilePath)); !os.IsNotExist(err) {
		t.Errorf("upload directory survived topic delete: %v", err)
	}

	w = env.do(t, http.MethodDelete, "/topics/"+bio.ID, nil, "")
	expectDetail(t, w, http.StatusNotFound, "Topic not found")
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t)
	topic := env.createTopic(t, "u1", "Physics")

	body, ct := multipartFile(t, "file", "a.txt", "x")
	w := env.do(t, http.MethodPost, "/upload?user_id=u1", body, ct)
	expectDetail(t, w, http.StatusBadRequest, "user_id and topic_id are required")

	body, ct = multipartFile(t, "file", "a.txt", "x")
	w = env.do(t, http.MethodPost, "/upload?user_id=u1&topic_id=missing", body, ct)
	expectDetail(t, w, http.StatusNotFound, "Topic not found")

	body, ct = multipartFile(t, "attachment", "a.txt", "x")
	w = env.do(t, http.MethodPost, "/upload?user_id=u1&topic_id="+topic.ID, body, ct)
	expectDetail(t, w, http.StatusBadRequest, "No file provided")

	w = env.do(t, http.MethodPost, "/upload?user_id=u1&topic_id="+topic.ID, strings.NewReader("{}"), "application/json")
	expectDetail(t, w, http.StatusBadRequest, "expected a multipart/form-data body")
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	topic := env.createTopic(t, "u1", "Biology")

	up := env.upload(t, "u1", topic.ID, "cells.txt",
		"Mitochondria produce ATP through cellular respiration. Ribosomes translate messenger RNA into proteins.")
	if up.DocumentID == "" || up.FileName != "cells.txt" || up.TopicID != topic.ID || up.UserID != "u1" {
		t.Errorf("upload = %+v", up)
	}
	if !strings.HasPrefix(up.FilePath, env.cfg.UploadDir) {
		t.Errorf("file saved outside upload dir: %s", up.FilePath)
	}
	if b, err := os.ReadFile(up.FilePath); err != nil || !strings.HasPrefix(string(b), "Mitochondria") {
		t.Errorf("saved file = %q, %v", b, err)
	}

	st := decode[models.DocumentStatusResponse](t, env.do(t, http.MethodGet, "/documents/"+up.DocumentID+"/status", nil, ""))
	if st.Status != models.StatusPending || st.ProgressPercent != 0 {
		t.Errorf("before ingest = %+v", st)
	}

	w := env.doJSON(t, http.MethodPost, "/ingest", models.IngestRequest{DocumentIDs: []string{up.DocumentID}})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", w.Code, w.Body.String())
	}
	if ing := decode[models.IngestResponse](t, w); ing.Status != "queued" || ing.QueuedCount != 1 {
		t.Errorf("ingest = %+v", ing)
	}

	st = env.waitStatus(t, up.DocumentID)
	if st.Status != models.StatusDone || st.ProgressPercent != 100 || st.ChunkCount != 2 || st.FileName != "cells.txt" {
		t.Errorf("final status = %+v", st)
	}

	docs := decode[models.DocumentList](t, env.do(t, http.MethodGet, "/documents/"+topic.ID, nil, ""))
	if docs.Count != 1 || docs.Documents[0].ID != up.DocumentID || docs.Documents[0].Status != models.StatusDone {
		t.Errorf("documents = %+v", docs)
	}

	res := decode[models.SearchResponse](t, env.do(t, http.MethodGet, "/topics/"+topic.ID+"/search?q=proteins&limit=5", nil, ""))
	if res.Query != "proteins" || res.Count != 1 || res.Hits[0].DocumentID != up.DocumentID || res.Hits[0].ChunkIndex != 1 {
		t.Errorf("search = %+v", res)
	}

	w = env.do(t, http.MethodDelete, "/documents/"+up.DocumentID, nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/documents/"+up.DocumentID+"/status", nil, "")
	expectDetail(t, w, http.StatusNotFound, "Document not found")
	res = decode[models.SearchResponse](t, env.do(t, http.MethodGet, "/topics/"+topic.ID+"/search?q=proteins", nil, ""))
	if res.Count != 0 {
		t.Errorf("search after delete = %+v", res)
	}
	if _, err := os.Stat(up.FilePath); !os.IsNotExist(err) {
		t.Errorf("uploaded file survived delete: %v", err)
	}
	w = env.do(t, http.MethodDelete, "/documents/"+up.DocumentID, nil, "")
	expectDetail(t, w, http.StatusNotFound, "Document not found")
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t)

	w := env.doJSON(t, http.MethodPost, "/ingest", models.IngestRequest{})
	expectDetail(t, w, http.StatusBadRequest, "document_ids must not be empty")

	w = env.doJSON(t, http.MethodPost, "/ingest", models.IngestRequest{DocumentIDs: []string{"ghost"}})
	expectDetail(t, w, http.StatusNotFound, "Document not found")

	w = env.do(t, http.MethodPost, "/ingest", strings.NewReader("not json"), "application/json")
	expectDetail(t, w, http.StatusBadRequest, "invalid request body")
}

func TestIngest_FailedExtractionReportsDetails(t *testing.T) {
	env := newTestEnv(t)
	topic := env.createTopic(t, "u1", "Chemistry")
	up := env.upload(t, "u1", topic.ID, "blank.md", "   ")

	env.doJSON(t, http.MethodPost, "/ingest", models.IngestRequest{DocumentIDs: []string{up.DocumentID}})
	st := env.waitStatus(t, up.DocumentID)
	if st.Status != models.StatusFailed || st.StageDetails != "no text content found in document" {
		t.Errorf("status = %+v", st)
	}
}

func TestSearch_Validation(t *testing.T) {
	env := newTestEnv(t)
	topic := env.createTopic(t, "u1", "History")

	w := env.do(t, http.MethodGet, "/topics/"+topic.ID+"/search", nil, "")
	expectDetail(t, w, http.StatusBadRequest, "query parameter q is required")
	w = env.do(t, http.MethodGet, "/topics/"+topic.ID+"/search?q=x&limit=0", nil, "")
	expectDetail(t, w, http.StatusBadRequest, "limit must be a positive integer")
	w = env.do(t, http.MethodGet, "/topics/missing/search?q=x", nil, "")
	expectDetail(t, w, http.StatusNotFound, "Topic not found")
	w = env.do(t, http.MethodGet, "/documents/missing", nil, "")
	expectDetail(t, w, http.StatusNotFound, "Topic not found")
}

func TestHandleStats(t *testing.T) {
	env := newTestEnv(t)
	topic := env.createTopic(t, "u1", "Art")
	env.upload(t, "u1", topic.ID, "a.txt", "impressionism")

	w := env.do(t, http.MethodGet, "/stats", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	out := decode[models.StatsResponse](t, w)
	if out.Documents != 1 || out.Chunks != 0 || out.DiskUsageBytes == nil || *out.DiskUsageBytes <= 0 {
		t.Errorf("stats = %+v", out)
	}
	if out.Config == nil || out.Config.ChunkSize != 8 || out.Config.MaxUploadBytes != 100<<20 {
		t.Errorf("config = %+v", out.Config)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxUploadSize = "1KB"
	topic := env.createTopic(t, "u1", "Art")

	body, ct := multipartFile(t, "file", "big.txt", strings.Repeat("x", 4096))
	w := env.do(t, http.MethodPost, "/upload?user_id=u1&topic_id="+topic.ID, body, ct)
	expectDetail(t, w, http.StatusRequestEntityTooLarge, "file too large")

	docs := decode[models.DocumentList](t, env.do(t, http.MethodGet, "/documents/"+topic.ID, nil, ""))
	if docs.Count != 0 {
		t.Errorf("oversized upload left a document: %+v", docs)
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	if err := env.srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop = %v", err)
	}
}
