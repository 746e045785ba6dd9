package autosync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/intellilearn/internal/apierr"
	"github.com/hyperjump/intellilearn/internal/fileid"
	"github.com/hyperjump/intellilearn/internal/kvstore"
	"github.com/hyperjump/intellilearn/internal/models"
	"go.uber.org/zap/zaptest"
)

type fakeBackend struct {
	mu       sync.Mutex
	next     int
	uploads  []string
	ingested []string
	deleted  []string
	// ingestErrs are returned by successive IngestDocuments calls, nil meaning success.
	ingestErrs []error
	// stuck documents report processing forever.
	stuck map[string]bool
}

func (b *fakeBackend) UploadDocument(ctx context.Context, userID, topicID, fileName string, content io.Reader) (*models.UploadResponse, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.uploads = append(b.uploads, fileName+":"+string(data))
	return &models.UploadResponse{DocumentID: fmt.Sprintf("d%d", b.next), FileName: fileName}, nil
}

func (b *fakeBackend) IngestDocuments(ctx context.Context, ids []string) (*models.IngestResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ingestErrs) > 0 {
		err := b.ingestErrs[0]
		b.ingestErrs = b.ingestErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	b.ingested = append(b.ingested, ids...)
	return &models.IngestResponse{Status: "queued", QueuedCount: len(ids)}, nil
}

func (b *fakeBackend) GetDocumentStatus(ctx context.Context, id string) (*models.DocumentStatusResponse, error) {
	b.mu.Lock()
	stuck := b.stuck[id]
	b.mu.Unlock()
	if stuck {
		return &models.DocumentStatusResponse{DocumentID: id, Status: models.StatusProcessing, ProgressPercent: 50}, nil
	}
	return &models.DocumentStatusResponse{DocumentID: id, Status: models.StatusDone, ProgressPercent: 100, ChunkCount: 1}, nil
}

func (b *fakeBackend) DeleteDocument(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) counts() (uploads, deleted int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads), len(b.deleted)
}

func TestSyncer_UploadSkipReplaceRemove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{}
	store := kvstore.NewMemoryStore()
	var results []Result
	var mu sync.Mutex
	s := New(backend, store, "u1", "t1",
		WithLogger(zaptest.NewLogger(t)),
		WithPollInterval(time.Millisecond),
		WithConcurrency(1),
		WithOnResult(func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}),
	)
	defer s.Close()

	s.FileChanged(path)
	s.Wait()
	if u, _ := backend.counts(); u != 1 {
		t.Fatalf("uploads = %d, want 1", u)
	}
	if len(backend.ingested) != 1 || backend.ingested[0] != "d1" {
		t.Errorf("ingested = %v", backend.ingested)
	}
	key := fileid.FileDocID(path)
	if raw, ok, _ := store.Get(ctx, key); !ok || raw == "" {
		t.Fatal("sync record not stored")
	}
	mu.Lock()
	if len(results) != 1 || results[0].Err != nil || results[0].Status.DocumentID != "d1" {
		t.Errorf("results = %+v", results)
	}
	mu.Unlock()

	// Unchanged content is not uploaded again.
	s.FileChanged(path)
	s.Wait()
	if u, _ := backend.counts(); u != 1 {
		t.Errorf("unchanged file re-uploaded: uploads = %d", u)
	}

	// New content replaces the old backend document.
	if err := os.WriteFile(path, []byte("v2"), 0600); err != nil {
		t.Fatal(err)
	}
	s.FileChanged(path)
	s.Wait()
	u, d := backend.counts()
	if u != 2 || d != 1 || backend.deleted[0] != "d1" {
		t.Errorf("after change: uploads=%d deleted=%v", u, backend.deleted)
	}

	s.FileRemoved(path)
	s.Wait()
	if _, d := backend.counts(); d != 2 || backend.deleted[1] != "d2" {
		t.Errorf("after remove: deleted=%v", backend.deleted)
	}
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Error("sync record should be removed with the file")
	}
}

func TestSyncer_RemoveUnknownFileIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, kvstore.NewMemoryStore(), "u1", "t1")
	defer s.Close()
	s.FileRemoved(filepath.Join(t.TempDir(), "never-synced.txt"))
	s.Wait()
	if _, d := backend.counts(); d != 0 {
		t.Errorf("deleted = %d, want 0", d)
	}
}

func TestSyncer_MissingFileIgnored(t *testing.T) {
	backend := &fakeBackend{}
	s := New(backend, kvstore.NewMemoryStore(), "u1", "t1")
	defer s.Close()
	s.FileChanged(filepath.Join(t.TempDir(), "vanished.txt"))
	s.Wait()
	if u, _ := backend.counts(); u != 0 {
		t.Errorf("uploads = %d, want 0", u)
	}
}

func (b *fakeBackend) snapshot() (uploads, ingested, deleted []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.uploads...), append([]string(nil), b.ingested...), append([]string(nil), b.deleted...)
}

func loadRecord(t *testing.T, store kvstore.Store, path string) *record {
	t.Helper()
	raw, ok, err := store.Get(context.Background(), fileid.FileDocID(path))
	if err != nil || !ok {
		t.Fatalf("no sync record for %s (err %v)", path, err)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatal(err)
	}
	return &rec
}

func TestSyncer_NewerChangeDeletesSupersededDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{stuck: map[string]bool{"d1": true}}
	store := kvstore.NewMemoryStore()
	var results []Result
	var mu sync.Mutex
	s := New(backend, store, "u1", "t1",
		WithLogger(zaptest.NewLogger(t)),
		WithPollInterval(time.Millisecond),
		WithOnResult(func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		}),
	)
	defer s.Close()

	s.FileChanged(path)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ingested, _ := backend.snapshot(); len(ingested) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first upload was never ingested")
		}
		time.Sleep(time.Millisecond)
	}

	if err := os.WriteFile(path, []byte("v2"), 0600); err != nil {
		t.Fatal(err)
	}
	s.FileChanged(path)
	s.Wait()

	uploads, ingested, deleted := backend.snapshot()
	if len(uploads) != 2 || len(ingested) != 2 {
		t.Errorf("uploads=%v ingested=%v", uploads, ingested)
	}
	if len(deleted) != 1 || deleted[0] != "d1" {
		t.Errorf("deleted = %v, want [d1]", deleted)
	}
	hash, err := fileid.ContentHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec := loadRecord(t, store, path); rec.DocumentID != "d2" || rec.Hash != hash {
		t.Errorf("record = %+v", rec)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 || results[0].Err != nil || results[0].Status.DocumentID != "d2" {
		t.Errorf("results = %+v", results)
	}
}

func TestSyncer_FailedIngestIsRetriedOnNextEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{ingestErrs: []error{
		&apierr.TransportError{Op: "IngestDocuments", StatusCode: 503, Message: "IngestDocuments failed: 503"},
	}}
	store := kvstore.NewMemoryStore()
	s := New(backend, store, "u1", "t1",
		WithLogger(zaptest.NewLogger(t)),
		WithPollInterval(time.Millisecond),
	)
	defer s.Close()

	s.FileChanged(path)
	s.Wait()
	if rec := loadRecord(t, store, path); rec.DocumentID != "d1" || rec.Hash != "" {
		t.Errorf("record after failed ingest = %+v", rec)
	}

	// Same content: the failed document is replaced, not skipped.
	s.FileChanged(path)
	s.Wait()
	uploads, ingested, deleted := backend.snapshot()
	if len(uploads) != 2 {
		t.Errorf("uploads = %v, want a retry", uploads)
	}
	if len(ingested) != 1 || ingested[0] != "d2" {
		t.Errorf("ingested = %v, want [d2]", ingested)
	}
	if len(deleted) != 1 || deleted[0] != "d1" {
		t.Errorf("deleted = %v, want [d1]", deleted)
	}
	hash, err := fileid.ContentHash(path)
	if err != nil {
		t.Fatal(err)
	}
	if rec := loadRecord(t, store, path); rec.DocumentID != "d2" || rec.Hash != hash {
		t.Errorf("record = %+v", rec)
	}

	s.FileChanged(path)
	s.Wait()
	if uploads, _, _ := backend.snapshot(); len(uploads) != 2 {
		t.Errorf("synced content uploaded again: %v", uploads)
	}
}
