package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/intellilearn/internal/extract"
	"github.com/hyperjump/intellilearn/internal/keyword"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/storage"
	"go.uber.org/zap/zaptest"
)

// recordingStore captures every progress update on top of a real SQLite store.
type recordingStore struct {
	*storage.SQLiteStorage
	mu      sync.Mutex
	updates []storage.Progress
}

func (r *recordingStore) UpdateProgress(ctx context.Context, id string, p storage.Progress) error {
	r.mu.Lock()
	r.updates = append(r.updates, p)
	r.mu.Unlock()
	return r.SQLiteStorage.UpdateProgress(ctx, id, p)
}

func (r *recordingStore) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Stage
	}
	return out
}

type fixture struct {
	dir   string
	store *recordingStore
	index *keyword.BleveIndex
	in    *Ingestor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, "dev.db"))
	if err != nil {
		t.Fatal(err)
	}
	idx, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	store := &recordingStore{SQLiteStorage: db}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithChunking(4, 1)}, opts...)
	in := NewIngestor(store, idx, extract.NewExtractor(), opts...)
	in.Start()
	t.Cleanup(func() {
		in.Stop()
		_ = idx.Close()
		_ = db.Close()
	})
	if err := db.CreateTopic(context.Background(), &models.Topic{ID: "t1", UserID: "u1", Name: "Biology"}); err != nil {
		t.Fatal(err)
	}
	return &fixture{dir: dir, store: store, index: idx, in: in}
}

// addDocument writes body to disk and registers a pending document for it.
func (f *fixture) addDocument(t *testing.T, id, name string, body []byte) {
	t.Helper()
	path := filepath.Join(f.dir, "uploads", id, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatal(err)
	}
	err := f.store.CreateDocument(context.Background(), &models.Document{
		ID: id, TopicID: "t1", UserID: "u1", FileName: name, FilePath: path, Status: models.StatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}
}

// enqueueEventually retries until the worker has released id from its previous run.
func (f *fixture) enqueueEventually(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := f.in.Enqueue(context.Background(), []string{id})
		if err != nil {
			t.Fatal(err)
		}
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s was never queued", id)
}

func (f *fixture) waitTerminal(t *testing.T, id string) *models.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := f.store.GetDocument(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if doc.Status.IsTerminal() {
			return doc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s never reached a terminal status", id)
	return nil
}

func TestIngestor_ProcessesThroughStages(t *testing.T) {
	f := newFixture(t, WithStageDelay(time.Millisecond))
	f.addDocument(t, "d1", "cells.txt", []byte("Mitochondria are the powerhouse of the cell and make ATP"))

	n, err := f.in.Enqueue(context.Background(), []string{"d1"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("queued = %d, want 1", n)
	}

	doc := f.waitTerminal(t, "d1")
	if doc.Status != models.StatusDone || doc.ProgressPercent != 100 || doc.ProcessingStage != StageCompleted {
		t.Errorf("doc = %+v", doc)
	}
	if doc.ChunkCount != 3 || doc.StageDetails != "Indexed 3 chunks" {
		t.Errorf("chunk count = %d details = %q", doc.ChunkCount, doc.StageDetails)
	}

	want := []string{StageQueued, StageExtracting, StageChunking, StageIndexing, StageCompleted}
	if got := f.store.stages(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", got, want)
	}
	f.store.mu.Lock()
	for i := 1; i < len(f.store.updates); i++ {
		if f.store.updates[i].Percent <= f.store.updates[i-1].Percent {
			t.Errorf("progress not increasing: %+v", f.store.updates)
		}
	}
	f.store.mu.Unlock()

	hits, err := f.index.Search(context.Background(), "t1", "powerhouse", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].DocumentID != "d1" || hits[0].FileName != "cells.txt" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestIngestor_ExtractionFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "bad", "blob.bin", []byte{0xff, 0xfe, 0x00, 0x81})

	if _, err := f.in.Enqueue(context.Background(), []string{"bad"}); err != nil {
		t.Fatal(err)
	}
	doc := f.waitTerminal(t, "bad")
	if doc.Status != models.StatusFailed || doc.ProcessingStage != StageFailed {
		t.Errorf("doc = %+v", doc)
	}
	if !strings.Contains(doc.StageDetails, "text extraction failed") {
		t.Errorf("details = %q", doc.StageDetails)
	}
}

func TestIngestor_EmptyDocumentFails(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "empty", "empty.txt", []byte(" \n\t "))

	if _, err := f.in.Enqueue(context.Background(), []string{"empty"}); err != nil {
		t.Fatal(err)
	}
	doc := f.waitTerminal(t, "empty")
	if doc.Status != models.StatusFailed || doc.StageDetails != "no text content found in document" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestIngestor_UnknownDocumentQueuesNothing(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "d1", "a.txt", []byte("alpha"))

	n, err := f.in.Enqueue(context.Background(), []string{"d1", "ghost"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if n != 0 {
		t.Errorf("queued = %d", n)
	}
	doc, err := f.store.GetDocument(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.StatusPending {
		t.Errorf("d1 touched: %+v", doc)
	}
}

func TestIngestor_ReingestReplacesChunks(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "d1", "a.txt", []byte("one two three four five six seven"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		f.enqueueEventually(t, "d1")
		f.waitTerminal(t, "d1")
		// Reset so the second run is observable.
		if i == 0 {
			if err := f.store.SQLiteStorage.UpdateProgress(ctx, "d1", storage.Progress{Status: models.StatusPending}); err != nil {
				t.Fatal(err)
			}
		}
	}

	chunks, err := f.store.GetChunksByDocumentID(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	n, err := f.index.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || n != 2 {
		t.Errorf("stored chunks = %d, indexed = %d, want 2 each", len(chunks), n)
	}
}

func TestIngestor_StopRejectsEnqueue(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "d1", "a.txt", []byte("alpha"))
	f.in.Stop()
	f.in.Stop()

	if _, err := f.in.Enqueue(context.Background(), []string{"d1"}); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestIngestor_RemoveChunks(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "d1", "a.txt", []byte("glycolysis happens in the cytoplasm"))
	ctx := context.Background()
	if _, err := f.in.Enqueue(ctx, []string{"d1"}); err != nil {
		t.Fatal(err)
	}
	f.waitTerminal(t, "d1")

	if err := f.in.RemoveChunks(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	hits, err := f.index.Search(ctx, "t1", "glycolysis", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits after removal = %+v", hits)
	}
}
