// Package autosync uploads files from watched directories into a topic and deletes the
// backend document when the local file goes away.
package autosync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/intellilearn/internal/fileid"
	"github.com/hyperjump/intellilearn/internal/kvstore"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/upload"
	"go.uber.org/zap"
)

// Client is the backend API used by a Syncer. *ragapi.Client implements it.
type Client interface {
	upload.Client
	DeleteDocument(ctx context.Context, documentID string) error
}

// record is the stored mapping of a local file to its backend document.
type record struct {
	Path       string    `json:"path"`
	DocumentID string    `json:"document_id"`
	Hash       string    `json:"hash"`
	SyncedAt   time.Time `json:"synced_at"`
}

// Result reports the outcome of one file upload.
type Result struct {
	Path   string
	Status *models.DocumentStatusResponse
	Err    error
}

// Syncer implements watcher.Handler. Each changed file gets its own upload.Coordinator;
// at most Concurrency uploads run at once.
type Syncer struct {
	client       Client
	store        kvstore.Store
	userID       string
	topicID      string
	pollInterval time.Duration
	logger       *zap.Logger
	onResult     func(Result)

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	// mu orders record reads and writes with active so a superseded upload either
	// lands in the record the next upload replaces or deletes its own document.
	mu     sync.Mutex
	active map[string]*activeSync
}

// activeSync is the in-flight upload of one path.
type activeSync struct {
	coord *upload.Coordinator
	hash  string
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval sets the status poll interval used for each upload.
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) { s.pollInterval = d }
}

// WithConcurrency bounds the number of simultaneous uploads.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithOnResult registers a callback for finished uploads.
func WithOnResult(fn func(Result)) Option {
	return func(s *Syncer) { s.onResult = fn }
}

// New creates a Syncer. Close must be called to stop in-flight uploads.
func New(client Client, store kvstore.Store, userID, topicID string, opts ...Option) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		client:  client,
		store:   store,
		userID:  userID,
		topicID: topicID,
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, 2),
		active:  make(map[string]*activeSync),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileChanged uploads path unless its content matches the last synced version.
// A newer change to the same path supersedes an upload that is still polling.
func (s *Syncer) FileChanged(path string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.syncFile(path)
	}()
}

// FileRemoved deletes the backend document of path, if one was recorded.
func (s *Syncer) FileRemoved(path string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.removeFile(path)
	}()
}

// Wait blocks until every started sync has finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// Close stops polling for all active uploads and waits for them to return.
// Uploads that already have a document id still get their ingestion requested.
func (s *Syncer) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Syncer) syncFile(path string) {
	log := s.logger.With(zap.String("path", path))
	hash, err := fileid.ContentHash(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("cannot read file", zap.Error(err))
		}
		return
	}
	key := fileid.FileDocID(path)

	coord := upload.New(s.client, s.userID, s.topicID,
		upload.WithPollInterval(s.pollInterval),
		upload.WithLogger(s.logger),
	)
	s.mu.Lock()
	if cur, ok := s.active[path]; ok && cur.hash == hash {
		s.mu.Unlock()
		log.Debug("same content already uploading")
		return
	}
	prev, err := s.load(key)
	if err != nil {
		log.Warn("cannot read sync record", zap.Error(err))
	}
	if prev != nil && prev.Hash == hash {
		s.mu.Unlock()
		log.Debug("file unchanged since last sync")
		return
	}
	if old, ok := s.active[path]; ok {
		old.coord.Close()
	}
	mine := &activeSync{coord: coord, hash: hash}
	s.active[path] = mine
	s.mu.Unlock()

	st, err := s.upload(path, coord)
	docID := coord.DocumentID()

	s.mu.Lock()
	superseded := s.active[path] != mine
	if !superseded {
		delete(s.active, path)
		if docID != "" {
			// A failed upload keeps the document id but not the hash, so the next
			// event for the same content retries and replaces the document.
			rec := &record{Path: path, DocumentID: docID, SyncedAt: time.Now()}
			if err == nil {
				rec.Hash = hash
			}
			if serr := s.save(key, rec); serr != nil {
				log.Warn("cannot save sync record", zap.Error(serr))
			}
		}
	}
	s.mu.Unlock()

	ctx := context.WithoutCancel(s.ctx)
	switch {
	case superseded && docID != "":
		if derr := s.client.DeleteDocument(ctx, docID); derr != nil {
			log.Warn("cannot delete document of superseded upload", zap.String("document_id", docID), zap.Error(derr))
		}
	case !superseded && docID != "" && prev != nil && prev.DocumentID != "" && prev.DocumentID != docID:
		if derr := s.client.DeleteDocument(ctx, prev.DocumentID); derr != nil {
			log.Warn("cannot delete superseded document", zap.String("document_id", prev.DocumentID), zap.Error(derr))
		}
	}
	if superseded {
		log.Debug("upload superseded by a newer change", zap.String("document_id", docID))
		return
	}
	if err != nil {
		log.Warn("sync failed", zap.Error(err))
	} else {
		log.Info("file synced", zap.String("document_id", st.DocumentID), zap.Int("chunks", st.ChunkCount))
	}
	if s.onResult != nil {
		s.onResult(Result{Path: path, Status: st, Err: err})
	}
}

// upload runs coord for path once a concurrency slot is free.
func (s *Syncer) upload(path string, coord *upload.Coordinator) (*models.DocumentStatusResponse, error) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
	defer func() { <-s.sem }()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return coord.Upload(s.ctx, upload.File{Name: filepath.Base(path), Content: f})
}

func (s *Syncer) removeFile(path string) {
	key := fileid.FileDocID(path)
	s.mu.Lock()
	if cur, ok := s.active[path]; ok {
		cur.coord.Close()
		delete(s.active, path)
	}
	rec, err := s.load(key)
	s.mu.Unlock()
	if err != nil || rec == nil {
		return
	}
	ctx := context.WithoutCancel(s.ctx)
	if err := s.client.DeleteDocument(ctx, rec.DocumentID); err != nil {
		s.logger.Warn("cannot delete document of removed file", zap.String("path", path), zap.String("document_id", rec.DocumentID), zap.Error(err))
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn("cannot delete sync record", zap.String("path", path), zap.Error(err))
		return
	}
	s.logger.Info("removed document of deleted file", zap.String("path", path), zap.String("document_id", rec.DocumentID))
}

func (s *Syncer) load(key string) (*record, error) {
	raw, ok, err := s.store.Get(context.WithoutCancel(s.ctx), key)
	if err != nil || !ok {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode sync record: %w", err)
	}
	return &rec, nil
}

func (s *Syncer) save(key string, rec *record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.store.Set(context.WithoutCancel(s.ctx), key, string(b))
}
