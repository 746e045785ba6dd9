// Package indexer turns uploaded documents into searchable chunks.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/intellilearn/internal/extract"
	"github.com/hyperjump/intellilearn/internal/keyword"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/storage"
	"go.uber.org/zap"
)

// Processing stages reported through the document status.
const (
	StageQueued     = "queued"
	StageExtracting = "extracting"
	StageChunking   = "chunking"
	StageIndexing   = "indexing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
)

var stagePercent = map[string]int{
	StageQueued:     5,
	StageExtracting: 25,
	StageChunking:   50,
	StageIndexing:   75,
	StageCompleted:  100,
}

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("ingestor stopped")

const (
	defaultChunkSize    = 200
	defaultChunkOverlap = 20
	defaultQueueSize    = 256
)

// Ingestor processes queued documents in the background: extract, chunk, index.
type Ingestor struct {
	store      storage.Storage
	index      keyword.Index
	extractor  *extract.Extractor
	chunker    *Chunker
	stageDelay time.Duration
	workers    int
	logger     *zap.Logger

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	started bool
	stopped bool
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingestor) {
		if l != nil {
			in.logger = l
		}
	}
}

// WithStageDelay pauses before each stage so clients can observe progress.
func WithStageDelay(d time.Duration) Option {
	return func(in *Ingestor) { in.stageDelay = d }
}

// WithChunking sets chunk size and overlap in words.
func WithChunking(size, overlap int) Option {
	return func(in *Ingestor) {
		if size > 0 {
			in.chunker = NewChunker(size, overlap)
		}
	}
}

// WithWorkers sets how many documents are processed concurrently.
func WithWorkers(n int) Option {
	return func(in *Ingestor) {
		if n > 0 {
			in.workers = n
		}
	}
}

// NewIngestor creates an ingestor. Call Start before Enqueue.
func NewIngestor(store storage.Storage, index keyword.Index, extractor *extract.Extractor, opts ...Option) *Ingestor {
	ctx, cancel := context.WithCancel(context.Background())
	in := &Ingestor{
		store:     store,
		index:     index,
		extractor: extractor,
		chunker:   NewChunker(defaultChunkSize, defaultChunkOverlap),
		workers:   1,
		logger:    zap.NewNop(),
		queue:     make(chan string, defaultQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[string]struct{}),
	}
	if in.extractor == nil {
		in.extractor = extract.NewExtractor()
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start launches the worker goroutines. Calling it twice has no effect.
func (in *Ingestor) Start() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started || in.stopped {
		return
	}
	in.started = true
	for i := 0; i < in.workers; i++ {
		in.wg.Add(1)
		go in.work()
	}
}

// Stop cancels in-flight processing and waits for the workers to exit.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if in.stopped {
		in.mu.Unlock()
		return
	}
	in.stopped = true
	in.mu.Unlock()
	in.cancel()
	in.wg.Wait()
}

// Enqueue marks each document as queued and hands it to the workers. Documents already
// waiting or in progress are skipped. It returns how many documents were queued; an
// unknown id fails the call with storage.ErrNotFound before anything is queued.
func (in *Ingestor) Enqueue(ctx context.Context, ids []string) (int, error) {
	for _, id := range ids {
		if _, err := in.store.GetDocument(ctx, id); err != nil {
			return 0, err
		}
	}
	queued := 0
	for _, id := range ids {
		in.mu.Lock()
		if in.stopped {
			in.mu.Unlock()
			return queued, ErrStopped
		}
		if _, dup := in.pending[id]; dup {
			in.mu.Unlock()
			continue
		}
		in.pending[id] = struct{}{}
		in.mu.Unlock()

		if err := in.report(ctx, id, models.StatusProcessing, StageQueued, "Waiting for an ingestion worker", 0); err != nil {
			in.release(id)
			return queued, err
		}
		select {
		case in.queue <- id:
			queued++
		case <-ctx.Done():
			in.release(id)
			return queued, ctx.Err()
		case <-in.ctx.Done():
			in.release(id)
			return queued, ErrStopped
		}
	}
	return queued, nil
}

func (in *Ingestor) release(id string) {
	in.mu.Lock()
	delete(in.pending, id)
	in.mu.Unlock()
}

func (in *Ingestor) work() {
	defer in.wg.Done()
	for {
		select {
		case <-in.ctx.Done():
			return
		case id := <-in.queue:
			in.process(in.ctx, id)
			in.release(id)
		}
	}
}

func (in *Ingestor) report(ctx context.Context, id string, status models.DocumentStatus, stage, details string, chunks int) error {
	return in.store.UpdateProgress(ctx, id, storage.Progress{
		Status:     status,
		Stage:      stage,
		Percent:    stagePercent[stage],
		Details:    details,
		ChunkCount: chunks,
	})
}

// advance waits the stage delay and records the next stage.
func (in *Ingestor) advance(ctx context.Context, id, stage, details string) error {
	if in.stageDelay > 0 {
		t := time.NewTimer(in.stageDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return in.report(ctx, id, models.StatusProcessing, stage, details, 0)
}

func (in *Ingestor) process(ctx context.Context, id string) {
	log := in.logger.With(zap.String("document_id", id))
	n, err := in.ingest(ctx, id)
	switch {
	case err == nil:
		log.Info("document ingested", zap.Int("chunks", n))
	case errors.Is(err, storage.ErrNotFound):
		log.Debug("document removed during ingestion")
	case ctx.Err() != nil:
		log.Debug("ingestion interrupted", zap.Error(err))
	default:
		log.Warn("document ingestion failed", zap.Error(err))
		// The failure must be recorded even when the run context is gone.
		if rerr := in.store.UpdateProgress(context.WithoutCancel(ctx), id, storage.Progress{
			Status:  models.StatusFailed,
			Stage:   StageFailed,
			Percent: 0,
			Details: err.Error(),
		}); rerr != nil && !errors.Is(rerr, storage.ErrNotFound) {
			log.Error("failed to record ingestion failure", zap.Error(rerr))
		}
	}
}

// ingest runs every stage for one document and returns the number of chunks indexed.
func (in *Ingestor) ingest(ctx context.Context, id string) (int, error) {
	doc, err := in.store.GetDocument(ctx, id)
	if err != nil {
		return 0, err
	}

	if err := in.advance(ctx, id, StageExtracting, "Extracting text from "+doc.FileName); err != nil {
		return 0, err
	}
	text, err := in.extractor.Extract(doc.FilePath)
	if err != nil {
		return 0, fmt.Errorf("text extraction failed: %w", err)
	}
	text = Preprocess(text)
	if text == "" {
		return 0, errors.New("no text content found in document")
	}

	if err := in.advance(ctx, id, StageChunking, "Splitting text into chunks"); err != nil {
		return 0, err
	}
	chunks := in.chunker.Chunk(doc, text)

	if err := in.advance(ctx, id, StageIndexing, fmt.Sprintf("Indexing %d chunks", len(chunks))); err != nil {
		return 0, err
	}
	if err := in.replaceChunks(ctx, id, chunks); err != nil {
		return 0, err
	}

	if err := in.report(ctx, id, models.StatusDone, StageCompleted,
		fmt.Sprintf("Indexed %d chunks", len(chunks)), len(chunks)); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// replaceChunks swaps a document's stored and indexed chunks for chunks.
func (in *Ingestor) replaceChunks(ctx context.Context, id string, chunks []*models.DocumentChunk) error {
	if err := in.RemoveChunks(ctx, id); err != nil {
		return err
	}
	if err := in.store.BatchCreateChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := in.index.IndexChunks(ctx, chunks); err != nil {
		return fmt.Errorf("failed to index chunks: %w", err)
	}
	return nil
}

// RemoveChunks drops a document's chunks from the index and from storage.
func (in *Ingestor) RemoveChunks(ctx context.Context, id string) error {
	old, err := in.store.GetChunksByDocumentID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get chunks: %w", err)
	}
	ids := make([]string, len(old))
	for i, c := range old {
		ids[i] = c.ID
	}
	if err := in.index.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := in.store.DeleteChunksByDocumentID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
