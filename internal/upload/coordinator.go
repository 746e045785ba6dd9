// Package upload drives a single file through upload, ingestion and status polling.
package upload

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hyperjump/intellilearn/internal/apierr"
	"github.com/hyperjump/intellilearn/internal/models"
	"github.com/hyperjump/intellilearn/internal/poller"
	"go.uber.org/zap"
)

var (
	// ErrBusy is returned by Upload while another upload on the same coordinator is active.
	ErrBusy = errors.New("an upload is already in progress")
	// ErrClosed is returned by Upload after Close.
	ErrClosed = errors.New("upload coordinator closed")
)

// Client is the subset of the backend API used by a Coordinator. *ragapi.Client implements it.
type Client interface {
	UploadDocument(ctx context.Context, userID, topicID, fileName string, content io.Reader) (*models.UploadResponse, error)
	IngestDocuments(ctx context.Context, documentIDs []string) (*models.IngestResponse, error)
	poller.StatusGetter
}

// File is a named stream to upload.
type File struct {
	Name    string
	Content io.Reader
}

// Coordinator owns one upload session at a time. It is safe for concurrent use.
type Coordinator struct {
	client       Client
	userID       string
	topicID      string
	pollInterval time.Duration
	logger       *zap.Logger
	onComplete   func(*models.DocumentStatusResponse)
	onChange     func(State)

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
	closed bool
	// docID is the id assigned by the latest upload. Unlike state it is
	// still set when the session was cancelled or closed.
	docID string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pollInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnComplete registers a callback invoked once per upload that reaches done.
func WithOnComplete(fn func(*models.DocumentStatusResponse)) Option {
	return func(c *Coordinator) { c.onComplete = fn }
}

// WithOnChange registers a callback that receives a snapshot after every state change.
// It is called without internal locks held.
func WithOnChange(fn func(State)) Option {
	return func(c *Coordinator) { c.onChange = fn }
}

// New creates a coordinator bound to a user and topic.
func New(client Client, userID, topicID string, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:       client,
		userID:       userID,
		topicID:      topicID,
		pollInterval: poller.DefaultInterval,
		logger:       zap.NewNop(),
		state:        State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the observable state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DocumentID returns the id the backend assigned to the most recent upload, or "" if
// that upload never got one. It is kept after Cancel and Close, so a caller can still
// clean up a document whose session was abandoned.
func (c *Coordinator) DocumentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docID
}

// Upload sends f to the backend, requests its ingestion and polls until the document is
// done or failed. It blocks until then, until ctx is cancelled, or until Cancel or Close.
//
// Once the backend has assigned a document id, ingestion is requested even if ctx is
// cancelled in the meantime; only local state updates are skipped.
func (c *Coordinator) Upload(ctx context.Context, f File) (*models.DocumentStatusResponse, error) {
	if c.userID == "" || c.topicID == "" {
		err := &apierr.ConfigurationError{Message: "user ID and topic ID are required"}
		c.mu.Lock()
		if c.closed || c.state.Active() {
			c.mu.Unlock()
			return nil, err
		}
		c.state.Err = err
		c.state.Phase = PhaseFailed
		snap := c.state
		c.mu.Unlock()
		c.notify(snap)
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state.Active() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = State{Phase: PhaseUploading, Uploading: true}
	c.docID = ""
	snap := c.state
	c.mu.Unlock()
	c.notify(snap)
	defer cancel()

	log := c.logger.With(zap.String("file", f.Name), zap.String("topic_id", c.topicID))

	// Upload and ingest outlive runCtx so a document never stays un-ingested.
	detached := context.WithoutCancel(runCtx)

	log.Debug("uploading")
	res, err := c.client.UploadDocument(detached, c.userID, c.topicID, f.Name, f.Content)
	if err == nil && res.DocumentID == "" {
		err = &apierr.ProtocolError{Op: "Upload", Err: errors.New("upload succeeded but no document_id was returned")}
	}
	if err != nil {
		log.Warn("upload failed", zap.Error(err))
		return nil, c.fail(gen, err)
	}
	docID := res.DocumentID
	c.mu.Lock()
	c.docID = docID
	c.mu.Unlock()
	log = log.With(zap.String("document_id", docID))
	c.update(gen, func(s *State) { s.DocumentID = docID })

	log.Debug("requesting ingestion")
	if _, err := c.client.IngestDocuments(detached, []string{docID}); err != nil {
		log.Warn("ingestion request failed", zap.Error(err))
		return nil, c.fail(gen, err)
	}

	if !c.update(gen, func(s *State) {
		s.Phase = PhaseProcessing
		s.Uploading = false
		s.Processing = true
	}) || runCtx.Err() != nil {
		log.Debug("session abandoned after ingestion was requested")
		return nil, c.abandon(gen, runCtx)
	}

	log.Info("ingestion requested, polling status")
	p := poller.New(c.client, poller.WithInterval(c.pollInterval), poller.WithLogger(c.logger))
	final, err := p.Run(runCtx, docID, func(st *models.DocumentStatusResponse) {
		c.update(gen, func(s *State) { s.Progress = st })
	})
	if err != nil {
		if runCtx.Err() != nil {
			return nil, c.abandon(gen, runCtx)
		}
		log.Warn("processing did not complete", zap.Error(err))
		return final, c.fail(gen, err)
	}

	if !c.update(gen, func(s *State) {
		s.Phase = PhaseDone
		s.Processing = false
		s.Progress = final
	}) {
		return nil, context.Canceled
	}
	log.Info("document ready", zap.Int("chunks", final.ChunkCount))
	if c.onComplete != nil {
		c.onComplete(final)
	}
	return final, nil
}

// Cancel stops polling and resets the observable state to idle. Requests already
// sent are not aborted and their results are discarded. The last error is kept.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	c.state = State{Phase: PhaseIdle, Err: c.state.Err}
	snap := c.state
	c.mu.Unlock()
	c.notify(snap)
}

// ClearError removes the recorded error.
func (c *Coordinator) ClearError() {
	c.mu.Lock()
	if c.closed || c.state.Err == nil {
		c.mu.Unlock()
		return
	}
	c.state.Err = nil
	if c.state.Phase == PhaseFailed {
		c.state.Phase = PhaseIdle
	}
	snap := c.state
	c.mu.Unlock()
	c.notify(snap)
}

// Close cancels any active session and makes the coordinator inert: later results are
// never applied and Upload returns ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopLocked()
	c.closed = true
}

func (c *Coordinator) stopLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// update applies fn if gen is still the current session and reports whether it did.
func (c *Coordinator) update(gen uint64, fn func(*State)) bool {
	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return false
	}
	fn(&c.state)
	snap := c.state
	c.mu.Unlock()
	c.notify(snap)
	return true
}

func (c *Coordinator) fail(gen uint64, err error) error {
	c.update(gen, func(s *State) {
		s.Phase = PhaseFailed
		s.Uploading = false
		s.Processing = false
		s.Err = err
	})
	return err
}

// abandon resets a session whose context ended without Cancel being called.
func (c *Coordinator) abandon(gen uint64, ctx context.Context) error {
	c.update(gen, func(s *State) {
		*s = State{Phase: PhaseIdle, DocumentID: s.DocumentID}
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	return context.Canceled
}

func (c *Coordinator) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
