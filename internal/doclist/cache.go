// Package doclist caches a topic's document list and keeps optimistic placeholder
// entries for uploads that have not been confirmed by the backend yet.
package doclist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/intellilearn/internal/models"
	"go.uber.org/zap"
)

// PlaceholderPrefix marks locally generated document ids.
const PlaceholderPrefix = "tmp-"

// Lister fetches the documents of a topic. *ragapi.Client implements it.
type Lister interface {
	ListDocuments(ctx context.Context, topicID string) (*models.DocumentList, error)
}

type placeholder struct {
	doc models.Document
	seq uint64
}

// refresh is one fetch shared by every caller waiting on it.
type refresh struct {
	done chan struct{}
	err  error
}

// Cache holds the last fetched document list of one topic.
//
// Refreshes never overlap: a Refresh that arrives while another is in flight waits
// for a single follow-up fetch, shared with every other caller that arrived in the
// meantime. Results are therefore applied in request order and an older list never
// replaces a newer one.
type Cache struct {
	client    Lister
	topicID   string
	logger    *zap.Logger
	onRefresh func(error)

	mu           sync.Mutex
	docs         []models.Document
	placeholders []placeholder
	seq          uint64
	refreshedAt  time.Time
	lastErr      error
	inflight     *refresh
	next         *refresh
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnRefresh registers a callback invoked after every fetch with its error, nil on
// success. It is called without internal locks held.
func WithOnRefresh(fn func(error)) Option {
	return func(c *Cache) { c.onRefresh = fn }
}

// New creates an empty cache for topicID.
func New(client Lister, topicID string, opts ...Option) *Cache {
	c := &Cache{client: client, topicID: topicID, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh re-fetches the document list. It returns the error of the fetch it waited
// on, or ctx.Err() if ctx ends first; the fetch itself continues for other waiters.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	var r *refresh
	switch {
	case c.inflight == nil:
		r = &refresh{done: make(chan struct{})}
		c.inflight = r
		go c.loop(context.WithoutCancel(ctx), r)
	case c.next == nil:
		r = &refresh{done: make(chan struct{})}
		c.next = r
	default:
		r = c.next
	}
	c.mu.Unlock()

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs r, then any follow-up queued while it was in flight.
func (c *Cache) loop(ctx context.Context, r *refresh) {
	for r != nil {
		c.mu.Lock()
		startSeq := c.seq
		c.mu.Unlock()

		list, err := c.client.ListDocuments(ctx, c.topicID)

		c.mu.Lock()
		if err == nil {
			c.apply(list, startSeq)
		} else {
			c.logger.Warn("document list refresh failed", zap.String("topic_id", c.topicID), zap.Error(err))
		}
		c.lastErr = err
		r.err = err
		close(r.done)
		r = c.next
		c.next = nil
		c.inflight = r
		c.mu.Unlock()
		if c.onRefresh != nil {
			c.onRefresh(err)
		}
	}
}

// apply stores list and drops placeholders created before the fetch started.
func (c *Cache) apply(list *models.DocumentList, startSeq uint64) {
	docs := make([]models.Document, 0, len(list.Documents))
	for _, d := range list.Documents {
		docs = append(docs, *d)
	}
	c.docs = docs
	c.refreshedAt = time.Now()

	kept := c.placeholders[:0]
	for _, p := range c.placeholders {
		if p.seq > startSeq {
			kept = append(kept, p)
		}
	}
	c.placeholders = kept
	c.logger.Debug("document list refreshed", zap.String("topic_id", c.topicID), zap.Int("count", len(docs)))
}

// AddPlaceholder inserts a local entry for a file being uploaded and returns its temporary id.
func (c *Cache) AddPlaceholder(fileName string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := PlaceholderPrefix + uuid.NewString()
	c.placeholders = append(c.placeholders, placeholder{
		seq: c.seq,
		doc: models.Document{
			ID:          id,
			TopicID:     c.topicID,
			FileName:    fileName,
			Status:      models.StatusUploading,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
			Placeholder: true,
		},
	})
	return id
}

// RemovePlaceholder drops a placeholder, typically after its upload failed.
func (c *Cache) RemovePlaceholder(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.placeholders {
		if p.doc.ID == id {
			c.placeholders = append(c.placeholders[:i], c.placeholders[i+1:]...)
			return
		}
	}
}

// Documents returns placeholders, newest first, followed by the fetched list.
func (c *Cache) Documents() []models.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Document, 0, len(c.placeholders)+len(c.docs))
	for i := len(c.placeholders) - 1; i >= 0; i-- {
		out = append(out, c.placeholders[i].doc)
	}
	return append(out, c.docs...)
}

// RefreshedAt returns the time of the last successful refresh.
func (c *Cache) RefreshedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshedAt
}

// Err returns the error of the last refresh, nil if it succeeded.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run refreshes immediately and then every interval until ctx is cancelled. Failures
// are logged and retried on the next tick.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("refresh interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
