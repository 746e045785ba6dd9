// Package chathistory persists chat conversations as a single JSON value in a kvstore.Store.
package chathistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/intellilearn/internal/kvstore"
	"github.com/hyperjump/intellilearn/internal/models"
	"go.uber.org/zap"
)

const (
	// DefaultKey is the store key holding the history.
	DefaultKey = "intellilearn_chat_history"
	// DefaultTitle is used when a conversation is created without a title.
	DefaultTitle = "New Conversation"
)

// ErrNotFound is returned for operations on an unknown conversation id.
var ErrNotFound = errors.New("conversation not found")

// History is the ordered list of conversations, newest first.
// It is read once in Load and written back after every change.
type History struct {
	store  kvstore.Store
	key    string
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	convs []*models.Conversation
}

// Option configures a History.
type Option func(*History)

// WithKey overrides the store key.
func WithKey(key string) Option {
	return func(h *History) {
		if key != "" {
			h.key = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// Load reads the history from store. A missing, unreadable or corrupt value yields an
// empty history.
func Load(ctx context.Context, store kvstore.Store, opts ...Option) *History {
	h := &History{store: store, key: DefaultKey, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	raw, ok, err := store.Get(ctx, h.key)
	if err != nil {
		h.logger.Warn("failed to read chat history, starting empty", zap.Error(err))
		return h
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return h
	}
	var convs []*models.Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		h.logger.Warn("corrupt chat history, starting empty", zap.Error(err))
		return h
	}
	for _, c := range convs {
		if c != nil {
			h.convs = append(h.convs, c)
		}
	}
	return h
}

// Conversations returns a copy of all conversations, newest first.
func (h *History) Conversations() []*models.Conversation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*models.Conversation, len(h.convs))
	for i, c := range h.convs {
		out[i] = clone(c)
	}
	return out
}

// Get returns a copy of the conversation with id.
func (h *History) Get(id string) (*models.Conversation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.index(id); i >= 0 {
		return clone(h.convs[i]), true
	}
	return nil, false
}

// CreateConversation prepends a new empty conversation.
func (h *History) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	c := &models.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []*models.Message{},
		UpdatedAt: h.now(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.convs = append([]*models.Conversation{c}, h.convs...)
	return clone(c), h.save(ctx)
}

// AppendMessage adds a message to the end of a conversation.
func (h *History) AppendMessage(ctx context.Context, id string, role models.Role, text string) (*models.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.index(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m := &models.Message{Role: role, Text: text, Time: h.now()}
	h.convs[i].Messages = append(h.convs[i].Messages, m)
	h.convs[i].UpdatedAt = m.Time
	cp := *m
	return &cp, h.save(ctx)
}

// UpdateTitle renames a conversation.
func (h *History) UpdateTitle(ctx context.Context, id, title string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	h.convs[i].Title = title
	return h.save(ctx)
}

// DeleteConversation removes a conversation. Deleting an unknown id is a no-op.
func (h *History) DeleteConversation(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.index(id)
	if i < 0 {
		return nil
	}
	h.convs = append(h.convs[:i], h.convs[i+1:]...)
	return h.save(ctx)
}

// ClearAll removes every conversation.
func (h *History) ClearAll(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.convs = nil
	return h.save(ctx)
}

func (h *History) index(id string) int {
	for i, c := range h.convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// save writes the whole history. Callers hold h.mu.
func (h *History) save(ctx context.Context) error {
	convs := h.convs
	if convs == nil {
		convs = []*models.Conversation{}
	}
	b, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("failed to encode chat history: %w", err)
	}
	if err := h.store.Set(ctx, h.key, string(b)); err != nil {
		return fmt.Errorf("failed to save chat history: %w", err)
	}
	return nil
}

func clone(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Messages = make([]*models.Message, len(c.Messages))
	for i, m := range c.Messages {
		mc := *m
		cp.Messages[i] = &mc
	}
	return &cp
}
