// Package ragapi is the HTTP client for the RAG backend: topics, document upload,
// ingestion, listing, status and deletion. It performs no retries and no caching.
package ragapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/intellilearn/internal/apierr"
	"github.com/hyperjump/intellilearn/internal/models"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 1 << 20
)

// Client talks to the backend at a fixed base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the transport timeout applied to every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets a logger for request debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a client for baseURL (e.g. "http://localhost:8000").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type validator interface {
	Validate() error
}

// request is one HTTP exchange. out may be nil when the body is ignored.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	out         validator
}

func (c *Client) do(ctx context.Context, r request) error {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return &apierr.TransportError{Op: r.op, Err: err}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", r.op), zap.String("url", u), zap.Error(err))
		return &apierr.TransportError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()
	c.logger.Debug("request done",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("url", u),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(r.op, resp)
	}
	if r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return &apierr.ProtocolError{Op: r.op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := r.out.Validate(); err != nil {
		return &apierr.ProtocolError{Op: r.op, Err: err}
	}
	return nil
}

// errorFromResponse builds a TransportError, preferring the backend's {"detail": "..."}.
func errorFromResponse(op string, resp *http.Response) error {
	te := &apierr.TransportError{Op: op, StatusCode: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body models.ErrorResponse
	if len(b) > 0 && json.Unmarshal(b, &body) == nil && body.Detail != "" {
		te.Message = body.Detail
	}
	return te
}

func jsonBody(v interface{}) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func segment(s string) string {
	return url.PathEscape(s)
}

// Health checks that the backend is up.
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	err := c.do(ctx, request{op: "Health check", method: http.MethodGet, path: "/health", out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTopic creates a topic for userID. An empty description is sent as null.
func (c *Client) CreateTopic(ctx context.Context, userID, name, description string) (*models.Topic, error) {
	in := models.CreateTopicRequest{UserID: userID, Name: name}
	if description != "" {
		in.Description = &description
	}
	body, err := jsonBody(in)
	if err != nil {
		return nil, err
	}
	var out models.Topic
	err = c.do(ctx, request{
		op:          "Create topic",
		method:      http.MethodPost,
		path:        "/topics",
		body:        body,
		contentType: "application/json",
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTopics lists the topics owned by userID.
func (c *Client) ListTopics(ctx context.Context, userID string) (*models.TopicList, error) {
	var out models.TopicList
	err := c.do(ctx, request{op: "List topics", method: http.MethodGet, path: "/topics/" + segment(userID), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteTopic deletes a topic and every document in it.
func (c *Client) DeleteTopic(ctx context.Context, topicID string) (*models.DeleteTopicResponse, error) {
	var out models.DeleteTopicResponse
	err := c.do(ctx, request{op: "Delete topic", method: http.MethodDelete, path: "/topics/" + segment(topicID), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestDocuments queues the given documents for backend ingestion.
func (c *Client) IngestDocuments(ctx context.Context, documentIDs []string) (*models.IngestResponse, error) {
	if len(documentIDs) == 0 {
		return nil, &apierr.ConfigurationError{Message: "no document ids to ingest"}
	}
	body, err := jsonBody(models.IngestRequest{DocumentIDs: documentIDs})
	if err != nil {
		return nil, err
	}
	var out models.IngestResponse
	err = c.do(ctx, request{
		op:          "Ingestion",
		method:      http.MethodPost,
		path:        "/ingest",
		body:        body,
		contentType: "application/json",
		out:         &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDocuments lists the documents of a topic.
func (c *Client) ListDocuments(ctx context.Context, topicID string) (*models.DocumentList, error) {
	var out models.DocumentList
	err := c.do(ctx, request{op: "List documents", method: http.MethodGet, path: "/documents/" + segment(topicID), out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocumentStatus returns the current processing status of a document.
func (c *Client) GetDocumentStatus(ctx context.Context, documentID string) (*models.DocumentStatusResponse, error) {
	var out models.DocumentStatusResponse
	err := c.do(ctx, request{
		op:     "Get document status",
		method: http.MethodGet,
		path:   "/documents/" + segment(documentID) + "/status",
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument deletes a document. A 404 counts as success since the document is absent either way.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	err := c.do(ctx, request{op: "Delete document", method: http.MethodDelete, path: "/documents/" + segment(documentID)})
	if apierr.IsNotFound(err) {
		c.logger.Warn("document not found in backend, treating as deleted", zap.String("document_id", documentID))
		return nil
	}
	return err
}

// SearchTopic runs a keyword search over the ingested chunks of a topic.
func (c *Client) SearchTopic(ctx context.Context, topicID, query string, limit int) (*models.SearchResponse, error) {
	q := url.Values{}
	q.Set("q", query)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var out models.SearchResponse
	err := c.do(ctx, request{
		op:     "Search",
		method: http.MethodGet,
		path:   "/topics/" + segment(topicID) + "/search",
		query:  q,
		out:    &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns index and storage counters. Only the development backend serves it.
func (c *Client) Stats(ctx context.Context) (*models.StatsResponse, error) {
	var out models.StatsResponse
	err := c.do(ctx, request{op: "Stats", method: http.MethodGet, path: "/stats", out: &out})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
