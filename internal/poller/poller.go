// Package poller polls a document's processing status until it reaches a terminal state.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/intellilearn/internal/apierr"
	"github.com/hyperjump/intellilearn/internal/models"
	"go.uber.org/zap"
)

// DefaultInterval is the delay between a handled response and the next poll.
const DefaultInterval = 3 * time.Second

// StatusGetter fetches a document's status. *ragapi.Client implements it.
type StatusGetter interface {
	GetDocumentStatus(ctx context.Context, documentID string) (*models.DocumentStatusResponse, error)
}

// Poller repeatedly queries a StatusGetter. It is stateless between Run calls.
type Poller struct {
	client   StatusGetter
	interval time.Duration
	logger   *zap.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the delay between polls.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Poller.
func New(client StatusGetter, opts ...Option) *Poller {
	p := &Poller{
		client:   client,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls documentID until the backend reports done or failed, ctx is cancelled,
// or a request fails. Exactly one request is in flight at a time: the next poll is
// scheduled only after the previous response has been handled.
//
// onUpdate (optional) receives every response observed before cancellation. A
// response that arrives after ctx is cancelled is discarded and Run returns ctx.Err().
// A "failed" status returns the final status together with *apierr.ProcessingFailure.
func (p *Poller) Run(ctx context.Context, documentID string, onUpdate func(*models.DocumentStatusResponse)) (*models.DocumentStatusResponse, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, err := p.client.GetDocumentStatus(ctx, documentID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			p.logger.Debug("poll result discarded after cancel", zap.String("document_id", documentID))
			return nil, ctxErr
		}
		if err != nil {
			p.logger.Warn("poll failed", zap.String("document_id", documentID), zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		p.logger.Debug("poll",
			zap.String("document_id", documentID),
			zap.Int("attempt", attempt),
			zap.String("status", string(st.Status)),
			zap.Int("progress", st.ProgressPercent),
		)
		if onUpdate != nil {
			onUpdate(st)
		}

		switch st.Status {
		case models.StatusDone:
			return st, nil
		case models.StatusFailed:
			return st, &apierr.ProcessingFailure{DocumentID: documentID, Details: st.StageDetails}
		case models.StatusPending, models.StatusProcessing, models.StatusUploading:
		default:
			return st, &apierr.ProtocolError{Op: "Poll status", Err: fmt.Errorf("unexpected status %q", st.Status)}
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
