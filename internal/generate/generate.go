// Package generate runs one component generation end to end: dispatch, wait for the
// human selection, format the result. History recording is best-effort.
package generate

import (
	"context"
	"log/slog"

	"github.com/manash/uigen/internal/format"
	"github.com/manash/uigen/internal/history"
	"github.com/manash/uigen/internal/logging"
	"github.com/manash/uigen/internal/waiter"
	"github.com/manash/uigen/pkg/models"
)

// Dispatcher submits a validated request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.GenerationRequest) (*models.Submission, error)
}

type Service struct {
	dispatcher Dispatcher
	source     waiter.Source
	recorder   *history.Recorder
	logger     *slog.Logger
}

// Outcome is set once the request was submitted, even when the wait fails, so the
// caller can still point the user at the gallery.
type Outcome struct {
	Submission *models.Submission
	Selection  *models.SelectionResult
	Text       string
	RecordID   string
}

// CallOptions holds per-call hooks. Build it with Option values.
type CallOptions struct {
	OnSubmitted func(*models.Submission)
}

// Option adjusts a single Generate call.
type Option func(*CallOptions)

// Apply folds opts into a CallOptions.
func Apply(opts ...Option) CallOptions {
	var co CallOptions
	for _, opt := range opts {
		opt(&co)
	}
	return co
}

// WithSubmitted registers fn to run once the request is accepted and before the wait
// starts, so the caller can surface the gallery URL while the human is choosing.
func WithSubmitted(fn func(*models.Submission)) Option {
	return func(o *CallOptions) { o.OnSubmitted = fn }
}

// New wires a service. recorder may be nil to disable history.
func New(d Dispatcher, source waiter.Source, recorder *history.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{dispatcher: d, source: source, recorder: recorder, logger: logger}
}

// Generate dispatches req and blocks until the human picks a variation or the wait
// fails. The returned Outcome is non-nil whenever the request was submitted.
func (s *Service) Generate(ctx context.Context, req *models.GenerationRequest, opts ...Option) (*Outcome, error) {
	co := Apply(opts...)

	normalized := models.GenerationRequest{}
	if req != nil {
		normalized = *req
	}
	normalized.ApplyDefaults()

	rec := s.startRecord(ctx, &normalized)

	sub, err := s.dispatcher.Dispatch(ctx, &normalized)
	if err != nil {
		s.recordFailure(ctx, rec, err)
		return nil, err
	}

	out := &Outcome{Submission: sub}
	if rec != nil {
		out.RecordID = rec.ID
		s.record(ctx, rec, "submission", func(c context.Context) error {
			return s.recorder.Submitted(c, rec, sub)
		})
	}

	log := s.logger.With("session_id", sub.SessionID)
	log.Info("waiting for selection", "gallery_url", sub.GalleryURL)
	if co.OnSubmitted != nil {
		co.OnSubmitted(sub)
	}

	sel, err := s.source.Await(ctx, sub.SessionID)
	if err != nil {
		log.Warn("generation did not complete", "error", err)
		s.recordFailure(ctx, rec, err)
		return out, err
	}

	out.Selection = sel
	out.Text = format.Result(sel, &normalized)
	log.Info("selection received", "variation_index", sel.VariationIndex, "code_bytes", len(sel.Code))

	if rec != nil {
		s.record(ctx, rec, "selection", func(c context.Context) error {
			return s.recorder.Selected(c, rec, sel)
		})
	}
	return out, nil
}

func (s *Service) startRecord(ctx context.Context, req *models.GenerationRequest) *history.Record {
	if s.recorder == nil {
		return nil
	}
	rec, err := s.recorder.Start(context.WithoutCancel(ctx), req)
	if err != nil {
		s.logger.Warn("history unavailable for this request", "error", err)
		return nil
	}
	return rec
}

func (s *Service) recordFailure(ctx context.Context, rec *history.Record, cause error) {
	if rec == nil {
		return
	}
	s.record(ctx, rec, "failure", func(c context.Context) error {
		return s.recorder.Failed(c, rec, cause)
	})
}

// record writes even after ctx is cancelled so an abandoned wait still lands in history.
func (s *Service) record(ctx context.Context, rec *history.Record, what string, write func(context.Context) error) {
	if err := write(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("failed to record history", "record_id", rec.ID, "stage", what, "error", err)
	}
}
