package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/manash/uigen/pkg/models"
)

// Recorder tracks one record per generate call through its lifecycle.
type Recorder struct {
	store *Store
	now   func() time.Time
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

func (r *Recorder) Store() *Store {
	return r.store
}

// Start records a pending generation before it is submitted.
func (r *Recorder) Start(ctx context.Context, req *models.GenerationRequest) (*Record, error) {
	now := r.now().UTC()
	rec := &Record{
		ID:             uuid.New().String(),
		Description:    req.Description,
		Framework:      req.Framework,
		Styling:        req.Styling,
		Status:         StatusPending,
		VariationIndex: -1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create history record: %w", err)
	}
	return rec, nil
}

// Submitted attaches the remote session and gallery URL to rec.
func (r *Recorder) Submitted(ctx context.Context, rec *Record, sub *models.Submission) error {
	rec.RemoteSessionID = sub.SessionID
	rec.GalleryURL = sub.GalleryURL
	return r.update(ctx, rec)
}

// Selected marks rec selected and stores the chosen code.
func (r *Recorder) Selected(ctx context.Context, rec *Record, sel *models.SelectionResult) error {
	rec.Status = StatusSelected
	rec.VariationIndex = sel.VariationIndex
	rec.Code = sel.Code
	rec.Error = ""
	return r.update(ctx, rec)
}

// Failed marks rec failed with cause's message.
func (r *Recorder) Failed(ctx context.Context, rec *Record, cause error) error {
	rec.Status = StatusFailed
	if cause != nil {
		rec.Error = cause.Error()
	}
	return r.update(ctx, rec)
}

func (r *Recorder) update(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = r.now().UTC()
	if err := r.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to update history record: %w", err)
	}
	return nil
}
