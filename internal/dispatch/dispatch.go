// Package dispatch validates generation requests and hands them to the remote service.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/browser"

	"github.com/manash/uigen/internal/provider"
	"github.com/manash/uigen/internal/security"
	"github.com/manash/uigen/pkg/models"
)

// Opener launches a URL in the user's browser.
type Opener func(url string) error

type Options struct {
	// AllowedFrameworks restricts requests to a subset of the known frameworks. Empty allows all.
	AllowedFrameworks []models.Framework
	// OpenBrowser launches the gallery after a successful submission.
	OpenBrowser bool
	// Opener defaults to browser.OpenURL.
	Opener Opener
}

type Dispatcher struct {
	client  provider.Client
	allowed []models.Framework
	open    Opener
	logger  *slog.Logger
}

// New returns a Dispatcher. The gallery is opened only when opts.OpenBrowser is set.
func New(client provider.Client, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		client:  client,
		allowed: opts.AllowedFrameworks,
		logger:  logger,
	}
	if opts.OpenBrowser {
		d.open = opts.Opener
		if d.open == nil {
			d.open = browser.OpenURL
		}
	}
	return d
}

// Dispatch validates req, submits it and returns the remote session. The request passed
// in is not modified; defaults are applied to a copy. Only values from the fixed
// framework and styling sets are ever forwarded.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.GenerationRequest) (*models.Submission, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrValidation, models.ErrEmptyDescription)
	}

	normalized := *req
	normalized.ApplyDefaults()
	if err := normalized.Validate(d.allowed); err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrValidation, err)
	}

	sub, err := d.client.Submit(ctx, &normalized)
	if err != nil {
		return nil, err
	}

	d.logger.Info("generation submitted",
		"session_id", sub.SessionID,
		"framework", normalized.Framework,
		"styling", normalized.Styling,
		"gallery_url", sub.GalleryURL,
	)

	d.openGallery(sub)
	return sub, nil
}

// openGallery is best-effort; the caller still gets the URL when this fails.
func (d *Dispatcher) openGallery(sub *models.Submission) {
	if d.open == nil || sub.GalleryURL == "" {
		return
	}

	if err := security.ValidateGalleryURL(sub.GalleryURL); err != nil {
		d.logger.Warn("not opening gallery", "session_id", sub.SessionID, "error", err)
		return
	}

	if err := d.open(sub.GalleryURL); err != nil {
		d.logger.Warn("failed to open browser", "session_id", sub.SessionID, "error", err)
	}
}
