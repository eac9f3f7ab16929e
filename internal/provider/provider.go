package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/manash/uigen/pkg/models"
)

var (
	ErrAPIKeyRequired   = errors.New("API key is required")
	ErrValidation       = errors.New("invalid request")
	ErrAuthentication   = errors.New("authentication failed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrTransient        = errors.New("transient transport error")
	ErrTimeout          = errors.New("timed out waiting for selection")
	ErrGenerationFailed = errors.New("component generation failed")
)

// Client is the remote generation service.
type Client interface {
	Submit(ctx context.Context, req *models.GenerationRequest) (*models.Submission, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

type Config struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
	Verbose    bool
}

// TimeoutError reports an exhausted wait budget. It matches ErrTimeout.
type TimeoutError struct {
	SessionID string
	Bound     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: session %s after %s", ErrTimeout, e.SessionID, e.Bound)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// SessionError ties a terminal service-reported failure to its session.
type SessionError struct {
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.SessionID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Describe renders err as the text shown to a tool caller.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("No component was selected for session %s within %s. "+
			"The gallery may still be open; run the request again to start a new session.",
			timeoutErr.SessionID, timeoutErr.Bound)
	case errors.Is(err, ErrValidation):
		return fmt.Sprintf("Invalid request: %v", err)
	case errors.Is(err, ErrAPIKeyRequired):
		return "No API key configured: set UIGEN_API_KEY or run 'uigen keys set'."
	case errors.Is(err, ErrAuthentication):
		return fmt.Sprintf("Authentication with the generation service failed: %v", err)
	case errors.Is(err, ErrSessionExpired):
		return fmt.Sprintf("The generation session expired before a component was selected (%v).", err)
	case errors.Is(err, ErrGenerationFailed):
		return fmt.Sprintf("The generation service could not produce the component (%v).", err)
	case errors.Is(err, ErrSessionNotFound):
		return fmt.Sprintf("The generation session no longer exists (%v).", err)
	case errors.Is(err, ErrTransient):
		return fmt.Sprintf("The generation service is unreachable: %v", err)
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return fmt.Sprintf("Component generation failed: %v", err)
	}
}
