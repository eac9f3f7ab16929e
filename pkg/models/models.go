package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// VariationCount is the fixed number of candidates the service generates per session.
const VariationCount = 5

var (
	ErrEmptyDescription    = errors.New("description cannot be empty")
	ErrInvalidFramework    = errors.New("invalid framework")
	ErrInvalidStyling      = errors.New("invalid styling")
	ErrFrameworkNotAllowed = errors.New("framework not enabled")
	ErrInvalidVariation    = errors.New("variation index out of range")
	ErrEmptyCode           = errors.New("selected variation has no code")
)

type Framework string

const (
	FrameworkReact  Framework = "react"
	FrameworkVue    Framework = "vue"
	FrameworkSvelte Framework = "svelte"
)

// DefaultFramework is the primary framework used when a request leaves it unset.
const DefaultFramework = FrameworkReact

func ValidFrameworks() []Framework {
	return []Framework{FrameworkReact, FrameworkVue, FrameworkSvelte}
}

func (f Framework) IsValid() bool {
	return slices.Contains(ValidFrameworks(), f)
}

func (f Framework) String() string {
	return string(f)
}

// DisplayName returns the name used in human-readable output.
func (f Framework) DisplayName() string {
	switch f {
	case FrameworkReact:
		return "React"
	case FrameworkVue:
		return "Vue"
	case FrameworkSvelte:
		return "Svelte"
	default:
		return string(f)
	}
}

// FileExtension is the conventional source extension for a component in f.
func (f Framework) FileExtension() string {
	switch f {
	case FrameworkVue:
		return ".vue"
	case FrameworkSvelte:
		return ".svelte"
	default:
		return ".tsx"
	}
}

type Styling string

const (
	StylingTailwind         Styling = "tailwind"
	StylingCSS              Styling = "css"
	StylingStyledComponents Styling = "styled-components"
)

const DefaultStyling = StylingTailwind

func ValidStylings() []Styling {
	return []Styling{StylingTailwind, StylingCSS, StylingStyledComponents}
}

func (s Styling) IsValid() bool {
	return slices.Contains(ValidStylings(), s)
}

func (s Styling) String() string {
	return string(s)
}

func (s Styling) DisplayName() string {
	switch s {
	case StylingTailwind:
		return "Tailwind CSS"
	case StylingCSS:
		return "CSS"
	case StylingStyledComponents:
		return "styled-components"
	default:
		return string(s)
	}
}

// GenerationRequest is immutable once submitted.
type GenerationRequest struct {
	Description string
	Framework   Framework
	Styling     Styling
}

// NewGenerationRequest returns a request for description with default framework and styling.
func NewGenerationRequest(description string) *GenerationRequest {
	return &GenerationRequest{
		Description: description,
		Framework:   DefaultFramework,
		Styling:     DefaultStyling,
	}
}

// ApplyDefaults fills unset enum fields with the primary framework and utility styling.
func (r *GenerationRequest) ApplyDefaults() {
	if r.Framework == "" {
		r.Framework = DefaultFramework
	}
	if r.Styling == "" {
		r.Styling = DefaultStyling
	}
}

// Validate checks the request against the fixed enumerations and the allowed framework
// set. An empty allowed list permits every valid framework.
func (r *GenerationRequest) Validate(allowed []Framework) error {
	if strings.TrimSpace(r.Description) == "" {
		return ErrEmptyDescription
	}

	if !r.Framework.IsValid() {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidFramework, r.Framework, ValidFrameworks())
	}

	if len(allowed) > 0 && !slices.Contains(allowed, r.Framework) {
		return fmt.Errorf("%w: %q not in %v", ErrFrameworkNotAllowed, r.Framework, allowed)
	}

	if !r.Styling.IsValid() {
		return fmt.Errorf("%w: %q not in %v", ErrInvalidStyling, r.Styling, ValidStylings())
	}

	return nil
}

// Submission is what the service returns for an accepted request.
type Submission struct {
	SessionID  string
	GalleryURL string
}

type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusGenerating SessionStatus = "generating"
	StatusCompleted  SessionStatus = "completed"
	StatusSelected   SessionStatus = "selected"
	StatusExpired    SessionStatus = "expired"
)

// CanSelect reports whether a session in this status may carry a selection.
func (s SessionStatus) CanSelect() bool {
	return s == StatusCompleted || s == StatusSelected
}

type VariationStatus string

const (
	VariationGenerating VariationStatus = "generating"
	VariationReady      VariationStatus = "ready"
	VariationFailed     VariationStatus = "failed"
)

func (s VariationStatus) IsTerminal() bool {
	return s == VariationReady || s == VariationFailed
}

type Variation struct {
	ID           string
	Index        int
	Status       VariationStatus
	Code         string
	Name         string
	Description  string
	Dependencies []string
}

// Session is observed, never mutated, by this client.
type Session struct {
	ID                  string
	Status              SessionStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	SelectedVariationID string
	Variations          []Variation
}

// Selected returns the variation referenced by SelectedVariationID.
func (s *Session) Selected() (*Variation, bool) {
	if s.SelectedVariationID == "" {
		return nil, false
	}
	for i := range s.Variations {
		if s.Variations[i].ID == s.SelectedVariationID {
			return &s.Variations[i], true
		}
	}
	return nil, false
}

// AllFailed reports whether the full set of variations exists and every one failed.
func (s *Session) AllFailed() bool {
	if len(s.Variations) < VariationCount {
		return false
	}
	for _, v := range s.Variations {
		if v.Status != VariationFailed {
			return false
		}
	}
	return true
}

// SelectionResult is the terminal output of a wait. It is derived, never stored remotely.
type SelectionResult struct {
	SessionID      string
	VariationID    string
	VariationIndex int
	Code           string
	Name           string
	Description    string
	Dependencies   []string
}

// Validate requires an index in [0, VariationCount) and non-empty code.
func (r *SelectionResult) Validate() error {
	if r.VariationIndex < 0 || r.VariationIndex >= VariationCount {
		return fmt.Errorf("%w: %d", ErrInvalidVariation, r.VariationIndex)
	}
	if r.Code == "" {
		return ErrEmptyCode
	}
	return nil
}

// SelectionFromVariation builds the result for a selected variation of sessionID.
func SelectionFromVariation(sessionID string, v *Variation) *SelectionResult {
	return &SelectionResult{
		SessionID:      sessionID,
		VariationID:    v.ID,
		VariationIndex: v.Index,
		Code:           v.Code,
		Name:           v.Name,
		Description:    v.Description,
		Dependencies:   slices.Clone(v.Dependencies),
	}
}
