package history

import (
	"time"

	"github.com/manash/uigen/pkg/models"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusSelected Status = "selected"
	StatusFailed   Status = "failed"
)

// Record is one generate call as seen from this machine.
type Record struct {
	ID              string
	RemoteSessionID string
	GalleryURL      string
	Description     string
	Framework       models.Framework
	Styling         models.Styling
	Status          Status
	// VariationIndex is -1 until a selection arrives.
	VariationIndex int
	Code           string
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *Record) HasSelection() bool {
	return r.Status == StatusSelected && r.VariationIndex >= 0
}

func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
