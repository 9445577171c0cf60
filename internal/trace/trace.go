// Package trace records runtime activity (task launches and execution
// fences) for later inspection.
package trace

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Launch statuses.
const (
	StatusIssued    = "issued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions defines the allowed launch status transitions.
var validTransitions = map[string][]string{
	StatusIssued:    {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// ValidTransition reports whether a launch may move from one status to
// another.
func ValidTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NewID generates a new ULID string for use as a launch identifier.
func NewID() string {
	return ulid.Make().String()
}

// ErrNotFound is returned when a launch is not found.
var ErrNotFound = errors.New("launch not found")

// ErrInvalidTransition is returned when a launch status change is not
// allowed by the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// Launch is one recorded task launch.
type Launch struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Variant    string     `json:"variant"`
	Domain     string     `json:"domain"`
	Points     int        `json:"points"`
	Args       int        `json:"args"`
	SideEffect bool       `json:"side_effect"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	IssuedAt   time.Time  `json:"issued_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats summarizes recorded activity.
type Stats struct {
	Launches  int `json:"launches"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Fences    int `json:"fences"`
}

// Recorder persists runtime activity.
type Recorder interface {
	// RecordLaunch inserts a new launch record.
	RecordLaunch(ctx context.Context, l *Launch) error

	// CompleteLaunch transitions a launch to a terminal status, recording
	// its duration and error message.
	CompleteLaunch(ctx context.Context, id, status, errMsg string, durationMS int64) error

	// RecordFence inserts an execution fence record.
	RecordFence(ctx context.Context, seq int64, at time.Time) error

	// Launches returns a page of launches ordered most recent first, along
	// with the total count of all launches.
	Launches(ctx context.Context, limit, offset int) ([]*Launch, int, error)

	// GetLaunch retrieves a launch by ID.
	GetLaunch(ctx context.Context, id string) (*Launch, error)

	// Stats summarizes recorded activity.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases underlying resources.
	Close() error
}
