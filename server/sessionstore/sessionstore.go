// Package sessionstore persists session summaries so that dashboards
// and restarts can see which experiments ran and who participated.
package sessionstore

import (
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/juju/errors"
)

// ErrNotFound is returned when no session exists for the given id.
var ErrNotFound = errors.New("session not found")

// ParticipantSummary is one participant's row in a session summary.
type ParticipantSummary struct {
	ID     identifiers.UserID `json:"id"`
	Name   string             `json:"name"`
	PingMs int64              `json:"ping_ms"`
	Muted  bool               `json:"muted"`
}

// Session is the stored state of one experiment session.
type Session struct {
	ID           identifiers.SessionID    `json:"id"`
	ExperimentID identifiers.ExperimentID `json:"experiment_id"`
	Title        string                   `json:"title"`
	StartedAt    int64                    `json:"started_at"`
	EndedAt      int64                    `json:"ended_at"`
	Participants []ParticipantSummary     `json:"participants"`
}

// Store persists sessions. Implementations must be safe for concurrent
// use.
type Store interface {
	Set(session Session) error
	Get(id identifiers.SessionID) (Session, error)
	Delete(id identifiers.SessionID) error
	List() ([]Session, error)

	// Close releases the backing resources.
	Close() error
}
