// Package memory keeps compressed conversation summaries in a document store
// and bounds how many survive per session.
package memory

import (
	"errors"
	"fmt"
	"time"
)

const (
	// SummaryVersionLatest marks every stored summary.
	SummaryVersionLatest = "latest"

	metaSessionID      = "session_id"
	metaStartTimestamp = "start_timestamp"
	metaSummaryVersion = "summary_version"
)

// ErrInvalidTimestamp is returned when a stored summary timestamp cannot be read.
var ErrInvalidTimestamp = errors.New("memory: invalid summary timestamp")

// Summary is one compressed snapshot of a session.
type Summary struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	SessionID      string    `json:"session_id"`
	StartTimestamp time.Time `json:"start_timestamp"`
	SummaryVersion string    `json:"summary_version"`

	rawTimestamp string
}

// Collection names the long-term memory collection of an agent.
func Collection(agent string) string {
	if agent == "" {
		agent = "default"
	}
	return "agent-memory-" + agent
}

// Timestamp returns the summary start time, parsing the stored ISO-8601 form
// when the store did not provide a typed one.
func (s Summary) Timestamp() (time.Time, error) {
	if !s.StartTimestamp.IsZero() {
		return s.StartTimestamp, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s.rawTimestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: summary %s has %q: %v", ErrInvalidTimestamp, s.ID, s.rawTimestamp, err)
	}
	return ts.UTC(), nil
}
