package progress

import "time"

// Snapshot is a point-in-time view of a crawl run, served by the status
// endpoint.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Resume    bool      `json:"resume"`
	StartedAt time.Time `json:"started_at"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Saved     int       `json:"saved"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Records   int       `json:"records"`
}

// Remaining returns how many scheduled identifiers have not finished.
func (s Snapshot) Remaining() int {
	if s.Processed >= s.Total {
		return 0
	}
	return s.Total - s.Processed
}

// Source exposes the current Snapshot. Implementations must be safe for
// concurrent use.
type Source interface {
	Snapshot() Snapshot
}
