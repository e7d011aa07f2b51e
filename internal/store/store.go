package store

import (
	"time"

	"rpreport/internal/reporting"
)

// DefaultSession is the session name used when the caller gives none.
const DefaultSession = "default"

// SessionRow summarizes one stored session.
type SessionRow struct {
	Name        string
	LaunchUUID  string
	LaunchState reporting.LaunchState
	Items       int
	Unfinished  int
	PendingLogs int
	UpdatedAt   time.Time
}

// Store persists reporting session snapshots between CLI invocations.
// Implementations are SQLite or in-memory.
type Store interface {
	// SaveSession replaces everything stored under name with snap.
	SaveSession(name string, snap *reporting.Snapshot) error
	// LoadSession returns nil, nil when name is unknown.
	LoadSession(name string) (*reporting.Snapshot, error)
	DeleteSession(name string) error
	ListSessions() ([]SessionRow, error)
	Close() error
}

func summarize(name string, snap *reporting.Snapshot, updated time.Time) SessionRow {
	row := SessionRow{
		Name:        name,
		LaunchUUID:  snap.LaunchUUID,
		LaunchState: snap.LaunchState,
		Items:       len(snap.Items),
		PendingLogs: len(snap.Pending),
		UpdatedAt:   updated,
	}
	for _, it := range snap.Items {
		if it.State == reporting.ItemStarted {
			row.Unfinished++
		}
	}
	return row
}
