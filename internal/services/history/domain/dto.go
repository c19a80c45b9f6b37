// Package domain holds the repository-activity-history types and service
// contract shared by the repo, service, module and http layers
package domain

import (
	"time"

	"reposcope/internal/core/fetcher"
)

// CountTuple is C(d): see fetcher.CountTuple. Aliased at the boundary so
// callers of this package never need to import internal/core/fetcher
type CountTuple = fetcher.CountTuple

// Repository is the canonical identity row for a tracked owner/name pair
type Repository struct {
	ID           int64
	Owner        string
	Name         string
	CreatedAt    time.Time
	LastSyncedAt *time.Time
}

// Snapshot is a persisted C(d) tuple for one repository and date
type Snapshot struct {
	Date time.Time
	CountTuple
}

// TimelineInput is the Facade API input: an owner/name pair as given by the
// caller, not yet normalized
type TimelineInput struct {
	Owner string `json:"owner" validate:"required,min=1,max=200"`
	Name  string `json:"name" validate:"required,min=1,max=200"`
}

// Stats reports counters for operator visibility, analogous to the
// teacher's per-hour HourFinish counters collected during backfill
type Stats struct {
	CacheHits    int64
	CacheMisses  int64
	LockWaits    int64
	LockTimeouts int64
}
