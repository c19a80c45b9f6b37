package domain

import (
	"context"
	"time"
)

// ServicePort is consumed by handlers and other modules
type ServicePort interface {
	// GetTimeline returns a sorted, gap-filled timeline for owner/name,
	// serving from cache when fresh, refreshing when stale
	GetTimeline(ctx context.Context, in TimelineInput) ([]Snapshot, error)

	// GetStats reports cumulative cache/lock counters for operators
	GetStats() Stats
}

// RepoInfo is the subset of upstream repository metadata the discovery
// pipeline needs: creation date bounds the discovery window
type RepoInfo struct {
	CreatedAt   time.Time
	TotalIssues int64
	TotalPRs    int64
}

// Upstream is the small port the history service drives; production code
// binds it to the GraphQL batch client, tests bind it to a stub
type Upstream interface {
	RepositoryInfo(ctx context.Context, owner, name string) (RepoInfo, error)
	CountsAt(ctx context.Context, owner, name string, dates []time.Time) (map[string]CountTuple, error)
}

// Locker is the small port the history service drives for cross-process
// mutual exclusion; production code binds it to the Postgres-backed lock,
// tests bind it to a stub
type Locker interface {
	Acquire(ctx context.Context, owner, name string) (bool, error)
	Release(ctx context.Context, owner, name string) error
	Heartbeat(ctx context.Context, owner, name string) (stop func())
}
