// Package repo provides Postgres access for the repositories and snapshots
// tables backing the history service
package repo

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"reposcope/internal/modkit/repokit"
	perr "reposcope/internal/platform/errors"
	"reposcope/internal/services/history/domain"
)

// Repo is the persistence surface for repository identity rows and their
// daily count-tuple snapshots
type Repo interface {
	// GetByKey looks up a repository by its normalized owner/name. ok is
	// false when no row exists yet
	GetByKey(ctx context.Context, owner, name string) (domain.Repository, bool, error)

	// UpsertRepository inserts the repository row if missing, returning its
	// id; a repeat call for the same owner/name is a no-op beyond the id
	// lookup
	UpsertRepository(ctx context.Context, owner, name string, createdAt time.Time) (int64, error)

	// TouchLastSynced records the moment a refresh completed
	TouchLastSynced(ctx context.Context, repositoryID int64, at time.Time) error

	// SaveSnapshots upserts a batch of count tuples for one repository.
	// Existing rows for the same (repository_id, snapshot_date) are
	// overwritten, matching the repair-only upsert semantics in the data
	// model's Snapshot definition
	SaveSnapshots(ctx context.Context, repositoryID int64, snaps []domain.Snapshot) error

	// ListSnapshots returns all persisted snapshots for a repository,
	// ascending by date
	ListSnapshots(ctx context.Context, repositoryID int64) ([]domain.Snapshot, error)

	// LatestSnapshotDate returns the most recent snapshot date for a
	// repository; ok is false when none exist
	LatestSnapshotDate(ctx context.Context, repositoryID int64) (time.Time, bool, error)
}

type (
	// PG is a Postgres binder for Repo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for Repo
func NewPG() repokit.Binder[Repo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) Repo { return &queries{q: q} }

func (r *queries) GetByKey(ctx context.Context, owner, name string) (domain.Repository, bool, error) {
	const sql = `
		SELECT id, owner, name, created_at, last_synced_at
		FROM repositories
		WHERE owner = $1 AND name = $2
	`
	row := r.q.QueryRow(ctx, sql, owner, name)

	var rec domain.Repository
	var lastSynced *time.Time
	if err := row.Scan(&rec.ID, &rec.Owner, &rec.Name, &rec.CreatedAt, &lastSynced); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return domain.Repository{}, false, nil
		}
		return domain.Repository{}, false, perr.FromPostgresWithField(err, "get repository by key")
	}
	rec.LastSyncedAt = lastSynced
	return rec, true, nil
}

// UpsertRepository inserts the repository row on first sight. created_at is
// only ever written on insert; ON CONFLICT DO UPDATE touches nothing but
// forces RETURNING id to work for both the fresh-insert and already-exists
// cases in one round trip
func (r *queries) UpsertRepository(ctx context.Context, owner, name string, createdAt time.Time) (int64, error) {
	const sql = `
		INSERT INTO repositories (owner, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, name) DO UPDATE SET owner = EXCLUDED.owner
		RETURNING id
	`
	row := r.q.QueryRow(ctx, sql, owner, name, createdAt.UTC())

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, perr.FromPostgresWithField(err, "upsert repository")
	}
	return id, nil
}

func (r *queries) TouchLastSynced(ctx context.Context, repositoryID int64, at time.Time) error {
	const sql = `UPDATE repositories SET last_synced_at = $2 WHERE id = $1`
	if _, err := r.q.Exec(ctx, sql, repositoryID, at.UTC()); err != nil {
		return perr.FromPostgresWithField(err, "touch repository last_synced_at")
	}
	return nil
}

func (r *queries) SaveSnapshots(ctx context.Context, repositoryID int64, snaps []domain.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	const sql = `
		INSERT INTO snapshots (
			repository_id, snapshot_date,
			issues_created_before, issues_closed_before,
			prs_created_before, prs_closed_before, prs_merged_before
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (repository_id, snapshot_date) DO UPDATE SET
			issues_created_before = EXCLUDED.issues_created_before,
			issues_closed_before  = EXCLUDED.issues_closed_before,
			prs_created_before    = EXCLUDED.prs_created_before,
			prs_closed_before     = EXCLUDED.prs_closed_before,
			prs_merged_before     = EXCLUDED.prs_merged_before
	`
	for _, s := range snaps {
		_, err := r.q.Exec(ctx, sql, repositoryID, s.Date.UTC(),
			s.IssuesCreatedBefore, s.IssuesClosedBefore,
			s.PRsCreatedBefore, s.PRsClosedBefore, s.PRsMergedBefore,
		)
		if err != nil {
			return perr.FromPostgresWithField(err, "upsert snapshot")
		}
	}
	return nil
}

func (r *queries) ListSnapshots(ctx context.Context, repositoryID int64) ([]domain.Snapshot, error) {
	const sql = `
		SELECT snapshot_date,
			issues_created_before, issues_closed_before,
			prs_created_before, prs_closed_before, prs_merged_before
		FROM snapshots
		WHERE repository_id = $1
		ORDER BY snapshot_date ASC
	`
	rows, err := r.q.Query(ctx, sql, repositoryID)
	if err != nil {
		return nil, perr.FromPostgresWithField(err, "list snapshots")
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		if err := rows.Scan(&s.Date,
			&s.IssuesCreatedBefore, &s.IssuesClosedBefore,
			&s.PRsCreatedBefore, &s.PRsClosedBefore, &s.PRsMergedBefore,
		); err != nil {
			return nil, perr.FromPostgresWithField(err, "scan snapshot")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *queries) LatestSnapshotDate(ctx context.Context, repositoryID int64) (time.Time, bool, error) {
	const sql = `SELECT max(snapshot_date) FROM snapshots WHERE repository_id = $1`
	row := r.q.QueryRow(ctx, sql, repositoryID)

	var d *time.Time
	if err := row.Scan(&d); err != nil {
		return time.Time{}, false, perr.FromPostgresWithField(err, "latest snapshot date")
	}
	if d == nil {
		return time.Time{}, false, nil
	}
	return *d, true, nil
}
