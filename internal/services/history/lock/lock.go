// Package lock implements the Postgres-backed repository lock: a
// cross-process mutex bound to an owner/name pair, tolerant of holder
// crashes via expiry and heartbeat refresh
package lock

import (
	"context"
	stdsql "database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"reposcope/internal/modkit/repokit"
	perr "reposcope/internal/platform/errors"
	"reposcope/internal/platform/logger"
)

// Config holds the lock's timing parameters
type Config struct {
	LockTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig matches spec defaults: 120s timeout, 30s heartbeat
func DefaultConfig() Config {
	return Config{
		LockTimeout:       120 * time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Lock is a Postgres-backed distributed mutex over (owner, name)
type Lock struct {
	q        repokit.Queryer
	cfg      Config
	holderID string
	log      logger.Logger
}

// New constructs a Lock bound to q, with a per-process holder id
func New(q repokit.Queryer, cfg Config) *Lock {
	if q == nil {
		panic("lock.Lock requires a non nil Queryer")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	return &Lock{
		q:        q,
		cfg:      cfg,
		holderID: uuid.NewString(),
		log:      *logger.Named("history.lock"),
	}
}

// HolderID returns this process's holder identifier
func (l *Lock) HolderID() string { return l.holderID }

// Acquire attempts to take the lock for owner/name. It tries the insert
// first; when a row already exists it deletes that row only if it has
// expired and retries (at most two sweeps), so a dead holder's row never
// blocks a fresh acquisition indefinitely
func (l *Lock) Acquire(ctx context.Context, owner, name string) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := l.tryInsert(ctx, owner, name)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		expired, err := l.deleteIfExpired(ctx, owner, name)
		if err != nil {
			return false, err
		}
		if !expired {
			return false, nil
		}
		// row was stale and just got removed under a conditional that
		// re-checks expiry; retry the insert once more
	}
	return l.tryInsert(ctx, owner, name)
}

func (l *Lock) tryInsert(ctx context.Context, owner, name string) (bool, error) {
	const sql = `
		INSERT INTO repository_locks (owner, name, locked_at, last_heartbeat_at, expires_at, lock_holder_id)
		VALUES ($1, $2, now(), now(), now() + $3::interval, $4)
		ON CONFLICT (owner, name) DO NOTHING
	`
	tag, err := l.q.Exec(ctx, sql, owner, name, l.cfg.LockTimeout.String(), l.holderID)
	if err != nil {
		return false, perr.FromPostgresWithField(err, "acquire repository lock")
	}
	return tag.RowsAffected() > 0, nil
}

// deleteIfExpired removes the row iff it is still expired at delete time,
// avoiding the classic lost-release race where a heartbeat lands between
// our read and our delete
func (l *Lock) deleteIfExpired(ctx context.Context, owner, name string) (bool, error) {
	const sql = `
		DELETE FROM repository_locks
		WHERE owner = $1 AND name = $2 AND expires_at <= now()
	`
	tag, err := l.q.Exec(ctx, sql, owner, name)
	if err != nil {
		return false, perr.FromPostgresWithField(err, "sweep expired repository lock")
	}
	return tag.RowsAffected() > 0, nil
}

// Release deletes the row iff we are still the holder
func (l *Lock) Release(ctx context.Context, owner, name string) error {
	const sql = `
		DELETE FROM repository_locks
		WHERE owner = $1 AND name = $2 AND lock_holder_id = $3
	`
	_, err := l.q.Exec(ctx, sql, owner, name, l.holderID)
	if err != nil {
		return perr.FromPostgresWithField(err, "release repository lock")
	}
	return nil
}

// Refresh updates the heartbeat and expiry iff we are still the holder
func (l *Lock) Refresh(ctx context.Context, owner, name string) (bool, error) {
	const sql = `
		UPDATE repository_locks
		SET last_heartbeat_at = now(), expires_at = now() + $4::interval
		WHERE owner = $1 AND name = $2 AND lock_holder_id = $3
	`
	tag, err := l.q.Exec(ctx, sql, owner, name, l.holderID, l.cfg.LockTimeout.String())
	if err != nil {
		return false, perr.FromPostgresWithField(err, "refresh repository lock")
	}
	return tag.RowsAffected() > 0, nil
}

// SweepExpired deletes every row whose expiry has passed, regardless of
// holder, and returns the count removed
func (l *Lock) SweepExpired(ctx context.Context) (int, error) {
	const sql = `DELETE FROM repository_locks WHERE expires_at <= now()`
	tag, err := l.q.Exec(ctx, sql)
	if err != nil {
		return 0, perr.FromPostgresWithField(err, "sweep expired repository locks")
	}
	return int(tag.RowsAffected()), nil
}

// Held reports whether a non-expired lock row exists for owner/name,
// regardless of holder
func (l *Lock) Held(ctx context.Context, owner, name string) (bool, error) {
	const sql = `SELECT 1 FROM repository_locks WHERE owner = $1 AND name = $2 AND expires_at > now()`
	row := l.q.QueryRow(ctx, sql, owner, name)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return false, nil
		}
		return false, perr.FromPostgresWithField(err, "check repository lock held")
	}
	return true, nil
}

// Heartbeat starts a recurring timer that invokes Refresh every
// HeartbeatInterval until stopped or until a Refresh call reports that we
// are no longer the holder, at which point the timer stops itself
func (l *Lock) Heartbeat(ctx context.Context, owner, name string) (stop func()) {
	ticker := time.NewTicker(l.cfg.HeartbeatInterval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				ok, err := l.Refresh(ctx, owner, name)
				if err != nil {
					l.log.Warn().Err(err).Str("owner", owner).Str("name", name).Msg("lock heartbeat refresh failed")
					continue
				}
				if !ok {
					l.log.Warn().Str("owner", owner).Str("name", name).Msg("lock heartbeat lost holder status")
					return
				}
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
	}
}
