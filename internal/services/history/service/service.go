// Package service implements the History Service: the single entry point
// that composes the fetcher, the upstream client, the snapshot store and
// the repository lock into one cache-aware, single-flight-safe facade
package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"reposcope/internal/core/fetcher"
	"reposcope/internal/core/normalize"
	"reposcope/internal/modkit/repokit"
	perr "reposcope/internal/platform/errors"
	"reposcope/internal/platform/logger"
	ptime "reposcope/internal/platform/time"
	"reposcope/internal/services/history/domain"
	"reposcope/internal/services/history/repo"
)

// Config holds the History Service's own timing parameters; the fetcher's
// and the lock's configs are held separately and passed in at construction
type Config struct {
	CacheFreshness   time.Duration
	LockWaitTimeout  time.Duration
	LockWaitInterval time.Duration
}

// DefaultConfig matches spec defaults: 24h freshness, 120s wait timeout,
// 2s poll interval
func DefaultConfig() Config {
	return Config{
		CacheFreshness:   24 * time.Hour,
		LockWaitTimeout:  120 * time.Second,
		LockWaitInterval: 2 * time.Second,
	}
}

// Service defines the history service contract
type Service interface {
	domain.ServicePort
}

// inflight is a single pending single-flight computation: done closes when
// the result is ready, matching spec.md §9's mutex-guarded-map-of-channels
// note for languages without a native compare-and-insert-future primitive
type inflight struct {
	done   chan struct{}
	result []domain.Snapshot
	err    error
}

// Svc implements the History Service
type Svc struct {
	Repo     repo.Repo
	binder   repokit.Binder[repo.Repo]
	db       repokit.TxRunner
	upstream domain.Upstream
	lock     domain.Locker
	cfg      Config
	fetchCfg fetcher.Config
	log      logger.Logger

	mu       sync.Mutex
	inflight map[string]*inflight

	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	lockWaits    atomic.Int64
	lockTimeouts atomic.Int64
}

// New constructs a History Service. upstream and lk must be non nil;
// zero-value cfg/fetchCfg fall back to their package defaults
func New(
	db repokit.TxRunner,
	binder repokit.Binder[repo.Repo],
	upstream domain.Upstream,
	lk domain.Locker,
	cfg Config,
	fetchCfg fetcher.Config,
) *Svc {
	if db == nil {
		panic("history.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("history.Service requires a non nil Repo binder")
	}
	if upstream == nil {
		panic("history.Service requires a non nil Upstream")
	}
	if lk == nil {
		panic("history.Service requires a non nil Lock")
	}
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if fetchCfg == (fetcher.Config{}) {
		fetchCfg = fetcher.DefaultConfig()
	}
	return &Svc{
		Repo:     binder.Bind(db),
		binder:   binder,
		db:       db,
		upstream: upstream,
		lock:     lk,
		cfg:      cfg,
		fetchCfg: fetchCfg,
		log:      *logger.Named("history.service"),
		inflight: make(map[string]*inflight),
	}
}

// GetStats reports cumulative cache/lock counters
func (s *Svc) GetStats() domain.Stats {
	return domain.Stats{
		CacheHits:    s.cacheHits.Load(),
		CacheMisses:  s.cacheMisses.Load(),
		LockWaits:    s.lockWaits.Load(),
		LockTimeouts: s.lockTimeouts.Load(),
	}
}

// GetTimeline implements the state machine in spec.md §4.3
func (s *Svc) GetTimeline(ctx context.Context, in domain.TimelineInput) ([]domain.Snapshot, error) {
	owner := normalize.Segment(in.Owner)
	name := normalize.Segment(in.Name)
	key := owner + "/" + name

	rec, found, err := s.Repo.GetByKey(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	if !found {
		// state B: cold repository
		return s.refreshOrWait(ctx, owner, name, key, nil)
	}

	// state C: present; check freshness
	latest, hasLatest, err := s.Repo.LatestSnapshotDate(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if hasLatest && s.isFresh(latest) {
		s.cacheHits.Add(1)
		return s.Repo.ListSnapshots(ctx, rec.ID)
	}
	s.cacheMisses.Add(1)

	// state D: stale; attempt refresh, falling back to stale-but-usable
	return s.refreshOrWait(ctx, owner, name, key, &rec)
}

func (s *Svc) isFresh(latest time.Time) bool {
	today := ptime.Today()
	age := today.Sub(ptime.UTCDay(latest))
	return age < s.cfg.CacheFreshness
}

// refreshOrWait implements states B, D and E together: acquire the lock,
// and on success run the appropriate fetch inside the single-flight
// coalescer; on failure to acquire, fall back to cached data when any
// exists, otherwise wait for another worker's progress
func (s *Svc) refreshOrWait(
	ctx context.Context, owner, name, key string, existing *domain.Repository,
) ([]domain.Snapshot, error) {
	acquired, err := s.lock.Acquire(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	if acquired {
		stop := s.lock.Heartbeat(ctx, owner, name)
		defer stop()
		defer func() {
			// best effort; a release failure just leaves the row to expire
			if relErr := s.lock.Release(context.WithoutCancel(ctx), owner, name); relErr != nil {
				s.log.Warn().Err(relErr).Str("owner", owner).Str("name", name).Msg("lock release failed")
			}
		}()

		return s.singleflight(key, func() ([]domain.Snapshot, error) {
			if existing == nil {
				return s.fullDiscover(ctx, owner, name)
			}
			return s.incrementalRefresh(ctx, *existing)
		})
	}

	if existing != nil {
		if cached, err := s.Repo.ListSnapshots(ctx, existing.ID); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	return s.waitForProgress(ctx, owner, name, key)
}

// singleflight ensures at most one fetch per key runs at a time within this
// process; concurrent callers share the same result
func (s *Svc) singleflight(key string, fn func() ([]domain.Snapshot, error)) ([]domain.Snapshot, error) {
	s.mu.Lock()
	if inf, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		<-inf.done
		return inf.result, inf.err
	}
	inf := &inflight{done: make(chan struct{})}
	s.inflight[key] = inf
	s.mu.Unlock()

	result, err := fn()
	inf.result, inf.err = result, err
	close(inf.done)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()

	return result, err
}

// fullDiscover handles state B's happy path: fetch repo metadata, discover
// the whole timeline from repo creation to today, and persist it
func (s *Svc) fullDiscover(ctx context.Context, owner, name string) ([]domain.Snapshot, error) {
	info, err := s.upstream.RepositoryInfo(ctx, owner, name)
	if err != nil {
		return nil, err
	}

	repoID, err := s.Repo.UpsertRepository(ctx, owner, name, info.CreatedAt)
	if err != nil {
		return nil, err
	}

	today := ptime.Today()
	points, err := fetcher.Discover(ctx, ptime.UTCDay(info.CreatedAt), today, s.probeFunc(owner, name), s.fetchCfg)
	if err != nil {
		return nil, err
	}

	snaps := snapshotsFromPoints(points)
	if err := s.Repo.SaveSnapshots(ctx, repoID, snaps); err != nil {
		return nil, err
	}
	if err := s.Repo.TouchLastSynced(ctx, repoID, today); err != nil {
		return nil, err
	}
	return sortedSnapshots(snaps), nil
}

// incrementalRefresh handles state D's happy path: fetch only the window
// from the latest cached date to today, then merge with what is cached,
// the fresher fetch winning on any colliding date
func (s *Svc) incrementalRefresh(ctx context.Context, rec domain.Repository) ([]domain.Snapshot, error) {
	cached, err := s.Repo.ListSnapshots(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	latest, hasLatest, err := s.Repo.LatestSnapshotDate(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	start := ptime.UTCDay(rec.CreatedAt)
	if hasLatest {
		start = ptime.UTCDay(latest)
	}
	today := ptime.Today()

	if !start.Before(today) {
		return sortedSnapshots(cached), nil
	}

	points, err := fetcher.Discover(ctx, start, today, s.probeFunc(rec.Owner, rec.Name), s.fetchCfg)
	if err != nil {
		return nil, err
	}

	fresh := snapshotsFromPoints(points)
	if err := s.Repo.SaveSnapshots(ctx, rec.ID, fresh); err != nil {
		return nil, err
	}
	if err := s.Repo.TouchLastSynced(ctx, rec.ID, today); err != nil {
		return nil, err
	}

	return mergeSnapshots(cached, fresh), nil
}

// waitForProgress implements state E: poll until an in-process single-flight
// slot appears, the database shows persisted snapshots, or the wait
// deadline elapses
func (s *Svc) waitForProgress(ctx context.Context, owner, name, key string) ([]domain.Snapshot, error) {
	s.lockWaits.Add(1)
	deadline := time.Now().Add(s.cfg.LockWaitTimeout)
	ticker := time.NewTicker(s.cfg.LockWaitInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		inf, ok := s.inflight[key]
		s.mu.Unlock()
		if ok {
			select {
			case <-inf.done:
				return inf.result, inf.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if rec, found, err := s.Repo.GetByKey(ctx, owner, name); err == nil && found {
			if snaps, err := s.Repo.ListSnapshots(ctx, rec.ID); err == nil && len(snaps) > 0 {
				return snaps, nil
			}
		}

		if time.Now().After(deadline) {
			s.lockTimeouts.Add(1)
			return nil, perr.WithField(
				perr.Newf(perr.ErrorCodeUnavailable, "history: timed out waiting for %s/%s refresh", owner, name),
				"lock",
			)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeFunc binds the fetcher's ProbeFunc closure to this repo's upstream
// CountsAt call
func (s *Svc) probeFunc(owner, name string) fetcher.ProbeFunc {
	return func(ctx context.Context, dates []time.Time) (map[string]fetcher.CountTuple, error) {
		return s.upstream.CountsAt(ctx, owner, name, dates)
	}
}

func snapshotsFromPoints(points map[string]fetcher.CountTuple) []domain.Snapshot {
	out := make([]domain.Snapshot, 0, len(points))
	for dateStr, ct := range points {
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		out = append(out, domain.Snapshot{Date: d, CountTuple: ct})
	}
	return sortedSnapshots(out)
}

func sortedSnapshots(snaps []domain.Snapshot) []domain.Snapshot {
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Date.Before(snaps[j].Date) })
	return snaps
}

// mergeSnapshots combines cached and fresh sets keyed by date; on a
// colliding date the fresher fetch wins, per the Merge rule in spec.md §4.3
func mergeSnapshots(cached, fresh []domain.Snapshot) []domain.Snapshot {
	byDate := make(map[string]domain.Snapshot, len(cached)+len(fresh))
	for _, s := range cached {
		byDate[fetcher.DateKey(s.Date)] = s
	}
	for _, s := range fresh {
		byDate[fetcher.DateKey(s.Date)] = s
	}
	out := make([]domain.Snapshot, 0, len(byDate))
	for _, s := range byDate {
		out = append(out, s)
	}
	return sortedSnapshots(out)
}
