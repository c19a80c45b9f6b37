// Package fetcher implements the adaptive resolution discovery algorithm:
// segment subdivision with batched probes, converging on a dense timeline
// at the lowest possible probe count. It has no I/O of its own; callers
// inject a ProbeFunc bound to whatever upstream client they use
package fetcher

import (
	"context"
	"time"

	ptime "reposcope/internal/platform/time"
)

// CountTuple is C(d): counts of items whose relevant timestamp is strictly
// before d. Every component is non-decreasing as d increases
type CountTuple struct {
	IssuesCreatedBefore int64
	IssuesClosedBefore  int64
	PRsCreatedBefore    int64
	PRsClosedBefore     int64
	PRsMergedBefore     int64
}

// Segment is a runtime-only interval with both endpoint counts attached
type Segment struct {
	Start       time.Time
	StartCounts CountTuple
	End         time.Time
	EndCounts   CountTuple
}

// ProbeFunc measures C(d) for a batch of dates, returning a map keyed by
// ISO date (YYYY-MM-DD). Implementations must not retry internally
type ProbeFunc func(ctx context.Context, dates []time.Time) (map[string]CountTuple, error)

// Config holds the subdivision thresholds, all in whole days except
// Threshold which is a count-delta ceiling
type Config struct {
	// Threshold is the maximum tolerated component delta within a segment
	// before it must be subdivided
	Threshold int64

	// MaxIntervalDays forces subdivision regardless of count delta
	MaxIntervalDays int64

	// MinIntervalDays segments at or below this length are never subdivided
	MinIntervalDays int64

	// MaxBatch caps probe dates sent to ProbeFunc per call
	MaxBatch int
}

// DefaultConfig returns the spec defaults
func DefaultConfig() Config {
	return Config{
		Threshold:       50,
		MaxIntervalDays: 30,
		MinIntervalDays: 1,
		MaxBatch:        12,
	}
}

// DateKey returns the UTC-day ISO date string used as the map key
func DateKey(t time.Time) string { return ptime.UTCDay(t).Format("2006-01-02") }

// MaxComponentDelta is the maximum absolute difference across all five
// components of a and b
func MaxComponentDelta(a, b CountTuple) int64 {
	m := absDiff(a.IssuesCreatedBefore, b.IssuesCreatedBefore)
	if v := absDiff(a.IssuesClosedBefore, b.IssuesClosedBefore); v > m {
		m = v
	}
	if v := absDiff(a.PRsCreatedBefore, b.PRsCreatedBefore); v > m {
		m = v
	}
	if v := absDiff(a.PRsClosedBefore, b.PRsClosedBefore); v > m {
		m = v
	}
	if v := absDiff(a.PRsMergedBefore, b.PRsMergedBefore); v > m {
		m = v
	}
	return m
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// ShouldSubdivide decides whether a segment must be split further
func ShouldSubdivide(s Segment, cfg Config) bool {
	days := ptime.DaysBetween(s.Start, s.End)
	if days <= cfg.MinIntervalDays {
		return false
	}
	if days > cfg.MaxIntervalDays {
		return true
	}
	return MaxComponentDelta(s.StartCounts, s.EndCounts) > cfg.Threshold
}

// Discover reconstructs a dense timeline covering [start, end] with the
// minimum number of upstream probes, per the segment-subdivision algorithm.
// On any probe error, progress is discarded and the error bubbles unchanged
// so the caller knows not to persist a partial result
func Discover(ctx context.Context, start, end time.Time, probe ProbeFunc, cfg Config) (map[string]CountTuple, error) {
	start = ptime.UTCDay(start)
	end = ptime.UTCDay(end)
	known := make(map[string]CountTuple)

	if end.Before(start) {
		return known, nil
	}

	endpoints := []time.Time{start}
	if !end.Equal(start) {
		endpoints = append(endpoints, end)
	}
	if err := probeBatched(ctx, probe, endpoints, known, cfg.MaxBatch); err != nil {
		return nil, err
	}

	startCounts, haveStart := known[DateKey(start)]
	if !haveStart {
		// either reply is missing: return whatever was obtained and stop
		return known, nil
	}
	if end.Equal(start) {
		return known, nil // single probe; zero segments entered
	}
	endCounts, haveEnd := known[DateKey(end)]
	if !haveEnd {
		return known, nil
	}

	active := []Segment{{Start: start, StartCounts: startCounts, End: end, EndCounts: endCounts}}

	for len(active) > 0 {
		var subdivide []Segment
		for _, s := range active {
			if ShouldSubdivide(s, cfg) {
				subdivide = append(subdivide, s)
			}
			// segments not selected are terminal and dropped from further
			// consideration; only known points (not segments) are emitted
		}
		if len(subdivide) == 0 {
			break
		}

		mids := make(map[string]time.Time, len(subdivide))
		for _, s := range subdivide {
			mid := ptime.MidpointDay(s.Start, s.End)
			k := DateKey(mid)
			if _, ok := known[k]; ok {
				continue
			}
			mids[k] = mid // dedup across concurrent segments in this iteration
		}
		if len(mids) > 0 {
			dates := make([]time.Time, 0, len(mids))
			for _, d := range mids {
				dates = append(dates, d)
			}
			if err := probeBatched(ctx, probe, dates, known, cfg.MaxBatch); err != nil {
				return nil, err
			}
		}

		next := make([]Segment, 0, len(subdivide)*2)
		for _, s := range subdivide {
			mid := ptime.MidpointDay(s.Start, s.End)
			if mid.Equal(s.Start) {
				continue // flooring collapsed to start: terminal despite the delta
			}
			midCounts, ok := known[DateKey(mid)]
			if !ok {
				continue // upstream omitted this midpoint; treat as terminal
			}
			next = append(next, Segment{Start: s.Start, StartCounts: s.StartCounts, End: mid, EndCounts: midCounts})
			next = append(next, Segment{Start: mid, StartCounts: midCounts, End: s.End, EndCounts: s.EndCounts})
		}
		active = next
	}

	return known, nil
}

// probeBatched issues probe in chunks of at most maxBatch dates, merging
// results into known. Dates the upstream returns outside the requested
// chunk are ignored rather than persisted as fabricated points
func probeBatched(ctx context.Context, probe ProbeFunc, dates []time.Time, known map[string]CountTuple, maxBatch int) error {
	if len(dates) == 0 {
		return nil
	}
	n := maxBatch
	if n <= 0 || n > len(dates) {
		n = len(dates)
	}
	for i := 0; i < len(dates); i += n {
		j := min(i+n, len(dates))
		chunk := dates[i:j]

		res, err := probe(ctx, chunk)
		if err != nil {
			return err
		}

		want := make(map[string]struct{}, len(chunk))
		for _, d := range chunk {
			want[DateKey(d)] = struct{}{}
		}
		for k, v := range res {
			if _, ok := want[k]; !ok {
				continue
			}
			known[k] = v
		}
	}
	return nil
}
