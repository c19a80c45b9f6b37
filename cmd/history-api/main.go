package main

import (
	"context"
	"time"

	"reposcope/internal/adapters/upstream/github"
	"reposcope/internal/core/fetcher"
	"reposcope/internal/platform/config"
	"reposcope/internal/platform/logger"
	phttp "reposcope/internal/platform/net/http"
	"reposcope/internal/platform/store"

	"reposcope/internal/api"
	"reposcope/internal/services/history/lock"
	historysvc "reposcope/internal/services/history/service"
)

// millis converts a millisecond count read from the environment into a
// time.Duration; the wire/env contract for lock timing is stated in whole
// milliseconds, matching the fetcher's own UTC-millisecond convention
func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func main() {
	// service-scoped config for HTTP etc (CORE_API_*)
	root := config.New()
	apiCfg := root.Prefix("CORE_API_")

	// db config lives under SERVICE_PGSQL_*
	dbCfg := root.Prefix("SERVICE_PGSQL_")

	// history-specific tuning lives under HISTORY_*
	histCfg := root.Prefix("HISTORY_")

	// bring up logging early
	l := logger.Get()

	dsn := root.MustString("DB_URL")
	st, err := store.Open(
		context.Background(),
		store.Config{
			PG: store.PGConfig{
				Enabled:     true,
				URL:         dsn,
				MaxConns:    int32(dbCfg.MayInt("MAX_CONNS", 4)),
				SlowQueryMs: dbCfg.MayInt("SLOW_MS", 500),
				LogSQL:      dbCfg.MayBool("LOG_SQL", true),
			},
		},
		store.WithLogger(*logger.Get()),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	token := root.MustString("UPSTREAM_TOKEN")
	client := github.NewClient(github.Options{
		TokensCSV:     token,
		RatePerSecond: histCfg.MayFloat64("UPSTREAM_RATE_PER_SECOND", 2),
		RateBurst:     histCfg.MayInt("UPSTREAM_RATE_BURST", 4),
	})

	fetchCfg := fetcher.Config{
		Threshold:       int64(histCfg.MayInt("BINARY_SEARCH_THRESHOLD", 50)),
		MaxIntervalDays: int64(histCfg.MayInt("BINARY_SEARCH_MAX_INTERVAL", 30)),
		MinIntervalDays: int64(histCfg.MayInt("BINARY_SEARCH_MIN_INTERVAL", 1)),
		MaxBatch:        histCfg.MayInt("BINARY_SEARCH_MAX_BATCH", 12),
	}

	lockCfg := lock.Config{
		LockTimeout:       millis(histCfg.MayInt("LOCK_TIMEOUT_MS", 120_000)),
		HeartbeatInterval: millis(histCfg.MayInt("HEARTBEAT_INTERVAL_MS", 30_000)),
	}

	svcCfg := historysvc.Config{
		CacheFreshness:   histCfg.MayDuration("CACHE_FRESHNESS", 24*time.Hour),
		LockWaitTimeout:  millis(histCfg.MayInt("LOCK_WAIT_TIMEOUT_MS", 120_000)),
		LockWaitInterval: millis(histCfg.MayInt("LOCK_WAIT_INTERVAL_MS", 2_000)),
	}

	// http server (listens on CORE_API_API_PORT, default :4000)
	srv := phttp.NewServer(apiCfg)

	api.Mount(
		srv.Router(),
		api.Options{
			Config:         apiCfg,
			Store:          st,
			Logger:         l,
			Upstream:       client,
			EnableProfiler: apiCfg.MayBool("PROFILER", true),
			LockConfig:     lockCfg,
			ServiceConfig:  svcCfg,
			FetchConfig:    fetchCfg,
		},
	)

	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
