package store

import "time"

// Config aggregates backend configuration. The history service only ever
// talks to Postgres (snapshots, repositories, locks); there is no columnar
// or cache backend in this domain
type Config struct {
	AppName string

	PG PGConfig
}

// PGConfig configures postgres connectivity and tracing
type PGConfig struct {
	Enabled     bool
	URL         string
	MaxConns    int32
	LogSQL      bool
	SlowQueryMs int

	// Guard/boot knobs:
	ConnectRetries int           // not read; the pg opener makes up to 20 ping attempts with 150ms-2s backoff
	PingTimeout    time.Duration // not read; the pg opener uses a fixed 3s timeout per ping
}
