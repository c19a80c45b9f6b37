// Package api provides the HTTP API for the history service
package api

import (
	"reposcope/internal/adapters/upstream/github"
	"reposcope/internal/core/fetcher"
	"reposcope/internal/modkit"
	"reposcope/internal/modkit/httpkit"
	"reposcope/internal/modkit/module"
	"reposcope/internal/platform/config"
	"reposcope/internal/platform/logger"
	phttp "reposcope/internal/platform/net/http"
	"reposcope/internal/platform/store"

	historymod "reposcope/internal/services/history/module"
	historysvc "reposcope/internal/services/history/service"
	"reposcope/internal/services/history/lock"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	Upstream       *github.Client
	EnableProfiler bool

	LockConfig    lock.Config
	ServiceConfig historysvc.Config
	FetchConfig   fetcher.Config
}

// Mount mounts the API service onto the given router
func Mount(r phttp.Router, opt Options) {
	deps := modkit.Deps{
		Cfg: opt.Config,
		PG:  opt.Store.PG,
	}

	mods := []module.Module{
		historymod.New(deps, opt.Upstream, opt.LockConfig, opt.ServiceConfig, opt.FetchConfig),
	}

	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		for _, m := range mods {
			module.Register(m.Name(), m.Ports())
			m.MountRoutes(api)
		}
	})
}
