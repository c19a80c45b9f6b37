// Package module wires the history service into the API using modkit
package module

import (
	"net/http"

	"reposcope/internal/adapters/upstream/github"
	"reposcope/internal/core/fetcher"
	modkit "reposcope/internal/modkit"
	"reposcope/internal/modkit/httpkit"
	historyhttp "reposcope/internal/services/history/http"
	"reposcope/internal/services/history/lock"
	historyrepo "reposcope/internal/services/history/repo"
	historysvc "reposcope/internal/services/history/service"
)

// Module implements the history module
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string

	mws       []func(http.Handler) http.Handler
	ports     any
	swaggerOn bool

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)

	svc historysvc.Service
}

// New constructs the history module. client is the upstream GraphQL batch
// client; lockCfg, svcCfg and fetchCfg fall back to their package defaults
// on zero value
func New(
	deps modkit.Deps,
	client *github.Client,
	lockCfg lock.Config,
	svcCfg historysvc.Config,
	fetchCfg fetcher.Config,
	opts ...modkit.Option,
) modkit.Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("history"), modkit.WithPrefix("/history")}, opts...)...)

	repoBinder := historyrepo.NewPG()
	lk := lock.New(deps.PG, lockCfg)
	svc := historysvc.New(deps.PG, repoBinder, upstreamAdapter{client: client}, lk, svcCfg, fetchCfg)

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		swaggerOn: b.SwaggerOn,
		subrouter: b.Subrouter,
		svc:       svc,
	}
	m.ports = adaptHistoryPort{svc: svc}

	external := b.Register
	m.register = func(r httpkit.Router) {
		historyhttp.Register(r, m.svc)
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes mounts the module routes on the given router
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return m.name }
