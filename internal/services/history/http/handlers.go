// Package http provides http transport for the history service
package http

import (
	stdhttp "net/http"

	"reposcope/internal/modkit/httpkit"
	"reposcope/internal/services/history/domain"
	svc "reposcope/internal/services/history/service"
)

// Register mounts history endpoints on the given router
func Register(r httpkit.Router, s svc.Service) {
	h := &handlers{svc: s}

	// full or refreshed activity timeline for a repository
	httpkit.PostJSON[domain.TimelineInput](r, "/timeline", h.timeline)

	// operator-facing cache and lock counters
	httpkit.GetJSON[struct{}](r, "/stats", h.stats)
}

type handlers struct{ svc svc.Service }

func (h *handlers) timeline(r *stdhttp.Request, in domain.TimelineInput) (any, error) {
	return h.svc.GetTimeline(r.Context(), in)
}

func (h *handlers) stats(_ *stdhttp.Request, _ struct{}) (any, error) {
	return h.svc.GetStats(), nil
}
