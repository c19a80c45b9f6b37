package module

import (
	"context"
	"time"

	"reposcope/internal/adapters/upstream/github"
	"reposcope/internal/services/history/domain"
	historysvc "reposcope/internal/services/history/service"
)

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

type adaptHistoryPort struct{ svc historysvc.Service }

// GetTimeline returns a sorted, gap-filled timeline for owner/name
func (a adaptHistoryPort) GetTimeline(ctx context.Context, in domain.TimelineInput) ([]domain.Snapshot, error) {
	return a.svc.GetTimeline(ctx, in)
}

// GetStats reports cumulative cache/lock counters
func (a adaptHistoryPort) GetStats() domain.Stats {
	return a.svc.GetStats()
}

// upstreamAdapter narrows the GraphQL batch client to domain.Upstream; the
// two RepoInfo shapes are structurally identical but distinct types, so a
// field-by-field copy is the seam between the adapter package and the
// service's own domain
type upstreamAdapter struct{ client *github.Client }

func (u upstreamAdapter) RepositoryInfo(ctx context.Context, owner, name string) (domain.RepoInfo, error) {
	info, err := u.client.RepositoryInfo(ctx, owner, name)
	if err != nil {
		return domain.RepoInfo{}, err
	}
	return domain.RepoInfo{
		CreatedAt:   info.CreatedAt,
		TotalIssues: info.TotalIssues,
		TotalPRs:    info.TotalPRs,
	}, nil
}

func (u upstreamAdapter) CountsAt(ctx context.Context, owner, name string, dates []time.Time) (map[string]domain.CountTuple, error) {
	return u.client.CountsAt(ctx, owner, name, dates)
}
