package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"reposcope/internal/core/fetcher"
	perr "reposcope/internal/platform/errors"
)

// CountsAt measures C(d) for each date in dates in a single GraphQL request,
// via one aliased search sub-query per (date, metric) pair. Callers are
// expected to keep len(dates) within the fetcher's configured MAX_BATCH;
// maxBatchHardCap is only a backstop
func (c *Client) CountsAt(ctx context.Context, owner, name string, dates []time.Time) (map[string]fetcher.CountTuple, error) {
	if len(dates) == 0 {
		return map[string]fetcher.CountTuple{}, nil
	}
	if len(dates) > maxBatchHardCap {
		return nil, perr.InvalidArgf("github graphql: batch of %d dates exceeds maximum of %d", len(dates), maxBatchHardCap)
	}

	repo := owner + "/" + name
	dateForAlias := make(map[string]string, len(dates))

	var b strings.Builder
	b.WriteString("query {\n  rateLimit { remaining resetAt }\n")
	for i, d := range dates {
		dateStr := fetcher.DateKey(d)
		base := fmt.Sprintf("d%d", i)
		dateForAlias[base] = dateStr
		for j, q := range countsQueries(repo, dateStr) {
			fmt.Fprintf(&b, "  %s_%d: search(query: \"%s\", type: ISSUE) { issueCount }\n", base, j, escapeQueryString(q))
		}
	}
	b.WriteString("}")

	env, err := c.post(ctx, b.String())
	if err != nil {
		return nil, err
	}

	var data countsData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "github graphql decode counts")
	}
	c.setRateLimit(data.RateLimit)

	out := make(map[string]fetcher.CountTuple, len(dates))
	for base, dateStr := range dateForAlias {
		out[dateStr] = fetcher.CountTuple{
			IssuesCreatedBefore: data.Aliases[base+"_0"].IssueCount,
			IssuesClosedBefore:  data.Aliases[base+"_1"].IssueCount,
			PRsCreatedBefore:    data.Aliases[base+"_2"].IssueCount,
			PRsClosedBefore:     data.Aliases[base+"_3"].IssueCount,
			PRsMergedBefore:     data.Aliases[base+"_4"].IssueCount,
		}
	}
	return out, nil
}

// countsQueries returns the maxCountsPerDate search query strings for repo
// as of date, in the fixed order CountsAt relies on to assemble a CountTuple
func countsQueries(repo, date string) [maxCountsPerDate]string {
	// created:/closed:/merged: filters use "<" (before) semantics throughout;
	// the upstream treats the date itself as not-yet-included
	return [maxCountsPerDate]string{
		fmt.Sprintf("repo:%s is:issue created:<%s", repo, date),
		fmt.Sprintf("repo:%s is:issue is:closed closed:<%s", repo, date),
		fmt.Sprintf("repo:%s is:pr created:<%s", repo, date),
		fmt.Sprintf("repo:%s is:pr is:closed closed:<%s", repo, date),
		fmt.Sprintf("repo:%s is:pr is:merged merged:<%s", repo, date),
	}
}

// RepositoryInfo fetches a repository's creation date and lifetime issue
// and PR totals, used to bound the discovery window and size estimates
func (c *Client) RepositoryInfo(ctx context.Context, owner, name string) (RepoInfo, error) {
	query := fmt.Sprintf(`query {
  rateLimit { remaining resetAt }
  repository(owner: "%s", name: "%s") {
    createdAt
    issues { totalCount }
    pullRequests { totalCount }
  }
}`, escapeQueryString(owner), escapeQueryString(name))

	env, err := c.post(ctx, query)
	if err != nil {
		return RepoInfo{}, err
	}

	var data repositoryData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return RepoInfo{}, perr.Wrapf(err, perr.ErrorCodeJSON, "github graphql decode repository")
	}
	c.setRateLimit(data.RateLimit)

	if data.Repository == nil {
		return RepoInfo{}, perr.NotFoundf("github graphql: repository %s/%s not found", owner, name)
	}
	return RepoInfo{
		CreatedAt:   data.Repository.CreatedAt,
		TotalIssues: data.Repository.Issues.TotalCount,
		TotalPRs:    data.Repository.PullRequests.TotalCount,
	}, nil
}
