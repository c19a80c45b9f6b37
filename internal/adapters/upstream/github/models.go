package github

import (
	"encoding/json"
	"time"
)

// RepoInfo is the subset of repository metadata the history pipeline needs
type RepoInfo struct {
	CreatedAt   time.Time
	TotalIssues int64
	TotalPRs    int64
}

// gqlEnvelope is the outer shape of every GraphQL response
type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type gqlError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// countsData is the shape of the counts-probe query: a rateLimit field plus
// one aliased search field per (date, metric) pair
type countsData struct {
	RateLimit *gqlRateLimit          `json:"rateLimit"`
	Aliases   map[string]gqlSearch   `json:"-"`
	Raw       map[string]json.RawMessage `json:"-"`
}

func (d *countsData) UnmarshalJSON(b []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Raw = raw
	if rl, ok := raw["rateLimit"]; ok {
		var r gqlRateLimit
		if err := json.Unmarshal(rl, &r); err == nil {
			d.RateLimit = &r
		}
	}
	d.Aliases = make(map[string]gqlSearch, len(raw))
	for k, v := range raw {
		if k == "rateLimit" {
			continue
		}
		var s gqlSearch
		if err := json.Unmarshal(v, &s); err == nil {
			d.Aliases[k] = s
		}
	}
	return nil
}

type gqlRateLimit struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type gqlSearch struct {
	IssueCount int64 `json:"issueCount"`
}

// repositoryData is the shape of the repository-info query
type repositoryData struct {
	RateLimit  *gqlRateLimit   `json:"rateLimit"`
	Repository *gqlRepository  `json:"repository"`
}

type gqlRepository struct {
	CreatedAt    time.Time      `json:"createdAt"`
	Issues       gqlCountHolder `json:"issues"`
	PullRequests gqlCountHolder `json:"pullRequests"`
}

type gqlCountHolder struct {
	TotalCount int64 `json:"totalCount"`
}
