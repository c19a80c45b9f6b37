// Package github provides a batching GraphQL client against the GitHub v4 API
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	perr "reposcope/internal/platform/errors"
	"reposcope/internal/platform/logger"
)

const (
	endpointDefault = "https://api.github.com/graphql"
	defaultTimeout  = 15 * time.Second
	defaultUA       = "reposcope-history"

	// maxCountsPerDate is the number of aliased search sub-queries issued per
	// probed date: issues created/closed, PRs created/closed/merged
	maxCountsPerDate = 5

	// maxBatchHardCap is a hard backstop independent of the fetcher's own
	// MAX_BATCH config, so a misconfigured caller can't build an unbounded
	// query string
	maxBatchHardCap = 50
)

// Options configures the Client
type Options struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration

	// Comma separated tokens; a single token is the common case, several
	// let load spread across a pool when quota is tight
	TokensCSV string

	// RatePerSecond paces outgoing requests locally; it never suppresses a
	// genuine rate limit error from upstream, only spaces requests to avoid
	// inviting one. Zero disables pacing
	RatePerSecond float64
	RateBurst     int
}

// Client is a GraphQL batch client with token rotation and local pacing.
// It never retries internally: a caller that wants retry semantics applies
// its own policy around the returned error
type Client struct {
	http    *http.Client
	opts    Options
	tokens  []string
	cur     atomic.Int32
	limiter *rate.Limiter
	log     logger.Logger

	requests atomic.Int64

	mu          sync.Mutex
	rlRemaining int
	rlResetAt   time.Time
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.Endpoint == "" {
		o.Endpoint = endpointDefault
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}

	var toks []string
	if s := strings.TrimSpace(o.TokensCSV); s != "" {
		for t := range strings.SplitSeq(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				toks = append(toks, t)
			}
		}
	}

	var limiter *rate.Limiter
	if o.RatePerSecond > 0 {
		burst := o.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(o.RatePerSecond), burst)
	}

	return &Client{
		http:    &http.Client{Timeout: o.Timeout},
		opts:    o,
		tokens:  toks,
		limiter: limiter,
		log:     *logger.Named("upstream.github"),
	}
}

// Requests returns the number of GraphQL POSTs issued so far
func (c *Client) Requests() int64 { return c.requests.Load() }

// RateLimit returns the most recently observed rate limit snapshot
func (c *Client) RateLimit() (remaining int, resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rlRemaining, c.rlResetAt
}

func (c *Client) nextToken() string {
	if len(c.tokens) == 0 {
		return ""
	}
	n := int(c.cur.Add(1))
	i := (n - 1) % len(c.tokens)
	if i < 0 {
		i += len(c.tokens)
	}
	return c.tokens[i]
}

func (c *Client) setRateLimit(rl *gqlRateLimit) {
	if rl == nil {
		return
	}
	c.mu.Lock()
	c.rlRemaining = rl.Remaining
	c.rlResetAt = rl.ResetAt
	c.mu.Unlock()
}

// post sends a single GraphQL request and decodes the envelope. It applies
// local pacing before every request but performs no retries of its own
func (c *Client) post(ctx context.Context, query string) (*gqlEnvelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "github graphql rate limiter wait")
		}
	}

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "github graphql encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnknown, "github graphql new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if tok := c.nextToken(); tok != "" {
		req.Header.Set("Authorization", "bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.requests.Add(1)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "github graphql transport error")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Error().Err(cerr).Msg("github graphql close body failed")
		}
	}()

	lat := time.Since(start)
	if resp.StatusCode == http.StatusTooManyRequests {
		_ = drainAndClose(resp.Body)
		return nil, perr.Newf(perr.ErrorCodeTooManyRequests, "github graphql http 429")
	}
	if resp.StatusCode >= 500 {
		body := readSmall(resp.Body)
		return nil, perr.Newf(perr.ErrorCodeUnavailable, "github graphql http %d: %s", resp.StatusCode, body)
	}
	if resp.StatusCode != http.StatusOK {
		body := readSmall(resp.Body)
		return nil, perr.Newf(perr.ErrorCodeUnavailable, "github graphql unexpected status %d: %s", resp.StatusCode, body)
	}

	lim := io.LimitReader(resp.Body, 4<<20)
	raw, err := io.ReadAll(lim)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "github graphql read body")
	}

	var env gqlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeJSON, "github graphql decode envelope")
	}

	c.log.Debug().
		Int("status", resp.StatusCode).
		Dur("latency", lat).
		Int("gql_errors", len(env.Errors)).
		Msg("github graphql response")

	if len(env.Errors) > 0 {
		return &env, classifyGQLError(env.Errors[0])
	}
	return &env, nil
}

func readSmall(rc io.ReadCloser) string {
	b, _ := io.ReadAll(io.LimitReader(rc, 2048))
	s := strings.TrimSpace(string(b))
	return strings.ReplaceAll(s, "\n", " ")
}

func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	return rc.Close()
}
