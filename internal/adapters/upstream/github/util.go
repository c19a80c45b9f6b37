package github

import (
	"strings"

	perr "reposcope/internal/platform/errors"
)

// escapeQueryString escapes a value for embedding inside a GraphQL string
// literal, per the spec's backslash-then-quote escaping rule
func escapeQueryString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// classifyGQLError maps a single GraphQL error entry to a platform error code.
// GitHub's GraphQL API tags errors with a "type" field; unknown types are
// treated as protocol errors since the shape wasn't the one we expected
func classifyGQLError(e gqlError) error {
	switch strings.ToUpper(e.Type) {
	case "NOT_FOUND":
		return perr.NotFoundf("github graphql: %s", e.Message)
	case "RATE_LIMITED":
		return perr.Newf(perr.ErrorCodeTooManyRequests, "github graphql: %s", e.Message)
	case "SERVICE_UNAVAILABLE", "TIMEOUT":
		return perr.Unavailablef("github graphql: %s", e.Message)
	default:
		return perr.JSONErrf("github graphql: %s", e.Message)
	}
}

// IsNotFound reports whether err resolves to the NotFound platform code
func IsNotFound(err error) bool { return perr.IsCode(err, perr.ErrorCodeNotFound) }

// IsRateLimited reports whether err resolves to the TooManyRequests platform code
func IsRateLimited(err error) bool { return perr.IsCode(err, perr.ErrorCodeTooManyRequests) }

// IsTransient reports whether err resolves to the Unavailable platform code
func IsTransient(err error) bool { return perr.IsCode(err, perr.ErrorCodeUnavailable) }
