package github

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRetriesExhausted is returned when every attempt of a query failed with a
// transient fault. It wraps the last observed failure.
var ErrRetriesExhausted = errors.New("github: retry attempts exhausted")

// HTTPError is an HTTP failure carrying the status and body. Fatal statuses
// surface it directly; retryable ones carry it inside ErrRetriesExhausted
// once attempts run out. The body is preserved for the audit trail.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("github: graphql request failed (%d): %s", e.StatusCode, e.Body)
}

// GraphQLError is a non-retryable application-level failure carried in the
// errors array of an otherwise well-formed response.
type GraphQLError struct {
	Errors []graphQLError
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, gqlErr := range e.Errors {
		if gqlErr.Type != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", gqlErr.Type, gqlErr.Message))
			continue
		}
		msgs = append(msgs, gqlErr.Message)
	}
	return "github: graphql errors: " + strings.Join(msgs, "; ")
}

// retryableStatuses lists the HTTP codes worth retrying: rate limiting,
// forbidden (GitHub signals secondary limits as 403), and server-side faults.
var retryableStatuses = map[int]struct{}{
	403: {},
	429: {},
	500: {},
	502: {},
	503: {},
	504: {},
}

func isRetryableStatus(code int) bool {
	_, ok := retryableStatuses[code]
	return ok
}

// retryableErrorTypes are GraphQL error type codes that indicate a transient
// condition.
var retryableErrorTypes = map[string]struct{}{
	"RATE_LIMITED":        {},
	"SERVICE_UNAVAILABLE": {},
	"ABUSE_DETECTED":      {},
}

// errorsAreRetryable classifies application-level errors. The message
// substring scan is a compatibility choice: GitHub does not expose structured
// codes for every transient condition, so wording-based matching is the only
// signal available for some of them.
func errorsAreRetryable(errs []graphQLError) bool {
	for _, gqlErr := range errs {
		if _, ok := retryableErrorTypes[strings.ToUpper(gqlErr.Type)]; ok {
			return true
		}
		msg := strings.ToLower(gqlErr.Message)
		switch {
		case strings.Contains(msg, "rate limit"):
			return true
		case strings.Contains(msg, "secondary rate limit"):
			return true
		case strings.Contains(msg, "timeout"):
			return true
		case strings.Contains(msg, "abuse"):
			return true
		}
	}
	return false
}
