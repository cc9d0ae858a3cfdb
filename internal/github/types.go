package github

import "time"

// RateLimit mirrors the rateLimit block the GraphQL API attaches to every
// response. Remaining and ResetAt drive the proactive throttle.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Cost      int       `json:"cost"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// PageInfo carries the cursor state for search pagination.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// Owner is the nested owner object on a repository node.
type Owner struct {
	Login string `json:"login"`
}

// Language is the nested primaryLanguage object on a repository node.
type Language struct {
	Name string `json:"name"`
}

// BranchRef is the nested defaultBranchRef object on a repository node.
type BranchRef struct {
	Name string `json:"name"`
}

// Repository is one search result node. Nested objects and pushedAt are
// nullable on the wire and decode into pointers; callers must not assume
// presence.
type Repository struct {
	ID               string     `json:"id"`
	NameWithOwner    string     `json:"nameWithOwner"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	IsFork           bool       `json:"isFork"`
	IsArchived       bool       `json:"isArchived"`
	IsPrivate        bool       `json:"isPrivate"`
	StargazerCount   int        `json:"stargazerCount"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	PushedAt         *time.Time `json:"pushedAt"`
	Owner            *Owner     `json:"owner"`
	PrimaryLanguage  *Language  `json:"primaryLanguage"`
	DefaultBranchRef *BranchRef `json:"defaultBranchRef"`
}

// OwnerLogin returns the owner login or the empty string when the owner
// object is absent.
func (r *Repository) OwnerLogin() string {
	if r.Owner == nil {
		return ""
	}
	return r.Owner.Login
}

// LanguageName returns the primary language name, nil when absent.
func (r *Repository) LanguageName() *string {
	if r.PrimaryLanguage == nil {
		return nil
	}
	return &r.PrimaryLanguage.Name
}

// DefaultBranch returns the default branch name, nil when absent.
func (r *Repository) DefaultBranch() *string {
	if r.DefaultBranchRef == nil {
		return nil
	}
	return &r.DefaultBranchRef.Name
}

// SearchResult is the search block of a query response.
type SearchResult struct {
	RepositoryCount int           `json:"repositoryCount"`
	PageInfo        PageInfo      `json:"pageInfo"`
	Nodes           []*Repository `json:"nodes"`
}

// graphQLError is one entry of the errors array a GraphQL response may carry
// alongside partial data.
type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type responseData struct {
	RateLimit *RateLimit   `json:"rateLimit"`
	Search    SearchResult `json:"search"`
}

type responseEnvelope struct {
	Data   *responseData  `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type requestPayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}
