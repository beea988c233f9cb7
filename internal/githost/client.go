// Package githost fetches pull request and issue metadata from GitHub over a
// primary GraphQL path with a REST fallback, paced by a rate-limit governor.
package githost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// requestTimeout bounds every outbound host API call.
const requestTimeout = 15 * time.Second

// Host is the read/write surface the triage pipeline needs from a code host.
type Host interface {
	// ListOpen returns lightweight refs for up to max open PRs, most recently
	// updated first.
	ListOpen(ctx context.Context, max int) ([]PRRef, error)

	// FetchDetails returns full records for the given PR numbers. PRs that
	// fail to fetch on the fallback path are omitted, never fatal.
	FetchDetails(ctx context.Context, numbers []int) ([]PRRecord, error)

	// FetchCodeowners returns the parsed CODEOWNERS rules, or nil when the
	// repository has none.
	FetchCodeowners(ctx context.Context) (*CodeownersFile, error)

	// FetchVisionDoc returns the repository vision/roadmap document, or ""
	// when none exists.
	FetchVisionDoc(ctx context.Context) (string, error)

	// ListIssues returns up to max open issues.
	ListIssues(ctx context.Context, max int) ([]IssueRecord, error)

	// FetchDiff returns the unified diff of a PR, or "" when unavailable.
	FetchDiff(ctx context.Context, number int) (string, error)

	// LiveState returns the current state of a PR or issue: "open", "closed",
	// or "merged".
	LiveState(ctx context.Context, number int, isPR bool) (string, error)

	// ClosePR closes a pull request, optionally leaving a comment first.
	ClosePR(ctx context.Context, number int, comment string) error

	// CloseIssue closes an issue, optionally leaving a comment first.
	CloseIssue(ctx context.Context, number int, comment string) error

	// MergePR merges a pull request with the given method (merge, squash, rebase).
	MergePR(ctx context.Context, number int, method string) error

	// AddLabels adds labels to a PR or issue.
	AddLabels(ctx context.Context, number int, labels []string) error

	// FetchUser returns the public profile of a user.
	FetchUser(ctx context.Context, login string) (*UserProfile, error)
}

// Client implements Host for GitHub. The GraphQL client is created lazily;
// both clients share one governor-paced transport.
type Client struct {
	rest      *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	gqlHTTP   *http.Client
	owner     string
	repo      string
	governor  *RateLimitGovernor
}

// NewClient creates a GitHub host client authenticated with a personal access
// token. All requests pass through the go-github-ratelimit middleware for
// secondary limits and the governor transport for the primary limit.
func NewClient(owner, repo, token string) *Client {
	governor := NewRateLimitGovernor()
	base := newGovernedTransport(governor, github_ratelimit.NewClient(nil).Transport)
	client := gh.NewClient(&http.Client{Transport: base, Timeout: requestTimeout}).WithAuthToken(token)

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	gqlHTTP := &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: base},
		Timeout:   requestTimeout,
	}

	return &Client{
		rest:     client,
		gqlHTTP:  gqlHTTP,
		owner:    owner,
		repo:     repo,
		governor: governor,
	}
}

// NewClientWithTokenSource creates a client whose token is minted per-request,
// used for GitHub App installation tokens.
func NewClientWithTokenSource(owner, repo string, ts oauth2.TokenSource) *Client {
	governor := NewRateLimitGovernor()
	base := newGovernedTransport(governor, github_ratelimit.NewClient(nil).Transport)
	authed := &oauth2.Transport{Source: ts, Base: base}
	httpClient := &http.Client{Transport: authed, Timeout: requestTimeout}

	return &Client{
		rest:     gh.NewClient(httpClient),
		gqlHTTP:  httpClient,
		owner:    owner,
		repo:     repo,
		governor: governor,
	}
}

// Governor exposes the shared rate-limit governor.
func (c *Client) Governor() *RateLimitGovernor { return c.governor }

// Repo returns "owner/name".
func (c *Client) Repo() string { return c.owner + "/" + c.repo }

// gql returns (and lazily creates) the GraphQL client. Thread-safe via sync.Once.
func (c *Client) gql() *githubv4.Client {
	c.gqlOnce.Do(func() {
		c.gqlClient = githubv4.NewClient(c.gqlHTTP)
	})
	return c.gqlClient
}

// ListOpen returns refs for up to max open PRs. GraphQL first; any primary
// error triggers one full REST fallback, whose failure propagates.
func (c *Client) ListOpen(ctx context.Context, max int) ([]PRRef, error) {
	refs, err := c.listOpenGraphQL(ctx, max)
	if err == nil {
		return refs, nil
	}
	slog.Warn("graphql list failed, falling back to REST", "error", err)
	return c.listOpenREST(ctx, max)
}

// FetchDetails returns full records for the given numbers. The primary
// GraphQL path loads all fields of up to 100 PRs per round-trip; any error
// there falls back to REST for the whole operation.
func (c *Client) FetchDetails(ctx context.Context, numbers []int) ([]PRRecord, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	records, err := c.fetchDetailsGraphQL(ctx, numbers)
	if err == nil {
		return records, nil
	}
	slog.Warn("graphql detail fetch failed, falling back to REST", "error", err)
	return c.fetchDetailsREST(ctx, numbers)
}

// FetchDiff returns the unified diff for a PR.
func (c *Client) FetchDiff(ctx context.Context, number int) (string, error) {
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return "", err
	}
	diff, _, err := c.rest.PullRequests.GetRaw(ctx, c.owner, c.repo, number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", fmt.Errorf("fetching diff for #%d: %w", number, err)
	}
	return diff, nil
}

// visionDocPaths are tried in order when looking up the repository vision document.
var visionDocPaths = []string{"VISION.md", "ROADMAP.md", ".github/VISION.md", "docs/VISION.md"}

// FetchVisionDoc returns the first vision/roadmap document found in the
// repository, or "" when none exists.
func (c *Client) FetchVisionDoc(ctx context.Context) (string, error) {
	for _, path := range visionDocPaths {
		content, err := c.fetchFileContent(ctx, path)
		if err == nil && content != "" {
			return content, nil
		}
	}
	return "", nil
}

func (c *Client) fetchFileContent(ctx context.Context, path string) (string, error) {
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return "", err
	}
	file, _, _, err := c.rest.Repositories.GetContents(ctx, c.owner, c.repo, path, nil)
	if err != nil || file == nil {
		return "", fmt.Errorf("fetching %s: %w", path, err)
	}
	return file.GetContent()
}

// LiveState re-fetches the current state of a PR or issue before a mutating
// action: "open", "closed", or "merged".
func (c *Client) LiveState(ctx context.Context, number int, isPR bool) (string, error) {
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return "", err
	}
	if isPR {
		pr, _, err := c.rest.PullRequests.Get(ctx, c.owner, c.repo, number)
		if err != nil {
			return "", fmt.Errorf("fetching PR #%d state: %w", number, err)
		}
		if pr.GetMerged() {
			return "merged", nil
		}
		return pr.GetState(), nil
	}
	issue, _, err := c.rest.Issues.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return "", fmt.Errorf("fetching issue #%d state: %w", number, err)
	}
	return issue.GetState(), nil
}

// ClosePR closes a pull request, posting comment first when non-empty.
func (c *Client) ClosePR(ctx context.Context, number int, comment string) error {
	if comment != "" {
		if err := c.postComment(ctx, number, comment); err != nil {
			return err
		}
	}
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return err
	}
	_, _, err := c.rest.PullRequests.Edit(ctx, c.owner, c.repo, number, &gh.PullRequest{
		State: gh.Ptr("closed"),
	})
	if err != nil {
		return fmt.Errorf("closing PR #%d: %w", number, err)
	}
	return nil
}

// CloseIssue closes an issue, posting comment first when non-empty.
func (c *Client) CloseIssue(ctx context.Context, number int, comment string) error {
	if comment != "" {
		if err := c.postComment(ctx, number, comment); err != nil {
			return err
		}
	}
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return err
	}
	_, _, err := c.rest.Issues.Edit(ctx, c.owner, c.repo, number, &gh.IssueRequest{
		State: gh.Ptr("closed"),
	})
	if err != nil {
		return fmt.Errorf("closing issue #%d: %w", number, err)
	}
	return nil
}

// MergePR merges a pull request. method is one of merge, squash, rebase.
func (c *Client) MergePR(ctx context.Context, number int, method string) error {
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return err
	}
	if method == "" {
		method = "merge"
	}
	_, _, err := c.rest.PullRequests.Merge(ctx, c.owner, c.repo, number, "", &gh.PullRequestOptions{
		MergeMethod: method,
	})
	if err != nil {
		return fmt.Errorf("merging PR #%d: %w", number, err)
	}
	return nil
}

// AddLabels adds labels to a PR or issue.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return err
	}
	_, _, err := c.rest.Issues.AddLabelsToIssue(ctx, c.owner, c.repo, number, labels)
	if err != nil {
		return fmt.Errorf("labeling #%d: %w", number, err)
	}
	return nil
}

// FetchUser returns the public profile of a user.
func (c *Client) FetchUser(ctx context.Context, login string) (*UserProfile, error) {
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return nil, err
	}
	u, _, err := c.rest.Users.Get(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", login, err)
	}
	return &UserProfile{
		Login:       u.GetLogin(),
		Followers:   u.GetFollowers(),
		PublicRepos: u.GetPublicRepos(),
		CreatedAt:   u.GetCreatedAt().Time,
	}, nil
}

func (c *Client) postComment(ctx context.Context, number int, body string) error {
	if err := c.governor.WaitIfNeeded(ctx); err != nil {
		return err
	}
	_, _, err := c.rest.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("commenting on #%d: %w", number, err)
	}
	return nil
}

// governedTransport probes the governor before each request and feeds the
// rate-limit headers of each response back into it.
type governedTransport struct {
	governor *RateLimitGovernor
	base     http.RoundTripper
}

func newGovernedTransport(g *RateLimitGovernor, base http.RoundTripper) *governedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &governedTransport{governor: g, base: base}
}

func (t *governedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.governor.WaitIfNeeded(req.Context()); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp != nil {
		t.governor.UpdateFromHeaders(resp.Header)
	}
	return resp, err
}

// ParseRepo splits "owner/name" into its parts.
func ParseRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// Verify Client implements Host at compile time.
var _ Host = (*Client)(nil)
