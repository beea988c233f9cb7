package githost

import (
	"context"
	"fmt"
	"log/slog"

	gh "github.com/google/go-github/v82/github"
	"golang.org/x/sync/errgroup"
)

// restFanout bounds how many PRs are hydrated concurrently on the fallback path.
const restFanout = 5

func (c *Client) listOpenREST(ctx context.Context, max int) ([]PRRef, error) {
	opts := &gh.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var refs []PRRef
	for {
		prs, resp, err := c.rest.PullRequests.List(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing open PRs: %w", err)
		}
		for _, pr := range prs {
			refs = append(refs, PRRef{
				Number:    pr.GetNumber(),
				UpdatedAt: pr.GetUpdatedAt().Time,
				HeadSHA:   pr.GetHead().GetSHA(),
			})
			if max > 0 && len(refs) >= max {
				return refs, nil
			}
		}
		if resp.NextPage == 0 {
			return refs, nil
		}
		opts.Page = resp.NextPage
	}
}

// fetchDetailsREST hydrates each PR with four calls (details, files, checks,
// reviews) run in parallel per PR. Per-PR failures are logged and the PR is
// omitted; the operation itself never halts on one bad PR.
func (c *Client) fetchDetailsREST(ctx context.Context, numbers []int) ([]PRRecord, error) {
	results := make([]*PRRecord, len(numbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restFanout)
	for i, number := range numbers {
		g.Go(func() error {
			record, err := c.fetchOneREST(gctx, number)
			if err != nil {
				slog.Warn("skipping PR after fetch failure", "pr", number, "error", err)
				return nil
			}
			results[i] = record
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]PRRecord, 0, len(numbers))
	for _, r := range results {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records, nil
}

func (c *Client) fetchOneREST(ctx context.Context, number int) (*PRRecord, error) {
	var (
		pr      *gh.PullRequest
		files   []*gh.CommitFile
		reviews []*gh.PullRequestReview
	)

	// The four per-PR calls run in parallel; CI needs the head SHA so the
	// check/status lookups run after the details call inside the same group.
	g, gctx := errgroup.WithContext(ctx)
	prReady := make(chan struct{})
	var ciStatus CIStatus

	g.Go(func() error {
		var err error
		pr, _, err = c.rest.PullRequests.Get(gctx, c.owner, c.repo, number)
		close(prReady)
		if err != nil {
			return fmt.Errorf("fetching PR: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		files, err = c.listFiles(gctx, number)
		if err != nil {
			return fmt.Errorf("listing files: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		reviews, err = c.listReviews(gctx, number)
		if err != nil {
			return fmt.Errorf("listing reviews: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-prReady
		if pr == nil {
			return nil
		}
		var err error
		ciStatus, err = c.resolveCIStatus(gctx, pr.GetHead().GetSHA())
		if err != nil {
			return fmt.Errorf("resolving CI status: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	record := mapRESTPR(pr, files, reviews, ciStatus)
	return &record, nil
}

func (c *Client) listFiles(ctx context.Context, number int) ([]*gh.CommitFile, error) {
	var all []*gh.CommitFile
	opts := &gh.ListOptions{PerPage: 100}
	for {
		files, resp, err := c.rest.PullRequests.ListFiles(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listReviews(ctx context.Context, number int) ([]*gh.PullRequestReview, error) {
	var all []*gh.PullRequestReview
	opts := &gh.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := c.rest.PullRequests.ListReviews(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, reviews...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// resolveCIStatus maps check runs for the head SHA to an overall status.
// Any failed check run wins; all success means success; otherwise pending.
// When no check runs exist, the legacy combined commit status is consulted.
func (c *Client) resolveCIStatus(ctx context.Context, headSHA string) (CIStatus, error) {
	if headSHA == "" {
		return CIUnknown, nil
	}

	checks, _, err := c.rest.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, headSHA, &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	})
	if err != nil {
		return CIUnknown, err
	}

	if checks.GetTotal() > 0 {
		allSuccess := true
		for _, cr := range checks.CheckRuns {
			switch cr.GetConclusion() {
			case "failure":
				return CIFailure, nil
			case "success":
			default:
				allSuccess = false
			}
		}
		if allSuccess {
			return CISuccess, nil
		}
		return CIPending, nil
	}

	combined, _, err := c.rest.Repositories.GetCombinedStatus(ctx, c.owner, c.repo, headSHA, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return CIUnknown, err
	}
	switch combined.GetState() {
	case "success":
		return CISuccess, nil
	case "failure":
		return CIFailure, nil
	case "pending":
		return CIPending, nil
	}
	return CIUnknown, nil
}

func mapRESTPR(pr *gh.PullRequest, files []*gh.CommitFile, reviews []*gh.PullRequestReview, ci CIStatus) PRRecord {
	r := PRRecord{
		Number:            pr.GetNumber(),
		Title:             pr.GetTitle(),
		Body:              pr.GetBody(),
		Author:            pr.GetUser().GetLogin(),
		AuthorAssociation: mapAssociation(pr.GetAuthorAssociation()),
		CreatedAt:         pr.GetCreatedAt().Time,
		UpdatedAt:         pr.GetUpdatedAt().Time,
		HeadRef:           pr.GetHead().GetRef(),
		BaseRef:           pr.GetBase().GetRef(),
		HeadSHA:           pr.GetHead().GetSHA(),
		FilesChanged:      pr.GetChangedFiles(),
		Additions:         pr.GetAdditions(),
		Deletions:         pr.GetDeletions(),
		Commits:           pr.GetCommits(),
		CIStatus:          ci,
		AgeInDays:         ageInDays(pr.GetCreatedAt().Time),
		ReviewCount:       len(reviews),
		CommentCount:      pr.GetComments(),
		IsDraft:           pr.GetDraft(),
		Milestone:         pr.GetMilestone().GetTitle(),
	}

	// mergeable_state mapping: clean/unstable/blocked are treated as
	// mergeable, dirty as conflicting, everything else unknown.
	switch pr.GetMergeableState() {
	case "clean", "unstable", "blocked":
		r.Mergeable = MergeableClean
	case "dirty":
		r.Mergeable = MergeableConflicting
	default:
		r.Mergeable = MergeableUnknown
	}

	states := make([]string, 0, len(reviews))
	for _, rv := range reviews {
		states = append(states, rv.GetState())
	}
	r.ReviewState = resolveReviewState(states)

	for _, l := range pr.Labels {
		r.Labels = append(r.Labels, l.GetName())
	}
	for _, f := range files {
		r.ChangedFiles = append(r.ChangedFiles, f.GetFilename())
	}
	for _, u := range pr.RequestedReviewers {
		r.RequestedReviewers = append(r.RequestedReviewers, u.GetLogin())
	}

	r.IssueNumbers = ExtractIssueRefs(r.Title, r.Body)
	r.TestFilesChanged = testFiles(r.ChangedFiles)
	r.HasTests = len(r.TestFilesChanged) > 0

	return r
}
