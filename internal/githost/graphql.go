package githost

import (
	"context"
	"fmt"
	"time"

	"github.com/shurcooL/githubv4"
)

// gqlPageSize is the number of PRs fetched per GraphQL round-trip.
const gqlPageSize = 100

// gqlPullRequest carries every field the scorer needs in a single node, so a
// page of 100 PRs costs one round-trip instead of four REST calls per PR.
type gqlPullRequest struct {
	Number            githubv4.Int
	Title             githubv4.String
	Body              githubv4.String
	Author            struct{ Login githubv4.String }
	AuthorAssociation githubv4.String
	CreatedAt         githubv4.DateTime
	UpdatedAt         githubv4.DateTime
	HeadRefName       githubv4.String
	BaseRefName       githubv4.String
	HeadRefOid        githubv4.String
	ChangedFiles      githubv4.Int
	Additions         githubv4.Int
	Deletions         githubv4.Int
	IsDraft           githubv4.Boolean
	Mergeable         githubv4.String
	Milestone         *struct{ Title githubv4.String }
	Commits           struct {
		TotalCount githubv4.Int
		Nodes      []struct {
			Commit struct {
				StatusCheckRollup *struct {
					State githubv4.String
				}
			}
		}
	} `graphql:"commits(last: 1)"`
	Labels struct {
		Nodes []struct{ Name githubv4.String }
	} `graphql:"labels(first: 20)"`
	Files struct {
		Nodes []struct{ Path githubv4.String }
	} `graphql:"files(first: 100)"`
	Reviews struct {
		TotalCount githubv4.Int
		Nodes      []struct{ State githubv4.String }
	} `graphql:"reviews(first: 50)"`
	Comments struct {
		TotalCount githubv4.Int
	}
	ReviewRequests struct {
		Nodes []struct {
			RequestedReviewer struct {
				User struct{ Login githubv4.String } `graphql:"... on User"`
			}
		}
	} `graphql:"reviewRequests(first: 10)"`
}

type gqlPRPage struct {
	Nodes    []gqlPullRequest
	PageInfo struct {
		HasNextPage githubv4.Boolean
		EndCursor   githubv4.String
	}
}

func (c *Client) listOpenGraphQL(ctx context.Context, max int) ([]PRRef, error) {
	var q struct {
		Repository struct {
			PullRequests struct {
				Nodes []struct {
					Number     githubv4.Int
					UpdatedAt  githubv4.DateTime
					HeadRefOid githubv4.String
				}
				PageInfo struct {
					HasNextPage githubv4.Boolean
					EndCursor   githubv4.String
				}
			} `graphql:"pullRequests(states: OPEN, first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(c.owner),
		"name":   githubv4.String(c.repo),
		"first":  githubv4.Int(pageSize(max)),
		"cursor": (*githubv4.String)(nil),
	}

	var refs []PRRef
	for {
		if err := c.gql().Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("graphql list query: %w", err)
		}
		for _, n := range q.Repository.PullRequests.Nodes {
			refs = append(refs, PRRef{
				Number:    int(n.Number),
				UpdatedAt: n.UpdatedAt.Time,
				HeadSHA:   string(n.HeadRefOid),
			})
			if max > 0 && len(refs) >= max {
				return refs, nil
			}
		}
		if !q.Repository.PullRequests.PageInfo.HasNextPage {
			return refs, nil
		}
		vars["cursor"] = githubv4.NewString(q.Repository.PullRequests.PageInfo.EndCursor)
	}
}

// fetchDetailsGraphQL pages through the open PR list with full nodes and keeps
// the requested numbers. Any error aborts so the caller can fall back to REST.
func (c *Client) fetchDetailsGraphQL(ctx context.Context, numbers []int) ([]PRRecord, error) {
	wanted := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		wanted[n] = true
	}

	var q struct {
		Repository struct {
			PullRequests gqlPRPage `graphql:"pullRequests(states: OPEN, first: $first, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(c.owner),
		"name":   githubv4.String(c.repo),
		"first":  githubv4.Int(gqlPageSize),
		"cursor": (*githubv4.String)(nil),
	}

	records := make([]PRRecord, 0, len(numbers))
	for {
		if err := c.gql().Query(ctx, &q, vars); err != nil {
			return nil, fmt.Errorf("graphql detail query: %w", err)
		}
		for _, node := range q.Repository.PullRequests.Nodes {
			if !wanted[int(node.Number)] {
				continue
			}
			records = append(records, mapGraphQLPR(node))
			if len(records) == len(numbers) {
				return records, nil
			}
		}
		if !q.Repository.PullRequests.PageInfo.HasNextPage {
			return records, nil
		}
		vars["cursor"] = githubv4.NewString(q.Repository.PullRequests.PageInfo.EndCursor)
	}
}

func mapGraphQLPR(n gqlPullRequest) PRRecord {
	r := PRRecord{
		Number:            int(n.Number),
		Title:             string(n.Title),
		Body:              string(n.Body),
		Author:            string(n.Author.Login),
		AuthorAssociation: mapAssociation(string(n.AuthorAssociation)),
		CreatedAt:         n.CreatedAt.Time,
		UpdatedAt:         n.UpdatedAt.Time,
		HeadRef:           string(n.HeadRefName),
		BaseRef:           string(n.BaseRefName),
		HeadSHA:           string(n.HeadRefOid),
		FilesChanged:      int(n.ChangedFiles),
		Additions:         int(n.Additions),
		Deletions:         int(n.Deletions),
		Commits:           int(n.Commits.TotalCount),
		IsDraft:           bool(n.IsDraft),
		ReviewCount:       int(n.Reviews.TotalCount),
		CommentCount:      int(n.Comments.TotalCount),
		AgeInDays:         ageInDays(n.CreatedAt.Time),
	}

	switch string(n.Mergeable) {
	case "MERGEABLE":
		r.Mergeable = MergeableClean
	case "CONFLICTING":
		r.Mergeable = MergeableConflicting
	default:
		r.Mergeable = MergeableUnknown
	}

	r.CIStatus = CIUnknown
	if len(n.Commits.Nodes) > 0 {
		if rollup := n.Commits.Nodes[0].Commit.StatusCheckRollup; rollup != nil {
			switch string(rollup.State) {
			case "SUCCESS":
				r.CIStatus = CISuccess
			case "FAILURE", "ERROR":
				r.CIStatus = CIFailure
			case "PENDING", "EXPECTED":
				r.CIStatus = CIPending
			}
		}
	}

	states := make([]string, 0, len(n.Reviews.Nodes))
	for _, rv := range n.Reviews.Nodes {
		states = append(states, string(rv.State))
	}
	r.ReviewState = resolveReviewState(states)

	for _, l := range n.Labels.Nodes {
		r.Labels = append(r.Labels, string(l.Name))
	}
	for _, f := range n.Files.Nodes {
		r.ChangedFiles = append(r.ChangedFiles, string(f.Path))
	}
	for _, rr := range n.ReviewRequests.Nodes {
		if login := string(rr.RequestedReviewer.User.Login); login != "" {
			r.RequestedReviewers = append(r.RequestedReviewers, login)
		}
	}
	if n.Milestone != nil {
		r.Milestone = string(n.Milestone.Title)
	}

	r.IssueNumbers = ExtractIssueRefs(r.Title, r.Body)
	r.TestFilesChanged = testFiles(r.ChangedFiles)
	r.HasTests = len(r.TestFilesChanged) > 0

	return r
}

func pageSize(max int) int {
	if max > 0 && max < gqlPageSize {
		return max
	}
	return gqlPageSize
}

func ageInDays(createdAt time.Time) int {
	if createdAt.IsZero() {
		return 0
	}
	return int(time.Since(createdAt).Hours() / 24)
}

func mapAssociation(s string) AuthorAssociation {
	switch s {
	case "OWNER":
		return AssocOwner
	case "MEMBER":
		return AssocMember
	case "COLLABORATOR":
		return AssocCollaborator
	case "CONTRIBUTOR":
		return AssocContributor
	case "FIRST_TIME_CONTRIBUTOR", "FIRST_TIMER":
		return AssocFirstTimer
	default:
		return AssocNone
	}
}

// resolveReviewState collapses individual review states into one aggregate:
// any APPROVED wins, then CHANGES_REQUESTED, then COMMENTED.
func resolveReviewState(states []string) ReviewState {
	var changesRequested, commented bool
	for _, s := range states {
		switch s {
		case "APPROVED":
			return ReviewApproved
		case "CHANGES_REQUESTED":
			changesRequested = true
		case "COMMENTED":
			commented = true
		}
	}
	if changesRequested {
		return ReviewChangesRequested
	}
	if commented {
		return ReviewCommented
	}
	return ReviewNone
}
