package githost

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v82/github"
)

// ListIssues returns up to max open issues, most recently updated first.
// Pull requests surfaced by the issues API are filtered out.
func (c *Client) ListIssues(ctx context.Context, max int) ([]IssueRecord, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var records []IssueRecord
	for {
		issues, resp, err := c.rest.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			records = append(records, mapIssue(issue))
			if max > 0 && len(records) >= max {
				return records, nil
			}
		}
		if resp.NextPage == 0 {
			return records, nil
		}
		opts.ListOptions.Page = resp.NextPage
	}
}

func mapIssue(issue *gh.Issue) IssueRecord {
	r := IssueRecord{
		Number:            issue.GetNumber(),
		Title:             issue.GetTitle(),
		Body:              issue.GetBody(),
		Author:            issue.GetUser().GetLogin(),
		AuthorAssociation: mapAssociation(issue.GetAuthorAssociation()),
		CreatedAt:         issue.GetCreatedAt().Time,
		UpdatedAt:         issue.GetUpdatedAt().Time,
		CommentCount:      issue.GetComments(),
		ReactionCount:     issue.GetReactions().GetTotalCount(),
		Milestone:         issue.GetMilestone().GetTitle(),
		AgeInDays:         ageInDays(issue.GetCreatedAt().Time),
		State:             IssueState(issue.GetState()),
		StateReason:       issue.GetStateReason(),
	}
	for _, l := range issue.Labels {
		r.Labels = append(r.Labels, l.GetName())
	}
	for _, a := range issue.Assignees {
		r.Assignees = append(r.Assignees, a.GetLogin())
	}
	// Cross-referenced PRs only surface through timeline events; the body
	// reference scan covers the common "#N" linking convention.
	r.LinkedPRs = ExtractIssueRefs(r.Title, r.Body)
	return r
}
