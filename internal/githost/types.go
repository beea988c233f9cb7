package githost

import "time"

// AuthorAssociation is the relationship between an item's author and the repository.
type AuthorAssociation string

const (
	AssocOwner        AuthorAssociation = "OWNER"
	AssocMember       AuthorAssociation = "MEMBER"
	AssocCollaborator AuthorAssociation = "COLLABORATOR"
	AssocContributor  AuthorAssociation = "CONTRIBUTOR"
	AssocFirstTimer   AuthorAssociation = "FIRST_TIMER"
	AssocNone         AuthorAssociation = "NONE"
)

// CIStatus is the overall CI state of a PR head commit.
type CIStatus string

const (
	CISuccess CIStatus = "success"
	CIFailure CIStatus = "failure"
	CIPending CIStatus = "pending"
	CIUnknown CIStatus = "unknown"
)

// Mergeable is the merge-readiness of a PR.
type Mergeable string

const (
	MergeableClean       Mergeable = "mergeable"
	MergeableConflicting Mergeable = "conflicting"
	MergeableUnknown     Mergeable = "unknown"
)

// ReviewState is the aggregate review outcome of a PR.
type ReviewState string

const (
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changes_requested"
	ReviewCommented        ReviewState = "commented"
	ReviewNone             ReviewState = "none"
)

// PRRef is the lightweight PR identity used for cache-hit detection.
type PRRef struct {
	Number    int
	UpdatedAt time.Time
	HeadSHA   string
}

// PRRecord is the immutable scoring input for a single pull request.
// Constructed by the host client; never mutated afterwards.
type PRRecord struct {
	Number            int               `json:"number"`
	Title             string            `json:"title"`
	Body              string            `json:"body"`
	Author            string            `json:"author"`
	AuthorAssociation AuthorAssociation `json:"authorAssociation"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	HeadRef           string            `json:"headRef"`
	BaseRef           string            `json:"baseRef"`
	HeadSHA           string            `json:"headSha"`
	FilesChanged      int               `json:"filesChanged"`
	Additions         int               `json:"additions"`
	Deletions         int               `json:"deletions"`
	Commits           int               `json:"commits"`
	Labels            []string          `json:"labels"`
	CIStatus          CIStatus          `json:"ciStatus"`
	IssueNumbers      []int             `json:"issueNumbers"`
	ChangedFiles      []string          `json:"changedFiles"`
	HasTests          bool              `json:"hasTests"`
	TestFilesChanged  []string          `json:"testFilesChanged"`
	AgeInDays         int               `json:"ageInDays"`
	Mergeable         Mergeable         `json:"mergeable"`
	ReviewState       ReviewState       `json:"reviewState"`
	ReviewCount       int               `json:"reviewCount"`
	CommentCount      int               `json:"commentCount"`
	IsDraft           bool              `json:"isDraft"`
	Milestone         string            `json:"milestone,omitempty"`
	RequestedReviewers []string         `json:"requestedReviewers"`
	Codeowners        []string          `json:"codeowners"`
}

// HasLabel reports whether the PR carries the given label (case-insensitive
// comparison is the caller's concern; labels are stored as received).
func (r *PRRecord) HasLabel(name string) bool {
	for _, l := range r.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// UserProfile is the public profile data used for reputation scoring.
type UserProfile struct {
	Login       string    `json:"login"`
	Followers   int       `json:"followers"`
	PublicRepos int       `json:"publicRepos"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IssueState is the open/closed state of an issue.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// IssueRecord is the immutable scoring input for a single issue.
type IssueRecord struct {
	Number            int               `json:"number"`
	Title             string            `json:"title"`
	Body              string            `json:"body"`
	Author            string            `json:"author"`
	AuthorAssociation AuthorAssociation `json:"authorAssociation"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	Labels            []string          `json:"labels"`
	CommentCount      int               `json:"commentCount"`
	ReactionCount     int               `json:"reactionCount"`
	Assignees         []string          `json:"assignees"`
	LinkedPRs         []int             `json:"linkedPRs"`
	Milestone         string            `json:"milestone,omitempty"`
	AgeInDays         int               `json:"ageInDays"`
	State             IssueState        `json:"state"`
	StateReason       string            `json:"stateReason,omitempty"`
}
