package triage

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/treliq/treliq/internal/githost"
)

// conventionalPattern matches conventional-commit titles: "type(scope)!: ...".
var conventionalPattern = regexp.MustCompile(`^(\w+)(\([^)]*\))?(!?):\s*`)

// signalContext carries the cross-cutting inputs the signal rules need beyond
// the record itself.
type signalContext struct {
	trustContributors bool
	reputation        *int // 0..100, nil when unknown
	intent            Intent
}

// trustedAssociations are exempt from the spam heuristic when configured.
var trustedAssociations = map[githost.AuthorAssociation]bool{
	githost.AssocOwner:        true,
	githost.AssocMember:       true,
	githost.AssocCollaborator: true,
}

func ciStatusSignal(r *githost.PRRecord) SignalScore {
	score := 40
	switch r.CIStatus {
	case githost.CISuccess:
		score = 100
	case githost.CIPending:
		score = 50
	case githost.CIFailure:
		score = 10
	}
	return SignalScore{Name: "ci_status", Score: score, Weight: 0.15,
		Reason: fmt.Sprintf("CI is %s", r.CIStatus)}
}

func diffSizeSignal(r *githost.PRRecord) SignalScore {
	total := r.Additions + r.Deletions
	var score int
	switch {
	case total < 5:
		score = 20
	case total < 50:
		score = 70
	case total < 500:
		score = 100
	case total < 2000:
		score = 60
	default:
		score = 30
	}
	return SignalScore{Name: "diff_size", Score: score, Weight: 0.07,
		Reason: fmt.Sprintf("%d lines changed", total)}
}

func commitQualitySignal(r *githost.PRRecord) SignalScore {
	score, reason := 50, "title is not a conventional commit"
	if conventionalPattern.MatchString(r.Title) {
		score, reason = 90, "conventional commit title"
	}
	return SignalScore{Name: "commit_quality", Score: score, Weight: 0.04, Reason: reason}
}

// associationScores ranks author associations for the contributor signal.
var associationScores = map[githost.AuthorAssociation]int{
	githost.AssocOwner:        100,
	githost.AssocMember:       90,
	githost.AssocCollaborator: 85,
	githost.AssocContributor:  70,
	githost.AssocFirstTimer:   40,
	githost.AssocNone:         30,
}

func contributorSignal(r *githost.PRRecord, sc signalContext) SignalScore {
	score, ok := associationScores[r.AuthorAssociation]
	if !ok {
		score = 30
	}
	reason := fmt.Sprintf("author is %s", r.AuthorAssociation)
	if sc.reputation != nil {
		score = int(0.7*float64(score) + 0.3*float64(*sc.reputation))
		reason = fmt.Sprintf("author is %s, reputation %d", r.AuthorAssociation, *sc.reputation)
	}
	return SignalScore{Name: "contributor", Score: score, Weight: 0.12, Reason: reason}
}

func issueRefSignal(r *githost.PRRecord) SignalScore {
	if len(r.IssueNumbers) > 0 {
		return SignalScore{Name: "issue_ref", Score: 90, Weight: 0.07,
			Reason: fmt.Sprintf("references %d issue(s)", len(r.IssueNumbers))}
	}
	return SignalScore{Name: "issue_ref", Score: 30, Weight: 0.07, Reason: "no issue reference"}
}

// spamSignal accumulates penalty points for the classic drive-by PR shape.
// Trusted contributors are exempt when the scan is configured to trust them.
func spamSignal(r *githost.PRRecord, sc signalContext) (SignalScore, []string) {
	if sc.trustContributors && trustedAssociations[r.AuthorAssociation] {
		return SignalScore{Name: "spam", Score: 100, Weight: 0.12,
			Reason: "trusted contributor"}, nil
	}

	points := 0
	var reasons []string
	total := r.Additions + r.Deletions
	switch {
	case total < 3:
		points += 2
		reasons = append(reasons, "tiny diff (<3 lines)")
	case total < 5:
		points++
		reasons = append(reasons, "very small diff (<5 lines)")
	}
	if len(r.IssueNumbers) == 0 {
		points++
		reasons = append(reasons, "no issue reference")
	}
	if len(strings.TrimSpace(r.Body)) < 20 {
		points++
		reasons = append(reasons, "empty or trivial description")
	}
	if total < 10 && docsOnly(r.ChangedFiles) {
		points++
		reasons = append(reasons, "trivial docs-only change")
	}

	score := 100 - 25*points
	if score < 0 {
		score = 0
	}
	reason := "no spam indicators"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return SignalScore{Name: "spam", Score: score, Weight: 0.12, Reason: reason}, reasons
}

func testCoverageSignal(r *githost.PRRecord) SignalScore {
	switch {
	case r.HasTests:
		return SignalScore{Name: "test_coverage", Score: 90, Weight: 0.12,
			Reason: fmt.Sprintf("%d test file(s) changed", len(r.TestFilesChanged))}
	case docsOrConfigOnly(r.ChangedFiles):
		return SignalScore{Name: "test_coverage", Score: 60, Weight: 0.12,
			Reason: "docs/config-only change, tests not expected"}
	default:
		return SignalScore{Name: "test_coverage", Score: 20, Weight: 0.12,
			Reason: "code change without tests"}
	}
}

func stalenessSignal(ageInDays int) SignalScore {
	var score int
	switch {
	case ageInDays < 7:
		score = 100
	case ageInDays <= 30:
		score = 70
	case ageInDays <= 90:
		score = 40
	default:
		score = 15
	}
	return SignalScore{Name: "staleness", Score: score, Weight: 0.07,
		Reason: fmt.Sprintf("%d days old", ageInDays)}
}

func mergeabilitySignal(r *githost.PRRecord) SignalScore {
	score := 50
	switch r.Mergeable {
	case githost.MergeableClean:
		score = 100
	case githost.MergeableConflicting:
		score = 10
	}
	return SignalScore{Name: "mergeability", Score: score, Weight: 0.12,
		Reason: fmt.Sprintf("merge state is %s", r.Mergeable)}
}

func reviewStatusSignal(r *githost.PRRecord) SignalScore {
	var score int
	switch r.ReviewState {
	case githost.ReviewApproved:
		score = 100
	case githost.ReviewChangesRequested:
		score = 30
	case githost.ReviewCommented:
		score = 60
	default:
		score = 40
	}
	if r.ReviewCount >= 2 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return SignalScore{Name: "review_status", Score: score, Weight: 0.08,
		Reason: fmt.Sprintf("%s with %d review(s)", r.ReviewState, r.ReviewCount)}
}

func bodyQualitySignal(body string) SignalScore {
	var score int
	switch {
	case len(body) > 500:
		score = 90
	case len(body) >= 200:
		score = 70
	case len(body) >= 50:
		score = 50
	default:
		score = 20
	}
	if strings.Contains(body, "- [ ]") || strings.Contains(body, "- [x]") {
		score += 10
	}
	if strings.Contains(body, "![") || strings.Contains(body, "<img") {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return SignalScore{Name: "body_quality", Score: score, Weight: 0.04,
		Reason: fmt.Sprintf("%d char description", len(body))}
}

func activitySignal(comments int) SignalScore {
	var score int
	switch {
	case comments >= 5:
		score = 90
	case comments >= 2:
		score = 70
	case comments == 1:
		score = 50
	default:
		score = 30
	}
	return SignalScore{Name: "activity", Score: score, Weight: 0.04,
		Reason: fmt.Sprintf("%d comment(s)", comments)}
}

func breakingChangeSignal(r *githost.PRRecord) SignalScore {
	breaking := false
	if strings.Contains(strings.ToLower(r.Title), "breaking") {
		breaking = true
	}
	if m := conventionalPattern.FindStringSubmatch(r.Title); m != nil && m[3] == "!" {
		breaking = true
	}
	if r.Deletions > 100 {
		breaking = true
	}
	if !breaking {
		for _, f := range r.ChangedFiles {
			if looksAPIOrConfig(f) {
				breaking = true
				break
			}
		}
	}
	if breaking {
		return SignalScore{Name: "breaking_change", Score: 40, Weight: 0.04,
			Reason: "potentially breaking change"}
	}
	return SignalScore{Name: "breaking_change", Score: 80, Weight: 0.04,
		Reason: "no breaking indicators"}
}

func draftStatusSignal(isDraft bool) SignalScore {
	if isDraft {
		return SignalScore{Name: "draft_status", Score: 10, Weight: 0.08, Reason: "draft"}
	}
	return SignalScore{Name: "draft_status", Score: 90, Weight: 0.08, Reason: "ready for review"}
}

func milestoneSignal(milestone string) SignalScore {
	if milestone != "" {
		return SignalScore{Name: "milestone", Score: 90, Weight: 0.07,
			Reason: "milestone " + milestone}
	}
	return SignalScore{Name: "milestone", Score: 40, Weight: 0.07, Reason: "no milestone"}
}

// priorityLabels mark items the maintainers have already flagged as important.
var priorityLabels = map[string]bool{
	"high-priority": true, "urgent": true, "critical": true,
	"p0": true, "p1": true, "security": true, "bug": true,
}

func labelPrioritySignal(labels []string) SignalScore {
	for _, l := range labels {
		if priorityLabels[strings.ToLower(l)] {
			return SignalScore{Name: "label_priority", Score: 95, Weight: 0.05,
				Reason: "priority label " + l}
		}
	}
	if len(labels) > 0 {
		return SignalScore{Name: "label_priority", Score: 50, Weight: 0.05, Reason: "labeled"}
	}
	return SignalScore{Name: "label_priority", Score: 30, Weight: 0.05, Reason: "no labels"}
}

func codeownersSignal(r *githost.PRRecord) SignalScore {
	if len(r.Codeowners) == 0 {
		return SignalScore{Name: "codeowners", Score: 40, Weight: 0.10,
			Reason: "no CODEOWNERS match"}
	}
	for _, owner := range r.Codeowners {
		if strings.EqualFold(owner, r.Author) {
			return SignalScore{Name: "codeowners", Score: 95, Weight: 0.10,
				Reason: "author owns the touched paths"}
		}
	}
	return SignalScore{Name: "codeowners", Score: 80, Weight: 0.10,
		Reason: fmt.Sprintf("%d matching owner(s)", len(r.Codeowners))}
}

func requestedReviewersSignal(r *githost.PRRecord) SignalScore {
	if len(r.RequestedReviewers) > 0 {
		return SignalScore{Name: "requested_reviewers", Score: 80, Weight: 0.05,
			Reason: fmt.Sprintf("%d reviewer(s) requested", len(r.RequestedReviewers))}
	}
	return SignalScore{Name: "requested_reviewers", Score: 40, Weight: 0.05,
		Reason: "no reviewers requested"}
}

// scopeCoherenceSignal rewards changes confined to few top-level directories.
func scopeCoherenceSignal(files []string) SignalScore {
	if len(files) <= 1 {
		return SignalScore{Name: "scope_coherence", Score: 90, Weight: 0.05,
			Reason: "single-file change"}
	}
	dirs := make(map[string]bool)
	for _, f := range files {
		top := f
		if i := strings.IndexByte(f, '/'); i >= 0 {
			top = f[:i]
		} else {
			top = "."
		}
		dirs[top] = true
	}
	var score int
	switch len(dirs) {
	case 1:
		score = 90
	case 2:
		score = 75
	case 3:
		score = 60
	default:
		score = 45
	}
	return SignalScore{Name: "scope_coherence", Score: score, Weight: 0.05,
		Reason: fmt.Sprintf("%d file(s) across %d top-level dir(s)", len(files), len(dirs))}
}

// complexitySignal penalizes wide changes: many commits and many files.
func complexitySignal(commits, filesChanged int) SignalScore {
	score := 100 - 4*commits - 2*filesChanged
	if score < 10 {
		score = 10
	}
	return SignalScore{Name: "complexity", Score: score, Weight: 0.05,
		Reason: fmt.Sprintf("%d commit(s), %d file(s)", commits, filesChanged)}
}

// intentScores ranks intents by triage value.
var intentScores = map[Intent]int{
	IntentBugfix:     90,
	IntentFeature:    85,
	IntentRefactor:   60,
	IntentDependency: 35,
	IntentDocs:       30,
	IntentChore:      25,
}

func intentSignal(intent Intent) SignalScore {
	score, ok := intentScores[intent]
	if !ok {
		score = 50
	}
	return SignalScore{Name: "intent", Score: score, Weight: 0.09,
		Reason: "classified as " + string(intent)}
}

// --- file-kind helpers ---

var docExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true, ".adoc": true,
}

var configExtensions = map[string]bool{
	".json": true, ".yml": true, ".yaml": true, ".toml": true,
	".ini": true, ".cfg": true, ".conf": true,
}

func docsOnly(files []string) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if !docExtensions[strings.ToLower(path.Ext(f))] {
			return false
		}
	}
	return true
}

func docsOrConfigOnly(files []string) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		ext := strings.ToLower(path.Ext(f))
		if !docExtensions[ext] && !configExtensions[ext] {
			return false
		}
	}
	return true
}

func looksAPIOrConfig(file string) bool {
	lower := strings.ToLower(file)
	if strings.Contains(lower, "api/") || strings.Contains(lower, "/api") {
		return true
	}
	base := path.Base(lower)
	return configExtensions[path.Ext(base)] && !strings.Contains(lower, "test")
}
