package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treliq/treliq/internal/githost"
)

func TestCIStatusSignal(t *testing.T) {
	cases := []struct {
		status githost.CIStatus
		want   int
	}{
		{githost.CISuccess, 100},
		{githost.CIPending, 50},
		{githost.CIFailure, 10},
		{githost.CIUnknown, 40},
	}
	for _, tc := range cases {
		s := ciStatusSignal(&githost.PRRecord{CIStatus: tc.status})
		assert.Equal(t, tc.want, s.Score, string(tc.status))
	}
}

func TestDiffSizeSignal(t *testing.T) {
	cases := []struct {
		additions, deletions, want int
	}{
		{1, 0, 20},     // trivially small
		{30, 10, 70},   // small
		{200, 100, 100}, // sweet spot
		{1000, 500, 60}, // large
		{3000, 0, 30},   // huge
	}
	for _, tc := range cases {
		s := diffSizeSignal(&githost.PRRecord{Additions: tc.additions, Deletions: tc.deletions})
		assert.Equal(t, tc.want, s.Score)
	}
}

func TestCommitQualitySignal(t *testing.T) {
	s := commitQualitySignal(&githost.PRRecord{Title: "feat(api): add pagination"})
	assert.Equal(t, 90, s.Score)

	s = commitQualitySignal(&githost.PRRecord{Title: "Added some stuff"})
	assert.Equal(t, 50, s.Score)
}

func TestContributorSignal(t *testing.T) {
	s := contributorSignal(&githost.PRRecord{AuthorAssociation: githost.AssocOwner}, signalContext{})
	assert.Equal(t, 100, s.Score)

	s = contributorSignal(&githost.PRRecord{AuthorAssociation: githost.AssocNone}, signalContext{})
	assert.Equal(t, 30, s.Score)

	// Reputation blends 70/30.
	rep := 90
	s = contributorSignal(&githost.PRRecord{AuthorAssociation: githost.AssocContributor},
		signalContext{reputation: &rep})
	assert.Equal(t, 76, s.Score) // 0.7*70 + 0.3*90
}

func TestSpamSignal_DriveByPR(t *testing.T) {
	r := &githost.PRRecord{
		Title:        "Update README.md",
		Body:         "fixed typo",
		Additions:    1,
		Deletions:    1,
		ChangedFiles: []string{"README.md"},
	}
	s, reasons := spamSignal(r, signalContext{})
	// tiny diff (2pts) + no issue ref + trivial body + docs-only = 5 points.
	assert.Equal(t, 0, s.Score)
	assert.Len(t, reasons, 4)
}

func TestSpamSignal_CleanPR(t *testing.T) {
	r := &githost.PRRecord{
		Body:         "This change reworks the scheduler to avoid the thundering herd on restart.",
		Additions:    120,
		Deletions:    40,
		IssueNumbers: []int{12},
		ChangedFiles: []string{"internal/sched/sched.go"},
	}
	s, reasons := spamSignal(r, signalContext{})
	assert.Equal(t, 100, s.Score)
	assert.Empty(t, reasons)
}

func TestSpamSignal_TrustedContributorExempt(t *testing.T) {
	r := &githost.PRRecord{
		AuthorAssociation: githost.AssocMember,
		Additions:         1,
	}
	s, reasons := spamSignal(r, signalContext{trustContributors: true})
	assert.Equal(t, 100, s.Score)
	assert.Empty(t, reasons)

	// Without the trust flag the same PR is penalised.
	s, _ = spamSignal(r, signalContext{})
	assert.Less(t, s.Score, 100)
}

func TestTestCoverageSignal(t *testing.T) {
	s := testCoverageSignal(&githost.PRRecord{HasTests: true, TestFilesChanged: []string{"a_test.go"}})
	assert.Equal(t, 90, s.Score)

	s = testCoverageSignal(&githost.PRRecord{ChangedFiles: []string{"README.md", "config.yaml"}})
	assert.Equal(t, 60, s.Score)

	s = testCoverageSignal(&githost.PRRecord{ChangedFiles: []string{"main.go"}})
	assert.Equal(t, 20, s.Score)
}

func TestStalenessSignal(t *testing.T) {
	assert.Equal(t, 100, stalenessSignal(3).Score)
	assert.Equal(t, 70, stalenessSignal(30).Score)
	assert.Equal(t, 40, stalenessSignal(90).Score)
	assert.Equal(t, 15, stalenessSignal(180).Score)
}

func TestMergeabilitySignal(t *testing.T) {
	assert.Equal(t, 100, mergeabilitySignal(&githost.PRRecord{Mergeable: githost.MergeableClean}).Score)
	assert.Equal(t, 10, mergeabilitySignal(&githost.PRRecord{Mergeable: githost.MergeableConflicting}).Score)
	assert.Equal(t, 50, mergeabilitySignal(&githost.PRRecord{Mergeable: githost.MergeableUnknown}).Score)
}

func TestReviewStatusSignal(t *testing.T) {
	s := reviewStatusSignal(&githost.PRRecord{ReviewState: githost.ReviewApproved, ReviewCount: 1})
	assert.Equal(t, 100, s.Score)

	// Multiple reviews add a bonus, capped at 100.
	s = reviewStatusSignal(&githost.PRRecord{ReviewState: githost.ReviewApproved, ReviewCount: 3})
	assert.Equal(t, 100, s.Score)

	s = reviewStatusSignal(&githost.PRRecord{ReviewState: githost.ReviewChangesRequested, ReviewCount: 2})
	assert.Equal(t, 40, s.Score)

	s = reviewStatusSignal(&githost.PRRecord{ReviewState: githost.ReviewNone})
	assert.Equal(t, 40, s.Score)
}

func TestBodyQualitySignal(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	assert.Equal(t, 90, bodyQualitySignal(string(long)).Score)
	assert.Equal(t, 20, bodyQualitySignal("short").Score)

	withTasks := string(long[:250]) + "\n- [ ] update docs\n- [x] add tests"
	assert.Equal(t, 80, bodyQualitySignal(withTasks).Score)

	withImage := string(long) + "\n![screenshot](a.png)\n- [ ] todo"
	assert.Equal(t, 100, bodyQualitySignal(withImage).Score)
}

func TestBreakingChangeSignal(t *testing.T) {
	s := breakingChangeSignal(&githost.PRRecord{Title: "feat!: new wire format"})
	assert.Equal(t, 40, s.Score)

	s = breakingChangeSignal(&githost.PRRecord{Title: "BREAKING: drop v1 API"})
	assert.Equal(t, 40, s.Score)

	s = breakingChangeSignal(&githost.PRRecord{Title: "fix: typo", Deletions: 500})
	assert.Equal(t, 40, s.Score)

	s = breakingChangeSignal(&githost.PRRecord{Title: "fix: typo", ChangedFiles: []string{"internal/api/routes.go"}})
	assert.Equal(t, 40, s.Score)

	s = breakingChangeSignal(&githost.PRRecord{Title: "fix: typo", ChangedFiles: []string{"internal/util/strings.go"}})
	assert.Equal(t, 80, s.Score)
}

func TestDraftAndMilestoneSignals(t *testing.T) {
	assert.Equal(t, 10, draftStatusSignal(true).Score)
	assert.Equal(t, 90, draftStatusSignal(false).Score)
	assert.Equal(t, 90, milestoneSignal("v2.0").Score)
	assert.Equal(t, 40, milestoneSignal("").Score)
}

func TestLabelPrioritySignal(t *testing.T) {
	assert.Equal(t, 95, labelPrioritySignal([]string{"enhancement", "P1"}).Score)
	assert.Equal(t, 50, labelPrioritySignal([]string{"enhancement"}).Score)
	assert.Equal(t, 30, labelPrioritySignal(nil).Score)
}

func TestCodeownersSignal(t *testing.T) {
	s := codeownersSignal(&githost.PRRecord{Author: "alice", Codeowners: []string{"Alice", "bob"}})
	assert.Equal(t, 95, s.Score)

	s = codeownersSignal(&githost.PRRecord{Author: "carol", Codeowners: []string{"alice"}})
	assert.Equal(t, 80, s.Score)

	s = codeownersSignal(&githost.PRRecord{Author: "carol"})
	assert.Equal(t, 40, s.Score)
}

func TestScopeCoherenceSignal(t *testing.T) {
	assert.Equal(t, 90, scopeCoherenceSignal([]string{"main.go"}).Score)
	assert.Equal(t, 90, scopeCoherenceSignal([]string{"internal/a.go", "internal/b.go"}).Score)
	assert.Equal(t, 75, scopeCoherenceSignal([]string{"internal/a.go", "cmd/main.go"}).Score)
	assert.Equal(t, 45, scopeCoherenceSignal([]string{"a/x", "b/x", "c/x", "d/x"}).Score)
}

func TestComplexitySignal(t *testing.T) {
	assert.Equal(t, 90, complexitySignal(1, 3).Score)
	assert.Equal(t, 10, complexitySignal(20, 30).Score) // floored
}

func TestIntentSignal(t *testing.T) {
	assert.Equal(t, 90, intentSignal(IntentBugfix).Score)
	assert.Equal(t, 25, intentSignal(IntentChore).Score)
	assert.Equal(t, 50, intentSignal(Intent("mystery")).Score)
}

func TestBaseWeightsWithinBounds(t *testing.T) {
	r := &githost.PRRecord{Title: "feat: x", Body: "body"}
	spam, _ := spamSignal(r, signalContext{})
	signals := []SignalScore{
		ciStatusSignal(r), diffSizeSignal(r), commitQualitySignal(r),
		contributorSignal(r, signalContext{}), issueRefSignal(r), spam,
		testCoverageSignal(r), stalenessSignal(0), mergeabilitySignal(r),
		reviewStatusSignal(r), bodyQualitySignal(r.Body), activitySignal(0),
		breakingChangeSignal(r), draftStatusSignal(false), milestoneSignal(""),
		labelPrioritySignal(nil), codeownersSignal(r), requestedReviewersSignal(r),
		scopeCoherenceSignal(nil), complexitySignal(0, 0), intentSignal(IntentFeature),
	}

	sum := 0.0
	for _, s := range signals {
		require.Greater(t, s.Weight, 0.0, s.Name)
		require.LessOrEqual(t, s.Weight, 1.0, s.Name)
		require.GreaterOrEqual(t, s.Score, 0, s.Name)
		require.LessOrEqual(t, s.Score, 100, s.Name)
		sum += s.Weight
	}
	assert.Greater(t, sum, 0.9)
	assert.Less(t, sum, 2.0)
}

func TestDocsOnly(t *testing.T) {
	assert.True(t, docsOnly([]string{"README.md", "docs/guide.rst"}))
	assert.False(t, docsOnly([]string{"README.md", "main.go"}))
	assert.False(t, docsOnly(nil))
}

func TestDocsOrConfigOnly(t *testing.T) {
	assert.True(t, docsOrConfigOnly([]string{"README.md", "config.yaml"}))
	assert.False(t, docsOrConfigOnly([]string{"config.yaml", "main.go"}))
}
