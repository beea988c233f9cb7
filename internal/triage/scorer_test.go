package triage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/llm"
)

func solidPR(number int) *githost.PRRecord {
	return &githost.PRRecord{
		Number:            number,
		Title:             "fix: handle nil config",
		Body:              "Guards the loader against a nil config and adds a regression test covering the startup path.",
		Author:            "alice",
		AuthorAssociation: githost.AssocContributor,
		Additions:         120,
		Deletions:         30,
		FilesChanged:      3,
		Commits:           2,
		CIStatus:          githost.CISuccess,
		IssueNumbers:      []int{7},
		ChangedFiles:      []string{"internal/config/config.go", "internal/config/config_test.go"},
		HasTests:          true,
		TestFilesChanged:  []string{"internal/config/config_test.go"},
		Mergeable:         githost.MergeableClean,
		ReviewState:       githost.ReviewApproved,
		ReviewCount:       1,
	}
}

func TestScore_HeuristicOnly(t *testing.T) {
	s := NewScorer(nil)
	item, err := s.Score(context.Background(), solidPR(1))
	require.NoError(t, err)

	assert.Nil(t, item.LLMScore)
	assert.GreaterOrEqual(t, item.TotalScore, 0)
	assert.LessOrEqual(t, item.TotalScore, 100)
	assert.Equal(t, IntentBugfix, item.Intent)
	assert.Equal(t, VisionUnchecked, item.VisionAlignment)
	assert.False(t, item.IsSpam)
	assert.Len(t, item.Signals, 21)
}

func TestScore_WeightsSumToOne(t *testing.T) {
	s := NewScorer(nil)
	item, err := s.Score(context.Background(), solidPR(1))
	require.NoError(t, err)

	sum := 0.0
	for _, sig := range item.Signals {
		sum += sig.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestScore_BlendsLLMJudgement(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.DefaultText = `{"score": 90, "risk": "low", "reason": "well tested"}`

	s := NewScorer(mock)
	item, err := s.Score(context.Background(), solidPR(1))
	require.NoError(t, err)

	require.NotNil(t, item.LLMScore)
	assert.Equal(t, 90, *item.LLMScore)
	assert.Equal(t, RiskLow, item.LLMRisk)

	heuristic := weightedMean(item.Signals)
	want := int(math.Round(0.4*heuristic + 0.6*90))
	assert.Equal(t, want, item.TotalScore)
}

func TestScore_LLMFailureFallsBackToHeuristic(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.TextErr = errors.New("provider down")

	s := NewScorer(mock)
	item, err := s.Score(context.Background(), solidPR(1))
	require.NoError(t, err)

	assert.Nil(t, item.LLMScore)
	heuristic := weightedMean(item.Signals)
	assert.Equal(t, int(math.Round(heuristic)), item.TotalScore)
}

func TestScore_InvalidRiskDefaultsToMedium(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.DefaultText = `{"score": 150, "risk": "catastrophic", "reason": "?"}`

	s := NewScorer(mock)
	item, err := s.Score(context.Background(), solidPR(1))
	require.NoError(t, err)

	require.NotNil(t, item.LLMScore)
	assert.Equal(t, 100, *item.LLMScore) // clamped
	assert.Equal(t, RiskMedium, item.LLMRisk)
}

func TestScore_SpamFlag(t *testing.T) {
	spammy := &githost.PRRecord{
		Number:       9,
		Title:        "Update README.md",
		Body:         "typo",
		Additions:    1,
		ChangedFiles: []string{"README.md"},
	}

	s := NewScorer(nil)
	item, err := s.Score(context.Background(), spammy)
	require.NoError(t, err)

	assert.True(t, item.IsSpam)
	assert.NotEmpty(t, item.SpamReasons)
	// Flag and signal agree by definition.
	assert.Less(t, item.Signal("spam").Score, 25)
}

func TestScore_SpamThresholdOverride(t *testing.T) {
	spammy := &githost.PRRecord{
		Number:       9,
		Title:        "Update README.md",
		Body:         "typo",
		Additions:    1,
		ChangedFiles: []string{"README.md"},
	}

	s := NewScorer(nil, WithSpamThreshold(0))
	item, err := s.Score(context.Background(), spammy)
	require.NoError(t, err)
	assert.False(t, item.IsSpam)
}

func TestScore_TrustContributors(t *testing.T) {
	r := solidPR(3)
	r.AuthorAssociation = githost.AssocOwner
	r.Body = "x"
	r.IssueNumbers = nil

	s := NewScorer(nil, WithTrustContributors(true))
	item, err := s.Score(context.Background(), r)
	require.NoError(t, err)

	assert.False(t, item.IsSpam)
	assert.Equal(t, 100, item.Signal("spam").Score)
}

func TestScore_ReputationFeedsContributorSignal(t *testing.T) {
	s := NewScorer(nil)
	s.SetReputation("alice", 100)

	item, err := s.Score(context.Background(), solidPR(4))
	require.NoError(t, err)

	sig := item.Signal("contributor")
	require.NotNil(t, sig)
	assert.Equal(t, 79, sig.Score) // 0.7*70 + 0.3*100
}

func TestSetReputation_Clamps(t *testing.T) {
	s := NewScorer(nil)
	s.SetReputation("a", -5)
	s.SetReputation("b", 400)
	assert.Equal(t, 0, *s.reputationOf("a"))
	assert.Equal(t, 100, *s.reputationOf("b"))
	assert.Nil(t, s.reputationOf("unknown"))
}

func TestScoreMany_PreservesInputOrder(t *testing.T) {
	s := NewScorer(nil)
	records := []*githost.PRRecord{solidPR(10), solidPR(11), solidPR(12)}

	items := s.ScoreMany(context.Background(), records)
	require.Len(t, items, 3)
	assert.Equal(t, 10, items[0].Number())
	assert.Equal(t, 11, items[1].Number())
	assert.Equal(t, 12, items[2].Number())
}

func TestScoreIssue(t *testing.T) {
	issue := &githost.IssueRecord{
		Number:            21,
		Title:             "Crash when config file is empty",
		Body:              "Steps to reproduce: create an empty treliq.jsonc and run a scan. Stack trace attached.",
		Author:            "bob",
		AuthorAssociation: githost.AssocContributor,
		CommentCount:      4,
		ReactionCount:     6,
		LinkedPRs:         []int{30},
		Labels:            []string{"bug"},
	}

	s := NewScorer(nil)
	item, err := s.ScoreIssue(context.Background(), issue)
	require.NoError(t, err)

	assert.False(t, item.IsPR())
	assert.Equal(t, 21, item.Number())
	assert.Equal(t, IntentBugfix, item.Intent)
	assert.False(t, item.IsSpam)
	assert.NotNil(t, item.Signal("engagement"))
	assert.NotNil(t, item.Signal("linked_prs"))

	sum := 0.0
	for _, sig := range item.Signals {
		sum += sig.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestScoreIssue_Spam(t *testing.T) {
	issue := &githost.IssueRecord{
		Number:    22,
		Title:     "help",
		Body:      "",
		AgeInDays: 60,
	}

	s := NewScorer(nil)
	item, err := s.ScoreIssue(context.Background(), issue)
	require.NoError(t, err)

	// Empty body (2pts), short title, no engagement after 30 days: score 0.
	assert.True(t, item.IsSpam)
	assert.Equal(t, 0, item.Signal("spam").Score)
}

func TestSortRanked(t *testing.T) {
	items := []*ScoredItem{
		{PR: &githost.PRRecord{Number: 5}, TotalScore: 70},
		{PR: &githost.PRRecord{Number: 2}, TotalScore: 90},
		{PR: &githost.PRRecord{Number: 9}, TotalScore: 70},
		{PR: &githost.PRRecord{Number: 1}, TotalScore: 90},
	}
	SortRanked(items)

	var order []int
	for _, it := range items {
		order = append(order, it.Number())
	}
	assert.Equal(t, []int{1, 2, 5, 9}, order)
}
