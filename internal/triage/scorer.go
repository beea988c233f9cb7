package triage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/llm"
)

const (
	// defaultSpamThreshold marks an item spam when its spam signal drops below it.
	defaultSpamThreshold = 25

	heuristicBlendWeight = 0.4
	llmBlendWeight       = 0.6
)

// Scorer computes the weighted multi-signal score for PRs and issues. When a
// provider is configured, the heuristic aggregate is blended with an LLM
// judgement; any LLM failure falls back to heuristic-only.
type Scorer struct {
	provider   llm.Provider // nil disables the LLM blend
	classifier *IntentClassifier
	gate       *gate.Gate

	trustContributors bool
	spamThreshold     int

	mu         sync.RWMutex
	reputation map[string]int
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithTrustContributors exempts OWNER/MEMBER/COLLABORATOR authors from the
// spam heuristic.
func WithTrustContributors(trust bool) ScorerOption {
	return func(s *Scorer) { s.trustContributors = trust }
}

// WithSpamThreshold overrides the spam cutoff.
func WithSpamThreshold(threshold int) ScorerOption {
	return func(s *Scorer) { s.spamThreshold = threshold }
}

// WithScorerGate bounds ScoreMany concurrency with the given gate.
func WithScorerGate(g *gate.Gate) ScorerOption {
	return func(s *Scorer) { s.gate = g }
}

// NewScorer creates a Scorer. provider may be nil for heuristic-only scoring.
func NewScorer(provider llm.Provider, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		provider:      provider,
		classifier:    NewIntentClassifier(provider),
		gate:          gate.New(5),
		spamThreshold: defaultSpamThreshold,
		reputation:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReputation records an author's reputation score, consulted by the
// contributor signal on subsequent scoring.
func (s *Scorer) SetReputation(login string, score int) {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	s.mu.Lock()
	s.reputation[login] = score
	s.mu.Unlock()
}

func (s *Scorer) reputationOf(login string) *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.reputation[login]; ok {
		return &v
	}
	return nil
}

// Score computes the full scoring pipeline for one pull request.
func (s *Scorer) Score(ctx context.Context, r *githost.PRRecord) (*ScoredItem, error) {
	intent, confidence := s.classifier.Classify(ctx, r.Title, r.Body, r.ChangedFiles)

	sc := signalContext{
		trustContributors: s.trustContributors,
		reputation:        s.reputationOf(r.Author),
		intent:            intent,
	}

	spam, spamReasons := spamSignal(r, sc)
	signals := []SignalScore{
		ciStatusSignal(r),
		diffSizeSignal(r),
		commitQualitySignal(r),
		contributorSignal(r, sc),
		issueRefSignal(r),
		spam,
		testCoverageSignal(r),
		stalenessSignal(r.AgeInDays),
		mergeabilitySignal(r),
		reviewStatusSignal(r),
		bodyQualitySignal(r.Body),
		activitySignal(r.CommentCount),
		breakingChangeSignal(r),
		draftStatusSignal(r.IsDraft),
		milestoneSignal(r.Milestone),
		labelPrioritySignal(r.Labels),
		codeownersSignal(r),
		requestedReviewersSignal(r),
		scopeCoherenceSignal(r.ChangedFiles),
		complexitySignal(r.Commits, r.FilesChanged),
		intentSignal(intent),
	}
	signals = applyWeightProfile(signals, intent)

	item := &ScoredItem{
		PR:               r,
		Signals:          signals,
		VisionAlignment:  VisionUnchecked,
		Intent:           intent,
		IntentConfidence: confidence,
		SpamReasons:      spamReasons,
	}
	s.finalize(ctx, item, fmt.Sprintf("PR #%d", r.Number))
	return item, nil
}

// ScoreIssue computes the reduced signal pipeline for one issue.
func (s *Scorer) ScoreIssue(ctx context.Context, r *githost.IssueRecord) (*ScoredItem, error) {
	intent, confidence := s.classifier.Classify(ctx, r.Title, r.Body, nil)

	sc := signalContext{
		trustContributors: s.trustContributors,
		reputation:        s.reputationOf(r.Author),
		intent:            intent,
	}
	spam, spamReasons := issueSpamSignal(r, sc)
	signals := []SignalScore{
		issueContributorSignal(r, sc),
		spam,
		stalenessSignal(r.AgeInDays),
		bodyQualitySignal(r.Body),
		activitySignal(r.CommentCount),
		engagementSignal(r.ReactionCount),
		milestoneSignal(r.Milestone),
		labelPrioritySignal(r.Labels),
		linkedPRSignal(r),
		intentSignal(intent),
	}
	signals = applyWeightProfile(signals, intent)

	item := &ScoredItem{
		Issue:            r,
		Signals:          signals,
		VisionAlignment:  VisionUnchecked,
		Intent:           intent,
		IntentConfidence: confidence,
		SpamReasons:      spamReasons,
	}
	s.finalize(ctx, item, fmt.Sprintf("issue #%d", r.Number))
	return item, nil
}

// finalize blends heuristic and LLM scores and sets the spam flag.
func (s *Scorer) finalize(ctx context.Context, item *ScoredItem, label string) {
	heuristic := weightedMean(item.Signals)

	if s.provider != nil {
		if j, err := s.llmJudge(ctx, item); err != nil {
			slog.Warn("LLM scoring failed, using heuristic only",
				"item", label, "error", err)
		} else {
			item.LLMScore = &j.Score
			item.LLMRisk = j.Risk
			item.LLMReason = j.Reason
		}
	}

	if item.LLMScore != nil {
		item.TotalScore = int(math.Round(
			heuristicBlendWeight*heuristic + llmBlendWeight*float64(*item.LLMScore)))
	} else {
		item.TotalScore = int(math.Round(heuristic))
	}
	if item.TotalScore < 0 {
		item.TotalScore = 0
	}
	if item.TotalScore > 100 {
		item.TotalScore = 100
	}

	if spam := item.Signal("spam"); spam != nil {
		item.IsSpam = spam.Score < s.spamThreshold
	}
}

// ScoreMany scores records concurrently under the gate. Records that fail are
// logged and excluded; the result holds only successes, in input order.
func (s *Scorer) ScoreMany(ctx context.Context, records []*githost.PRRecord) []*ScoredItem {
	results := make([]*ScoredItem, len(records))
	var eg errgroup.Group
	for i, r := range records {
		eg.Go(func() error {
			return s.gate.Execute(ctx, func(ctx context.Context) error {
				item, err := s.Score(ctx, r)
				if err != nil {
					slog.Warn("scoring failed", "pr", r.Number, "error", err)
					return nil
				}
				results[i] = item
				return nil
			})
		})
	}
	// Per-record errors are swallowed above; only cancellation surfaces here.
	_ = eg.Wait()

	out := make([]*ScoredItem, 0, len(records))
	for _, item := range results {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}

// ScoreManyIssues is ScoreMany for issues.
func (s *Scorer) ScoreManyIssues(ctx context.Context, records []*githost.IssueRecord) []*ScoredItem {
	results := make([]*ScoredItem, len(records))
	var eg errgroup.Group
	for i, r := range records {
		eg.Go(func() error {
			return s.gate.Execute(ctx, func(ctx context.Context) error {
				item, err := s.ScoreIssue(ctx, r)
				if err != nil {
					slog.Warn("scoring failed", "issue", r.Number, "error", err)
					return nil
				}
				results[i] = item
				return nil
			})
		})
	}
	_ = eg.Wait()

	out := make([]*ScoredItem, 0, len(records))
	for _, item := range results {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}

// llmJudgement is the structured verdict requested from the provider.
type llmJudgement struct {
	Score  int       `json:"score"`
	Risk   RiskLevel `json:"risk"`
	Reason string    `json:"reason"`
}

func (s *Scorer) llmJudge(ctx context.Context, item *ScoredItem) (*llmJudgement, error) {
	raw, err := s.provider.GenerateText(ctx, s.judgePrompt(item), llm.TextOptions{
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, err
	}
	j, err := llm.ParseJSON[llmJudgement](raw)
	if err != nil {
		return nil, err
	}
	if j.Score < 0 {
		j.Score = 0
	}
	if j.Score > 100 {
		j.Score = 100
	}
	switch j.Risk {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		j.Risk = RiskMedium
	}
	return &j, nil
}

func (s *Scorer) judgePrompt(item *ScoredItem) string {
	var b strings.Builder
	b.WriteString("You are triaging a repository queue. Rate the value of merging or acting on this item.\n\n")
	if item.PR != nil {
		r := item.PR
		fmt.Fprintf(&b, "Pull request #%d by %s (%s)\nTitle: %s\n", r.Number, r.Author, r.AuthorAssociation, r.Title)
		fmt.Fprintf(&b, "Diff: +%d/-%d across %d files, %d commits. CI: %s. Mergeable: %s. Reviews: %s.\n",
			r.Additions, r.Deletions, r.FilesChanged, r.Commits, r.CIStatus, r.Mergeable, r.ReviewState)
		fmt.Fprintf(&b, "Tests changed: %v. Draft: %v.\n", r.HasTests, r.IsDraft)
	} else if item.Issue != nil {
		r := item.Issue
		fmt.Fprintf(&b, "Issue #%d by %s (%s)\nTitle: %s\n", r.Number, r.Author, r.AuthorAssociation, r.Title)
		fmt.Fprintf(&b, "Comments: %d. Reactions: %d. Labels: %v.\n", r.CommentCount, r.ReactionCount, r.Labels)
	}
	fmt.Fprintf(&b, "\nBody:\n%s\n", truncateBody(item.Body(), 2000))
	fmt.Fprintf(&b, "\nClassified intent: %s. Heuristic signals summary: %s\n", item.Intent, signalSummary(item.Signals))
	b.WriteString(`
Respond with JSON only: {"score": <0-100>, "risk": "low"|"medium"|"high", "reason": "<one sentence>"}`)
	return b.String()
}

func signalSummary(signals []SignalScore) string {
	parts := make([]string, 0, len(signals))
	for _, s := range signals {
		parts = append(parts, fmt.Sprintf("%s=%d", s.Name, s.Score))
	}
	return strings.Join(parts, ", ")
}

func truncateBody(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// --- issue-only signals ---

func issueContributorSignal(r *githost.IssueRecord, sc signalContext) SignalScore {
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

func issueSpamSignal(r *githost.IssueRecord, sc signalContext) (SignalScore, []string) {
	if sc.trustContributors && trustedAssociations[r.AuthorAssociation] {
		return SignalScore{Name: "spam", Score: 100, Weight: 0.12,
			Reason: "trusted contributor"}, nil
	}
	points := 0
	var reasons []string
	if len(strings.TrimSpace(r.Body)) < 20 {
		points += 2
		reasons = append(reasons, "empty or trivial description")
	}
	if len(strings.TrimSpace(r.Title)) < 10 {
		points++
		reasons = append(reasons, "very short title")
	}
	if r.CommentCount == 0 && r.ReactionCount == 0 && r.AgeInDays > 30 {
		points++
		reasons = append(reasons, "no engagement after 30 days")
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

func engagementSignal(reactions int) SignalScore {
	var score int
	switch {
	case reactions >= 10:
		score = 95
	case reactions >= 3:
		score = 75
	case reactions >= 1:
		score = 55
	default:
		score = 35
	}
	return SignalScore{Name: "engagement", Score: score, Weight: 0.08,
		Reason: fmt.Sprintf("%d reaction(s)", reactions)}
}

func linkedPRSignal(r *githost.IssueRecord) SignalScore {
	if len(r.LinkedPRs) > 0 {
		return SignalScore{Name: "linked_prs", Score: 85, Weight: 0.06,
			Reason: fmt.Sprintf("%d linked PR(s)", len(r.LinkedPRs))}
	}
	return SignalScore{Name: "linked_prs", Score: 40, Weight: 0.06, Reason: "no linked PRs"}
}
