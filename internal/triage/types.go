// Package triage scores pull requests and issues with a weighted multi-signal
// composite, optionally blended with an LLM judgement.
package triage

import (
	"sort"

	"github.com/treliq/treliq/internal/githost"
)

// Intent is the categorical purpose of a change.
type Intent string

const (
	IntentBugfix     Intent = "bugfix"
	IntentFeature    Intent = "feature"
	IntentRefactor   Intent = "refactor"
	IntentDependency Intent = "dependency"
	IntentDocs       Intent = "docs"
	IntentChore      Intent = "chore"
)

// knownIntents is the closed set accepted from the LLM classifier.
var knownIntents = map[Intent]bool{
	IntentBugfix: true, IntentFeature: true, IntentRefactor: true,
	IntentDependency: true, IntentDocs: true, IntentChore: true,
}

// VisionAlignment is the relation of an item to the repository vision document.
type VisionAlignment string

const (
	VisionAligned    VisionAlignment = "aligned"
	VisionTangential VisionAlignment = "tangential"
	VisionOffRoadmap VisionAlignment = "off-roadmap"
	VisionUnchecked  VisionAlignment = "unchecked"
)

// RiskLevel is the LLM's risk judgement for a change.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// SignalScore is one heuristic signal's contribution to an item's score.
type SignalScore struct {
	Name   string  `json:"name"`
	Score  int     `json:"score"`  // 0..100
	Weight float64 `json:"weight"` // (0,1]
	Reason string  `json:"reason"`
}

// ScoredItem is a PR or issue enriched with its triage result. Exactly one of
// PR and Issue is set. Dedup and vision enrich it after scoring; each
// enrichment is idempotent and independent of the other.
type ScoredItem struct {
	PR    *githost.PRRecord    `json:"pr,omitempty"`
	Issue *githost.IssueRecord `json:"issue,omitempty"`

	TotalScore int           `json:"totalScore"`
	Signals    []SignalScore `json:"signals"`

	Embedding []float32 `json:"embedding,omitempty"`

	VisionAlignment VisionAlignment `json:"visionAlignment"`
	VisionScore     *int            `json:"visionScore,omitempty"`

	LLMScore  *int      `json:"llmScore,omitempty"`
	LLMRisk   RiskLevel `json:"llmRisk,omitempty"`
	LLMReason string    `json:"llmReason,omitempty"`

	Intent           Intent  `json:"intent,omitempty"`
	IntentConfidence float64 `json:"intentConfidence,omitempty"`

	DuplicateGroup *int     `json:"duplicateGroup,omitempty"`
	IsSpam         bool     `json:"isSpam"`
	SpamReasons    []string `json:"spamReasons,omitempty"`
}

// Number returns the PR or issue number.
func (s *ScoredItem) Number() int {
	if s.PR != nil {
		return s.PR.Number
	}
	if s.Issue != nil {
		return s.Issue.Number
	}
	return 0
}

// IsPR reports whether the item is a pull request.
func (s *ScoredItem) IsPR() bool { return s.PR != nil }

// Title returns the item title.
func (s *ScoredItem) Title() string {
	if s.PR != nil {
		return s.PR.Title
	}
	if s.Issue != nil {
		return s.Issue.Title
	}
	return ""
}

// Body returns the item body.
func (s *ScoredItem) Body() string {
	if s.PR != nil {
		return s.PR.Body
	}
	if s.Issue != nil {
		return s.Issue.Body
	}
	return ""
}

// Signal returns the named signal, or nil.
func (s *ScoredItem) Signal(name string) *SignalScore {
	for i := range s.Signals {
		if s.Signals[i].Name == name {
			return &s.Signals[i]
		}
	}
	return nil
}

// SortRanked orders items (totalScore desc, number asc) in place: a stable
// total order regardless of input order.
func SortRanked(items []*ScoredItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].TotalScore != items[j].TotalScore {
			return items[i].TotalScore > items[j].TotalScore
		}
		return items[i].Number() < items[j].Number()
	})
}
