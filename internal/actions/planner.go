// Package actions derives close/merge/label plans from scored items and
// executes them against the host with a staleness guard.
package actions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/triage"
)

// Kind is the action verb.
type Kind string

const (
	KindClose Kind = "close"
	KindMerge Kind = "merge"
	KindLabel Kind = "label"
)

// ItemType tells whether the target is a PR or an issue.
type ItemType string

const (
	TypePR    ItemType = "pr"
	TypeIssue ItemType = "issue"
)

// Item is one planned action against a single target.
type Item struct {
	Kind        Kind     `json:"kind"`
	Target      int      `json:"target"`
	ItemType    ItemType `json:"itemType"`
	Reason      string   `json:"reason"`
	Label       string   `json:"label,omitempty"`
	MergeMethod string   `json:"mergeMethod,omitempty"`
	Comment     string   `json:"comment,omitempty"`
	// PreferredMember is set on close-duplicate actions: the member kept open.
	PreferredMember int `json:"preferredMember,omitempty"`
}

// Planner derives action plans. All plans honour the exclude set and the
// per-plan batch limit.
type Planner struct {
	MergeThreshold int
	MergeMethod    string
	BatchLimit     int
	Exclude        map[int]bool
}

// NewPlanner creates a planner with a merge threshold of 85 and a batch
// limit of 10.
func NewPlanner() *Planner {
	return &Planner{
		MergeThreshold: 85,
		MergeMethod:    "squash",
		BatchLimit:     10,
		Exclude:        make(map[int]bool),
	}
}

func (p *Planner) excluded(number int) bool { return p.Exclude[number] }

func (p *Planner) capped(items []Item) []Item {
	if p.BatchLimit > 0 && len(items) > p.BatchLimit {
		return items[:p.BatchLimit]
	}
	return items
}

func itemType(item *triage.ScoredItem) ItemType {
	if item.IsPR() {
		return TypePR
	}
	return TypeIssue
}

// CloseDuplicates plans closing every non-best member of each cluster, with a
// comment pointing at the kept member and the cluster similarity.
func (p *Planner) CloseDuplicates(clusters []dedup.Cluster) []Item {
	var out []Item
	for _, c := range clusters {
		for _, m := range c.Members {
			if m.Number() == c.BestMemberNumber || p.excluded(m.Number()) {
				continue
			}
			out = append(out, Item{
				Kind:     KindClose,
				Target:   m.Number(),
				ItemType: itemType(m),
				Reason:   fmt.Sprintf("duplicate of #%d", c.BestMemberNumber),
				Comment: fmt.Sprintf(
					"Closing as a duplicate of #%d (%.0f%% similar). Please continue the discussion there.",
					c.BestMemberNumber, c.AvgSimilarity*100),
				PreferredMember: c.BestMemberNumber,
			})
		}
	}
	return p.capped(out)
}

// CloseSpam plans closing every spam-flagged item.
func (p *Planner) CloseSpam(items []*triage.ScoredItem) []Item {
	var out []Item
	for _, item := range items {
		if !item.IsSpam || p.excluded(item.Number()) {
			continue
		}
		reason := "flagged as spam"
		if len(item.SpamReasons) > 0 {
			reason = "flagged as spam: " + strings.Join(item.SpamReasons, "; ")
		}
		out = append(out, Item{
			Kind:     KindClose,
			Target:   item.Number(),
			ItemType: itemType(item),
			Reason:   reason,
			Comment:  "Closing this as it does not meet the contribution bar. Feel free to reopen with more detail.",
		})
	}
	return p.capped(out)
}

// AutoMerge plans merging PRs that pass every gate: score at or above the
// threshold, clean merge state, approved, green CI, not high risk, not draft.
func (p *Planner) AutoMerge(items []*triage.ScoredItem) []Item {
	var out []Item
	for _, item := range items {
		pr := item.PR
		if pr == nil || p.excluded(pr.Number) {
			continue
		}
		if item.TotalScore < p.MergeThreshold ||
			pr.Mergeable != "mergeable" ||
			pr.ReviewState != "approved" ||
			pr.CIStatus != "success" ||
			item.LLMRisk == triage.RiskHigh ||
			pr.IsDraft {
			continue
		}
		out = append(out, Item{
			Kind:        KindMerge,
			Target:      pr.Number,
			ItemType:    TypePR,
			Reason:      fmt.Sprintf("score %d, approved, CI green", item.TotalScore),
			MergeMethod: p.MergeMethod,
		})
	}
	return p.capped(out)
}

// LabelIntents plans an intent:<value> label for every classified item.
func (p *Planner) LabelIntents(items []*triage.ScoredItem) []Item {
	var out []Item
	for _, item := range items {
		if item.Intent == "" || p.excluded(item.Number()) {
			continue
		}
		out = append(out, Item{
			Kind:     KindLabel,
			Target:   item.Number(),
			ItemType: itemType(item),
			Reason:   fmt.Sprintf("classified as %s (confidence %.1f)", item.Intent, item.IntentConfidence),
			Label:    "intent:" + string(item.Intent),
		})
	}
	return p.capped(out)
}

// FormatDryRun renders a plan as the text shown before --confirm.
func FormatDryRun(plan []Item) string {
	if len(plan) == 0 {
		return "No actions planned."
	}
	sorted := append([]Item(nil), plan...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Target < sorted[j].Target })

	var b strings.Builder
	fmt.Fprintf(&b, "Planned actions (%d):\n", len(sorted))
	for _, item := range sorted {
		switch item.Kind {
		case KindMerge:
			fmt.Fprintf(&b, "  merge  #%-5d %s (%s)\n", item.Target, item.Reason, item.MergeMethod)
		case KindLabel:
			fmt.Fprintf(&b, "  label  #%-5d %s -> %s\n", item.Target, item.Reason, item.Label)
		default:
			fmt.Fprintf(&b, "  close  #%-5d %s\n", item.Target, item.Reason)
		}
	}
	b.WriteString("\nRe-run with --confirm to execute.")
	return b.String()
}
