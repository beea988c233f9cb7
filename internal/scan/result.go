package scan

import (
	"fmt"
	"time"

	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/triage"
)

// Result is the assembled outcome of one repository scan.
type Result struct {
	ID                string               `json:"id"`
	Repo              string               `json:"repo"`
	ScannedAt         time.Time            `json:"scannedAt"`
	TotalPRs          int                  `json:"totalPRs"`
	SpamCount         int                  `json:"spamCount"`
	DuplicateClusters []dedup.Cluster      `json:"duplicateClusters"`
	RankedPRs         []*triage.ScoredItem `json:"rankedPRs"`
	RankedIssues      []*triage.ScoredItem `json:"rankedIssues,omitempty"`
	Summary           string               `json:"summary"`
}

// buildSummary renders the one-line scan digest.
func buildSummary(r *Result) string {
	if r.TotalPRs == 0 {
		return "No PRs found"
	}
	top := ""
	if len(r.RankedPRs) > 0 {
		best := r.RankedPRs[0]
		top = fmt.Sprintf("; top: #%d (%d)", best.Number(), best.TotalScore)
	}
	return fmt.Sprintf("%d PRs scanned, %d spam, %d duplicate cluster(s)%s",
		r.TotalPRs, r.SpamCount, len(r.DuplicateClusters), top)
}
