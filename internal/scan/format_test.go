package scan

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treliq/treliq/internal/dedup"
	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/triage"
)

func sampleResult() *Result {
	group := 0
	items := []*triage.ScoredItem{
		{
			PR:         &githost.PRRecord{Number: 2, Title: "fix: handle nil config"},
			TotalScore: 88,
			Intent:     triage.IntentBugfix,
			LLMRisk:    triage.RiskLow,
		},
		{
			PR:             &githost.PRRecord{Number: 5, Title: "Update README | badges"},
			TotalScore:     12,
			Intent:         triage.IntentDocs,
			IsSpam:         true,
			DuplicateGroup: &group,
		},
	}
	r := &Result{
		ID:        "scan-1",
		Repo:      "acme/widgets",
		ScannedAt: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		TotalPRs:  2,
		SpamCount: 1,
		RankedPRs: items,
		DuplicateClusters: []dedup.Cluster{{
			ID:               0,
			Members:          items[1:],
			BestMemberNumber: 5,
			AvgSimilarity:    0.9,
		}},
	}
	r.Summary = buildSummary(r)
	return r
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	for _, name := range []string{"table", "json", "markdown"} {
		f, err := ParseFormat(name)
		require.NoError(t, err)
		assert.Equal(t, Format(name), f)
	}

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResult(), FormatJSON))

	var decoded Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "acme/widgets", decoded.Repo)
	assert.Len(t, decoded.RankedPRs, 2)
	assert.Equal(t, 88, decoded.RankedPRs[0].TotalScore)
}

func TestRender_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResult(), FormatTable))

	out := buf.String()
	assert.Contains(t, out, "#2")
	assert.Contains(t, out, "88")
	assert.Contains(t, out, "bugfix")
	assert.Contains(t, out, "spam")
	assert.Contains(t, out, "2 PRs scanned, 1 spam, 1 duplicate cluster(s); top: #2 (88)")
}

func TestRender_TableEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &Result{Summary: "No PRs found"}, FormatTable))
	assert.Contains(t, buf.String(), "No PRs found.")
}

func TestRender_Markdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResult(), FormatMarkdown))

	out := buf.String()
	assert.Contains(t, out, "## Triage report for acme/widgets")
	assert.Contains(t, out, "| 1 | #2 | 88 | bugfix | low |")
	assert.Contains(t, out, `Update README \| badges`)
	assert.Contains(t, out, "### Duplicate clusters")
	assert.Contains(t, out, "best: #5, 90% similar")
}

func TestFlags(t *testing.T) {
	group := 3
	item := &triage.ScoredItem{
		PR:              &githost.PRRecord{Number: 1},
		IsSpam:          true,
		DuplicateGroup:  &group,
		VisionAlignment: triage.VisionOffRoadmap,
	}
	assert.Equal(t, "spam,dup:3,off-roadmap", flags(item))
	assert.Equal(t, "", flags(&triage.ScoredItem{PR: &githost.PRRecord{Number: 2}}))
}

func TestBuildSummary(t *testing.T) {
	assert.Equal(t, "No PRs found", buildSummary(&Result{}))

	r := sampleResult()
	assert.Equal(t, "2 PRs scanned, 1 spam, 1 duplicate cluster(s); top: #2 (88)", r.Summary)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "short", truncateTitle("short", 10))
	assert.Equal(t, "abcdefg...", truncateTitle("abcdefghijklmno", 10))
}
