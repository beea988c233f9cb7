package scan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/treliq/treliq/internal/triage"
)

// Format is an output rendering for scan results.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatTable, FormatJSON, FormatMarkdown:
		return Format(s), nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown format %q, expected table, json, or markdown", s)
	}
}

// Render writes the result to w in the chosen format.
func Render(w io.Writer, result *Result, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatMarkdown:
		return renderMarkdown(w, result)
	default:
		return renderTable(w, result)
	}
}

func renderTable(w io.Writer, result *Result) error {
	if result.TotalPRs == 0 {
		fmt.Fprintln(w, "No PRs found.")
		return nil
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers("Rank", "PR", "Score", "Intent", "Risk", "Flags", "Title").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for i, item := range result.RankedPRs {
		t = t.Row(
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("#%d", item.Number()),
			fmt.Sprintf("%d", item.TotalScore),
			string(item.Intent),
			string(item.LLMRisk),
			flags(item),
			truncateTitle(item.Title(), 60),
		)
	}

	fmt.Fprintln(w, t.String())
	fmt.Fprintln(w, result.Summary)
	return nil
}

func renderMarkdown(w io.Writer, result *Result) error {
	fmt.Fprintf(w, "## Triage report for %s\n\n", result.Repo)
	fmt.Fprintf(w, "%s\n\n", result.Summary)
	if result.TotalPRs == 0 {
		return nil
	}

	fmt.Fprintln(w, "| Rank | PR | Score | Intent | Risk | Flags | Title |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for i, item := range result.RankedPRs {
		fmt.Fprintf(w, "| %d | #%d | %d | %s | %s | %s | %s |\n",
			i+1, item.Number(), item.TotalScore, item.Intent, item.LLMRisk,
			flags(item), escapePipes(truncateTitle(item.Title(), 80)))
	}

	if len(result.DuplicateClusters) > 0 {
		fmt.Fprintln(w, "\n### Duplicate clusters")
		for _, c := range result.DuplicateClusters {
			numbers := make([]string, len(c.Members))
			for i, m := range c.Members {
				numbers[i] = fmt.Sprintf("#%d", m.Number())
			}
			fmt.Fprintf(w, "- %s (best: #%d, %.0f%% similar)\n",
				strings.Join(numbers, ", "), c.BestMemberNumber, c.AvgSimilarity*100)
		}
	}
	return nil
}

func flags(item *triage.ScoredItem) string {
	var out []string
	if item.IsSpam {
		out = append(out, "spam")
	}
	if item.DuplicateGroup != nil {
		out = append(out, fmt.Sprintf("dup:%d", *item.DuplicateGroup))
	}
	if item.VisionAlignment == triage.VisionOffRoadmap {
		out = append(out, "off-roadmap")
	}
	return strings.Join(out, ",")
}

func truncateTitle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
