package githost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractIssueRefs_ClosingPhrases(t *testing.T) {
	cases := []struct {
		name  string
		title string
		body  string
		want  []int
	}{
		{"fixes", "Fix crash on empty input", "Fixes #12", []int{12}},
		{"closes", "cleanup", "Closes #3 and closes #4", []int{3, 4}},
		{"resolves", "patch", "This resolves: #99", []int{99}},
		{"related to", "feature", "Related to #7", []int{7}},
		{"refs", "tweak", "refs #55", []int{55}},
		{"case insensitive", "fix", "FIXES #8", []int{8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractIssueRefs(tc.title, tc.body))
		})
	}
}

func TestExtractIssueRefs_LooseFallback(t *testing.T) {
	refs := ExtractIssueRefs("Follow-up to #10", "see also #20")
	assert.Equal(t, []int{10, 20}, refs)
}

func TestExtractIssueRefs_LooseKeepsDuplicates(t *testing.T) {
	refs := ExtractIssueRefs("About #5", "more on #5")
	assert.Equal(t, []int{5, 5}, refs)
}

func TestExtractIssueRefs_StrongWinsOverLoose(t *testing.T) {
	refs := ExtractIssueRefs("Mentions #1", "Fixes #2, also touches #3")
	assert.Equal(t, []int{2}, refs)
}

func TestExtractIssueRefs_BoundsLooseNumbers(t *testing.T) {
	refs := ExtractIssueRefs("", "#0 #100000 #42")
	assert.Equal(t, []int{42}, refs)
}

func TestExtractIssueRefs_None(t *testing.T) {
	assert.Empty(t, ExtractIssueRefs("plain title", "plain body"))
}

func TestIsTestFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"internal/foo/bar_test.go", true},
		{"src/app.test.ts", true},
		{"src/app.spec.js", true},
		{"test_parser.py", true},
		{"tests/integration.py", true},
		{"pkg/__tests__/util.js", true},
		{"internal/foo/bar.go", false},
		{"README.md", false},
		{"src/contest/winner.go", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isTestFile(tc.path), tc.path)
	}
}

func TestTestFiles(t *testing.T) {
	out := testFiles([]string{"a.go", "a_test.go", "docs/guide.md", "spec/x.rb"})
	assert.Equal(t, []string{"a_test.go", "spec/x.rb"}, out)
}
