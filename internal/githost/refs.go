package githost

import (
	"regexp"
	"strconv"
	"strings"
)

// strongRefPattern matches conventional closing phrases followed by an issue
// number, e.g. "fixes #12", "related to #99".
var strongRefPattern = regexp.MustCompile(`(?i)\b(?:close[sd]?|fix(?:e[sd])?|resolve[sd]?|related\s+to|addresses|refs?)\b[:\s]+#(\d+)`)

// looseRefPattern matches any "#N" token.
var looseRefPattern = regexp.MustCompile(`#(\d+)`)

// ExtractIssueRefs finds issue numbers referenced by a PR. Strong closing
// phrases are preferred; when none match, any "#N" with 0 < N < 100000 in
// title+body is taken. The loose fallback may yield duplicate numbers.
func ExtractIssueRefs(title, body string) []int {
	text := title + "\n" + body

	var refs []int
	for _, m := range strongRefPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			refs = append(refs, n)
		}
	}
	if len(refs) > 0 {
		return refs
	}

	for _, m := range looseRefPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || n >= 100000 {
			continue
		}
		refs = append(refs, n)
	}
	return refs
}

// testFiles returns the subset of paths that look like test files.
func testFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if isTestFile(p) {
			out = append(out, p)
		}
	}
	return out
}

func isTestFile(path string) bool {
	lower := strings.ToLower(path)
	base := lower
	if i := strings.LastIndexByte(lower, '/'); i >= 0 {
		base = lower[i+1:]
	}
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.Contains(base, ".test."),
		strings.Contains(base, ".spec."),
		strings.HasPrefix(base, "test_"):
		return true
	}
	for _, dir := range []string{"test/", "tests/", "__tests__/", "spec/"} {
		if strings.HasPrefix(lower, dir) || strings.Contains(lower, "/"+dir) {
			return true
		}
	}
	return false
}
