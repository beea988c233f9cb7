package githost

import (
	"context"
	"regexp"
	"strings"
)

// codeownersPaths are tried in order; the first file found wins.
var codeownersPaths = []string{".github/CODEOWNERS", "CODEOWNERS", "docs/CODEOWNERS"}

// CodeownerRule is one pattern line of a CODEOWNERS file.
type CodeownerRule struct {
	Pattern string
	Owners  []string

	re *regexp.Regexp
}

// CodeownersFile is the ordered rule set of a repository's CODEOWNERS file.
type CodeownersFile struct {
	Rules []CodeownerRule
}

// FetchCodeowners locates and parses the repository CODEOWNERS file.
// Returns nil when no file exists at any of the conventional paths.
func (c *Client) FetchCodeowners(ctx context.Context) (*CodeownersFile, error) {
	for _, path := range codeownersPaths {
		content, err := c.fetchFileContent(ctx, path)
		if err != nil || content == "" {
			continue
		}
		return ParseCodeowners(content), nil
	}
	return nil, nil
}

// ParseCodeowners parses CODEOWNERS content: non-comment non-empty lines of
// the form "pattern owner...", with any leading "@" stripped from owners.
func ParseCodeowners(content string) *CodeownersFile {
	file := &CodeownersFile{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		rule := CodeownerRule{
			Pattern: fields[0],
			re:      compileOwnerGlob(fields[0]),
		}
		for _, owner := range fields[1:] {
			rule.Owners = append(rule.Owners, strings.TrimPrefix(owner, "@"))
		}
		file.Rules = append(file.Rules, rule)
	}
	return file
}

// OwnersFor returns the union of owners whose pattern matches any of the
// given changed files, preserving rule order and deduplicating.
func (f *CodeownersFile) OwnersFor(files []string) []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]bool)
	var owners []string
	for _, rule := range f.Rules {
		if rule.re == nil {
			continue
		}
		matched := false
		for _, file := range files {
			if rule.re.MatchString(file) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		for _, o := range rule.Owners {
			if !seen[o] {
				seen[o] = true
				owners = append(owners, o)
			}
		}
	}
	return owners
}

// compileOwnerGlob converts a CODEOWNERS glob to a regexp:
// "*" → ".*", "?" → ".", "." → "\.", implicitly anchored to the path.
func compileOwnerGlob(pattern string) *regexp.Regexp {
	pattern = strings.TrimPrefix(pattern, "/")
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		case '.':
			b.WriteString(`\.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}
