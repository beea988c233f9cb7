package githost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCodeowners = `# Default owners
* @core-team

# Docs
docs/* @writer
*.md @writer @editor

internal/server/* @backend-lead
`

func TestParseCodeowners(t *testing.T) {
	f := ParseCodeowners(sampleCodeowners)
	require.Len(t, f.Rules, 4)

	assert.Equal(t, "*", f.Rules[0].Pattern)
	assert.Equal(t, []string{"core-team"}, f.Rules[0].Owners)
	assert.Equal(t, []string{"writer", "editor"}, f.Rules[2].Owners)
}

func TestParseCodeowners_SkipsCommentsAndBlanks(t *testing.T) {
	f := ParseCodeowners("# only a comment\n\n   \n")
	assert.Empty(t, f.Rules)
}

func TestParseCodeowners_SkipsPatternWithoutOwner(t *testing.T) {
	f := ParseCodeowners("orphan-pattern\n*.go @gopher\n")
	require.Len(t, f.Rules, 1)
	assert.Equal(t, "*.go", f.Rules[0].Pattern)
}

func TestOwnersFor(t *testing.T) {
	f := ParseCodeowners(sampleCodeowners)

	owners := f.OwnersFor([]string{"internal/server/api.go"})
	assert.Equal(t, []string{"core-team", "backend-lead"}, owners)

	owners = f.OwnersFor([]string{"docs/guide.md"})
	assert.Equal(t, []string{"core-team", "writer", "editor"}, owners)
}

func TestOwnersFor_Deduplicates(t *testing.T) {
	f := ParseCodeowners("docs/* @writer\n*.md @writer\n")
	owners := f.OwnersFor([]string{"docs/a.md", "README.md"})
	assert.Equal(t, []string{"writer"}, owners)
}

func TestOwnersFor_NilFile(t *testing.T) {
	var f *CodeownersFile
	assert.Nil(t, f.OwnersFor([]string{"main.go"}))
}

func TestOwnersFor_NoMatch(t *testing.T) {
	f := ParseCodeowners("docs/* @writer\n")
	assert.Empty(t, f.OwnersFor([]string{"src/main.go"}))
}

func TestCompileOwnerGlob(t *testing.T) {
	re := compileOwnerGlob("/cmd/*.go")
	require.NotNil(t, re)
	assert.True(t, re.MatchString("cmd/main.go"))
	assert.False(t, re.MatchString("internal/cmd.md"))

	re = compileOwnerGlob("*.md")
	require.NotNil(t, re)
	assert.True(t, re.MatchString("README.md"))
	assert.True(t, re.MatchString("docs/guide.md"))
}
