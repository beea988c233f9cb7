package triage

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/treliq/treliq/internal/llm"
)

// IntentClassifier resolves the categorical purpose of a change through a
// cascade: conventional-commit prefix, then LLM classification, then a
// keyword heuristic. Earlier stages win.
type IntentClassifier struct {
	provider llm.Provider // nil skips the LLM stage
}

// NewIntentClassifier creates a classifier. provider may be nil.
func NewIntentClassifier(provider llm.Provider) *IntentClassifier {
	return &IntentClassifier{provider: provider}
}

// conventionalIntents maps conventional-commit types to intents.
var conventionalIntents = map[string]Intent{
	"fix": IntentBugfix, "hotfix": IntentBugfix,
	"feat": IntentFeature, "feature": IntentFeature,
	"refactor": IntentRefactor, "perf": IntentRefactor,
	"docs": IntentDocs, "doc": IntentDocs,
	"ci": IntentChore, "build": IntentChore, "style": IntentChore,
	"test": IntentChore, "chore": IntentChore,
}

var depsScopePattern = regexp.MustCompile(`(?i)^deps|dependencies$`)

// Classify returns the intent and a confidence in [0,1].
func (c *IntentClassifier) Classify(ctx context.Context, title, body string, files []string) (Intent, float64) {
	if intent, ok := classifyConventional(title); ok {
		return intent, 1.0
	}

	if c.provider != nil {
		if intent, confidence, ok := c.classifyLLM(ctx, title, body); ok {
			return intent, confidence
		}
	}

	return classifyKeywords(title, body, files)
}

func classifyConventional(title string) (Intent, bool) {
	m := conventionalPattern.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	typ := strings.ToLower(m[1])
	intent, ok := conventionalIntents[typ]
	if !ok {
		return "", false
	}
	// chore(deps) and build(deps) are dependency bumps, not chores.
	if (typ == "chore" || typ == "build") && m[2] != "" {
		scope := strings.Trim(m[2], "()")
		if depsScopePattern.MatchString(scope) {
			return IntentDependency, true
		}
	}
	return intent, true
}

type llmIntent struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (c *IntentClassifier) classifyLLM(ctx context.Context, title, body string) (Intent, float64, bool) {
	prompt := `Classify the intent of this change as exactly one of: bugfix, feature, refactor, dependency, docs, chore.

Title: ` + title + `
Body: ` + truncateBody(body, 1000) + `

Respond with JSON only: {"intent": "<value>", "confidence": <0-1>, "reason": "<one sentence>"}`

	raw, err := c.provider.GenerateText(ctx, prompt, llm.TextOptions{Temperature: 0, MaxTokens: 150})
	if err != nil {
		slog.Debug("LLM intent classification failed", "error", err)
		return "", 0, false
	}
	parsed, err := llm.ParseJSON[llmIntent](raw)
	if err != nil {
		slog.Debug("LLM intent response unparseable", "error", err)
		return "", 0, false
	}
	intent := Intent(strings.ToLower(strings.TrimSpace(parsed.Intent)))
	if !knownIntents[intent] {
		return "", 0, false
	}
	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return intent, confidence, true
}

var (
	depKeywordPattern      = regexp.MustCompile(`(?i)\b(bump|upgrade|update)\b.*\b(dependency|dependencies|deps|version)\b|\bdependabot\b|\brenovate\b`)
	bugfixKeywordPattern   = regexp.MustCompile(`(?i)\b(fix|bug|crash|error|issue|resolve|patch|hotfix)\b`)
	refactorKeywordPattern = regexp.MustCompile(`(?i)\b(refactor|restructure|reorganize|cleanup|simplify|extract|move)\b`)
)

// depFiles are manifests whose change strongly implies a dependency bump.
var depFiles = map[string]bool{
	"go.mod": true, "go.sum": true,
	"package.json": true, "package-lock.json": true, "yarn.lock": true,
	"pnpm-lock.yaml": true, "requirements.txt": true, "pyproject.toml": true,
	"poetry.lock": true, "cargo.toml": true, "cargo.lock": true,
	"gemfile": true, "gemfile.lock": true,
}

func classifyKeywords(title, body string, files []string) (Intent, float64) {
	text := title + " " + body

	if depKeywordPattern.MatchString(text) || touchesDepFiles(files) {
		return IntentDependency, 0.8
	}
	if docsOnly(files) {
		return IntentDocs, 0.8
	}
	if bugfixKeywordPattern.MatchString(text) {
		return IntentBugfix, 0.6
	}
	if refactorKeywordPattern.MatchString(text) {
		return IntentRefactor, 0.6
	}
	return IntentFeature, 0.5
}

func touchesDepFiles(files []string) bool {
	for _, f := range files {
		base := strings.ToLower(f)
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		if depFiles[base] {
			return true
		}
	}
	return false
}
