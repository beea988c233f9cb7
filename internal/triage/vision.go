package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/treliq/treliq/internal/gate"
	"github.com/treliq/treliq/internal/llm"
)

// VisionChecker scores items against a repository vision or roadmap document.
// Without a provider or a document it is a no-op and alignment stays unchecked.
type VisionChecker struct {
	provider  llm.Provider
	visionDoc string
	gate      *gate.Gate
}

// NewVisionChecker creates a checker. Either argument may be empty/nil.
func NewVisionChecker(provider llm.Provider, visionDoc string) *VisionChecker {
	return &VisionChecker{
		provider:  provider,
		visionDoc: visionDoc,
		gate:      gate.New(3),
	}
}

// Enabled reports whether the checker can actually check anything.
func (v *VisionChecker) Enabled() bool {
	return v.provider != nil && strings.TrimSpace(v.visionDoc) != ""
}

type visionVerdict struct {
	Alignment string `json:"alignment"`
	Score     int    `json:"score"`
	Reason    string `json:"reason"`
}

// Check scores one item's alignment. The item is mutated in place; a failed
// call leaves it unchecked.
func (v *VisionChecker) Check(ctx context.Context, item *ScoredItem) error {
	if !v.Enabled() {
		return nil
	}
	prompt := fmt.Sprintf(`Given this project vision document:

%s

Does the following change align with the project direction?

Title: %s
Body: %s

Respond with JSON only: {"alignment": "aligned"|"tangential"|"off-roadmap", "score": <0-100>, "reason": "<one sentence>"}`,
		truncateBody(v.visionDoc, 4000), item.Title(), truncateBody(item.Body(), 1500))

	raw, err := v.provider.GenerateText(ctx, prompt, llm.TextOptions{Temperature: 0.2, MaxTokens: 200})
	if err != nil {
		return err
	}
	verdict, err := llm.ParseJSON[visionVerdict](raw)
	if err != nil {
		return err
	}

	switch VisionAlignment(strings.ToLower(verdict.Alignment)) {
	case VisionAligned:
		item.VisionAlignment = VisionAligned
	case VisionOffRoadmap:
		item.VisionAlignment = VisionOffRoadmap
	default:
		// Unknown labels degrade to tangential rather than failing the item.
		item.VisionAlignment = VisionTangential
	}
	score := verdict.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	item.VisionScore = &score
	return nil
}

// CheckMany checks all items whose alignment is still unchecked, in parallel
// under the internal gate. Per-item failures are logged and skipped.
func (v *VisionChecker) CheckMany(ctx context.Context, items []*ScoredItem) {
	if !v.Enabled() {
		return
	}
	var eg errgroup.Group
	for _, item := range items {
		if item.VisionAlignment != VisionUnchecked {
			continue
		}
		eg.Go(func() error {
			return v.gate.Execute(ctx, func(ctx context.Context) error {
				if err := v.Check(ctx, item); err != nil {
					slog.Warn("vision check failed", "item", item.Number(), "error", err)
				}
				return nil
			})
		})
	}
	_ = eg.Wait()
}
