package triage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyWeightProfile_Renormalises(t *testing.T) {
	signals := []SignalScore{
		{Name: "ci_status", Score: 100, Weight: 0.15},
		{Name: "test_coverage", Score: 90, Weight: 0.12},
		{Name: "diff_size", Score: 70, Weight: 0.07},
	}

	out := applyWeightProfile(signals, IntentBugfix)

	sum := 0.0
	for _, s := range out {
		sum += s.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	// The boosted signals gain relative weight over the untouched one.
	ci := out[0].Weight
	diff := out[2].Weight
	assert.Greater(t, ci/diff, 0.15/0.07)
}

func TestApplyWeightProfile_UnknownIntentStillNormalises(t *testing.T) {
	signals := []SignalScore{
		{Name: "a", Score: 50, Weight: 0.3},
		{Name: "b", Score: 50, Weight: 0.2},
	}
	out := applyWeightProfile(signals, Intent("mystery"))

	sum := 0.0
	for _, s := range out {
		sum += s.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// Relative proportions survive when no profile applies.
	assert.InDelta(t, 0.6, out[0].Weight, 1e-9)
}

func TestApplyWeightProfile_DocsDepressesCI(t *testing.T) {
	base := []SignalScore{
		{Name: "ci_status", Score: 100, Weight: 0.15},
		{Name: "body_quality", Score: 50, Weight: 0.04},
	}
	out := applyWeightProfile(base, IntentDocs)

	// ci_status halves before renormalisation: 0.075 vs 0.04.
	require.Len(t, out, 2)
	ratio := out[0].Weight / out[1].Weight
	assert.InDelta(t, 0.075/0.04, ratio, 1e-9)
}

func TestWeightedMean(t *testing.T) {
	signals := []SignalScore{
		{Score: 100, Weight: 0.5},
		{Score: 0, Weight: 0.5},
	}
	assert.InDelta(t, 50, weightedMean(signals), 1e-9)

	signals = []SignalScore{
		{Score: 80, Weight: 0.75},
		{Score: 40, Weight: 0.25},
	}
	assert.InDelta(t, 70, weightedMean(signals), 1e-9)
}

func TestWeightedMean_Empty(t *testing.T) {
	assert.Equal(t, 0.0, weightedMean(nil))
}

func TestWeightProfiles_OnlyKnownSignals(t *testing.T) {
	valid := map[string]bool{
		"ci_status": true, "diff_size": true, "test_coverage": true,
		"breaking_change": true, "body_quality": true, "scope_coherence": true,
	}
	for intent, profile := range weightProfiles {
		for name, mult := range profile {
			assert.True(t, valid[name], "%s profile names unknown signal %s", intent, name)
			assert.False(t, math.IsNaN(mult))
			assert.Greater(t, mult, 0.0)
		}
	}
}
