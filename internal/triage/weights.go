package triage

// weightProfiles adjust signal weights by intent: a bugfix lives or dies by
// its CI and tests, a docs change does not. Values multiply the base weight;
// the result is renormalised so the profile never changes the score scale.
var weightProfiles = map[Intent]map[string]float64{
	IntentBugfix: {
		"ci_status":     1.5,
		"test_coverage": 1.5,
	},
	IntentDocs: {
		"ci_status":     0.5,
		"test_coverage": 0.5,
	},
	IntentDependency: {
		"ci_status": 1.5,
		"diff_size": 0.5,
	},
	IntentRefactor: {
		"test_coverage":   1.5,
		"breaking_change": 1.5,
	},
	IntentChore: {
		"ci_status": 1.5,
	},
	IntentFeature: {
		"body_quality":    1.5,
		"scope_coherence": 1.5,
	},
}

// applyWeightProfile multiplies each signal weight by the intent's profile
// entry (default 1.0) and renormalises the weights to sum to 1.
func applyWeightProfile(signals []SignalScore, intent Intent) []SignalScore {
	profile := weightProfiles[intent]

	sum := 0.0
	for i := range signals {
		if m, ok := profile[signals[i].Name]; ok {
			signals[i].Weight *= m
		}
		sum += signals[i].Weight
	}
	if sum <= 0 {
		return signals
	}
	for i := range signals {
		signals[i].Weight /= sum
	}
	return signals
}

// weightedMean is the heuristic aggregate: Σ(score·weight)/Σweight.
func weightedMean(signals []SignalScore) float64 {
	var num, den float64
	for _, s := range signals {
		num += float64(s.Score) * s.Weight
		den += s.Weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}
