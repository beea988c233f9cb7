package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_Direct(t *testing.T) {
	type verdict struct {
		Score int    `json:"score"`
		Risk  string `json:"risk"`
	}

	result, err := ParseJSON[verdict](`{"score":88,"risk":"low"}`)
	require.NoError(t, err)
	assert.Equal(t, 88, result.Score)
	assert.Equal(t, "low", result.Risk)
}

func TestParseJSON_MarkdownFence(t *testing.T) {
	type verdict struct {
		Score int `json:"score"`
	}

	raw := "Here is my assessment:\n```json\n{\"score\": 42}\n```\nLet me know if you need more."
	result, err := ParseJSON[verdict](raw)
	require.NoError(t, err)
	assert.Equal(t, 42, result.Score)
}

func TestParseJSON_BareFence(t *testing.T) {
	type verdict struct {
		Score int `json:"score"`
	}

	result, err := ParseJSON[verdict]("```\n{\"score\": 7}\n```")
	require.NoError(t, err)
	assert.Equal(t, 7, result.Score)
}

func TestParseJSON_SurroundingProse(t *testing.T) {
	type verdict struct {
		Reason string `json:"reason"`
	}

	result, err := ParseJSON[verdict](`Sure! {"reason":"solid tests"} Hope that helps.`)
	require.NoError(t, err)
	assert.Equal(t, "solid tests", result.Reason)
}

func TestParseJSON_Array(t *testing.T) {
	result, err := ParseJSON[[]int]("The groups are: [1,2,3] as requested")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, result)
}

func TestParseJSON_Invalid(t *testing.T) {
	type verdict struct {
		Score int `json:"score"`
	}

	_, err := ParseJSON[verdict]("I cannot answer that.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestStripMarkdownJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"preamble", "Result:\n{\"a\":1}", `{"a":1}`},
		{"array", "items [1,2] end", "[1,2]"},
		{"array before object", `[{"a":1}]`, `[{"a":1}]`},
		{"plain text", "no json here", "no json here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripMarkdownJSON(tc.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
