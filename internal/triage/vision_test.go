package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treliq/treliq/internal/githost"
	"github.com/treliq/treliq/internal/llm"
)

const visionDoc = "The project focuses on fast, offline-first triage. GUI work is out of scope."

func TestVisionChecker_Enabled(t *testing.T) {
	assert.False(t, NewVisionChecker(nil, visionDoc).Enabled())
	assert.False(t, NewVisionChecker(llm.NewMockProvider(), "  ").Enabled())
	assert.True(t, NewVisionChecker(llm.NewMockProvider(), visionDoc).Enabled())
}

func TestVisionChecker_Check(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.DefaultText = `{"alignment": "aligned", "score": 85, "reason": "core use case"}`

	v := NewVisionChecker(mock, visionDoc)
	item := &ScoredItem{PR: &githost.PRRecord{Number: 1, Title: "speed up scans"}, VisionAlignment: VisionUnchecked}

	require.NoError(t, v.Check(context.Background(), item))
	assert.Equal(t, VisionAligned, item.VisionAlignment)
	require.NotNil(t, item.VisionScore)
	assert.Equal(t, 85, *item.VisionScore)
}

func TestVisionChecker_UnknownLabelDegradesToTangential(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.DefaultText = `{"alignment": "sideways", "score": 120}`

	v := NewVisionChecker(mock, visionDoc)
	item := &ScoredItem{PR: &githost.PRRecord{Number: 2}, VisionAlignment: VisionUnchecked}

	require.NoError(t, v.Check(context.Background(), item))
	assert.Equal(t, VisionTangential, item.VisionAlignment)
	assert.Equal(t, 100, *item.VisionScore) // clamped
}

func TestVisionChecker_FailureLeavesUnchecked(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.TextErr = errors.New("provider down")

	v := NewVisionChecker(mock, visionDoc)
	item := &ScoredItem{PR: &githost.PRRecord{Number: 3}, VisionAlignment: VisionUnchecked}

	assert.Error(t, v.Check(context.Background(), item))
	assert.Equal(t, VisionUnchecked, item.VisionAlignment)
	assert.Nil(t, item.VisionScore)
}

func TestVisionChecker_CheckManySkipsChecked(t *testing.T) {
	mock := llm.NewMockProvider()
	mock.DefaultText = `{"alignment": "off-roadmap", "score": 10, "reason": "GUI"}`

	v := NewVisionChecker(mock, visionDoc)
	items := []*ScoredItem{
		{PR: &githost.PRRecord{Number: 1}, VisionAlignment: VisionUnchecked},
		{PR: &githost.PRRecord{Number: 2}, VisionAlignment: VisionAligned},
		{PR: &githost.PRRecord{Number: 3}, VisionAlignment: VisionUnchecked},
	}
	v.CheckMany(context.Background(), items)

	assert.Equal(t, VisionOffRoadmap, items[0].VisionAlignment)
	assert.Equal(t, VisionAligned, items[1].VisionAlignment) // untouched
	assert.Equal(t, VisionOffRoadmap, items[2].VisionAlignment)
	assert.Len(t, mock.TextCalls, 2)
}

func TestVisionChecker_DisabledIsNoOp(t *testing.T) {
	v := NewVisionChecker(nil, "")
	item := &ScoredItem{PR: &githost.PRRecord{Number: 1}, VisionAlignment: VisionUnchecked}
	require.NoError(t, v.Check(context.Background(), item))
	assert.Equal(t, VisionUnchecked, item.VisionAlignment)
}
