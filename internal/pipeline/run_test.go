package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ForwardOnly(t *testing.T) {
	run := NewRun("r", uuid.New())
	require.NoError(t, run.Start(time.Now(), 100))
	require.NoError(t, run.Transition(StageResearching))
	require.NoError(t, run.Transition(StageGenerating))

	assert.Error(t, run.Transition(StageResearching), "backward transition must be rejected")
	assert.Error(t, run.Transition(StageGenerating), "self transition must be rejected")

	require.NoError(t, run.Transition(StageSaving))
	require.NoError(t, run.Transition(StageComplete))
	assert.Error(t, run.Transition(StageFailed), "complete is terminal")

	assert.Equal(t, []Stage{StageSubmitting, StageResearching, StageGenerating, StageSaving, StageComplete}, run.History())
}

func TestRun_FailedReachableFromAnyActiveStage(t *testing.T) {
	for _, stage := range []Stage{StageSubmitting, StageResearching, StageGenerating, StageSaving} {
		run := NewRun("r", uuid.New())
		require.NoError(t, run.Start(time.Now(), 0))
		if stage != StageSubmitting {
			require.NoError(t, run.Transition(stage))
		}
		require.NoError(t, run.Transition(StageFailed), "from %s", stage)
		assert.Equal(t, float64(0), run.Progress(time.Now()))
	}

	idle := NewRun("r", uuid.New())
	assert.Error(t, idle.Transition(StageFailed))
}

func TestRun_ProgressEstimate(t *testing.T) {
	start := time.Now()
	run := NewRun("r", uuid.New())
	require.NoError(t, run.Start(start, 1000)) // 8s + 2s estimate

	assert.InDelta(t, 50, run.Progress(start.Add(5*time.Second)), 0.01)
	assert.Equal(t, 95.0, run.Progress(start.Add(time.Minute)), "clamped until terminal")
	assert.Equal(t, 95.0, run.Progress(start.Add(time.Second)), "never decreases")

	require.NoError(t, run.Transition(StageComplete))
	assert.Equal(t, 100.0, run.Progress(start.Add(time.Minute)))
}
