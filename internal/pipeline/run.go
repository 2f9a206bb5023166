// Package pipeline drives one research submission through web research,
// summarization and persistence, reporting every stage change as a frame.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageIdle        Stage = "idle"
	StageSubmitting  Stage = "submitting"
	StageResearching Stage = "researching"
	StageGenerating  Stage = "generating"
	StageSaving      Stage = "saving"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageIdle:        0,
	StageSubmitting:  1,
	StageResearching: 2,
	StageGenerating:  3,
	StageSaving:      4,
	StageComplete:    5,
}

const (
	progressBaseline = 8 * time.Second
	progressPerChunk = time.Second
	progressChunk    = 500
	progressCeiling  = 95.0
)

// Run is the per-submission state. It is owned by a single Execute call and
// never shared between runs.
type Run struct {
	ID     string
	UserID uuid.UUID

	stage     Stage
	history   []Stage
	startedAt time.Time
	estimate  time.Duration
	progress  float64
}

func NewRun(id string, userID uuid.UUID) *Run {
	return &Run{ID: id, UserID: userID, stage: StageIdle}
}

func (r *Run) Stage() Stage { return r.stage }

// History lists every stage entered after idle, in order.
func (r *Run) History() []Stage {
	out := make([]Stage, len(r.history))
	copy(out, r.history)
	return out
}

// Start moves idle to submitting and fixes the progress estimate for an
// input of inputLen characters.
func (r *Run) Start(now time.Time, inputLen int) error {
	if err := r.Transition(StageSubmitting); err != nil {
		return err
	}
	r.startedAt = now
	r.estimate = progressBaseline + time.Duration(inputLen/progressChunk)*progressPerChunk
	return nil
}

// Transition enforces forward-only movement. failed is reachable from any
// non-idle, non-terminal stage.
func (r *Run) Transition(to Stage) error {
	from := r.stage
	if from == StageComplete || from == StageFailed {
		return fmt.Errorf("run %s already %s", r.ID, from)
	}
	if to == StageFailed {
		if from == StageIdle {
			return fmt.Errorf("run %s cannot fail before it starts", r.ID)
		}
		r.enter(to)
		r.progress = 0
		return nil
	}
	if stageOrder[to] <= stageOrder[from] {
		return fmt.Errorf("run %s cannot move from %s to %s", r.ID, from, to)
	}
	r.enter(to)
	if to == StageComplete {
		r.progress = 100
	}
	return nil
}

func (r *Run) enter(s Stage) {
	r.stage = s
	r.history = append(r.history, s)
}

// Progress estimates completion from elapsed time. It never decreases and
// stays at or below 95 until the run completes.
func (r *Run) Progress(now time.Time) float64 {
	switch r.stage {
	case StageIdle, StageFailed:
		return 0
	case StageComplete:
		return 100
	}
	if r.estimate > 0 {
		p := float64(now.Sub(r.startedAt)) / float64(r.estimate) * 100
		if p > progressCeiling {
			p = progressCeiling
		}
		if p > r.progress {
			r.progress = p
		}
	}
	return r.progress
}
