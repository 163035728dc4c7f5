package agents

import (
	"time"

	"github.com/talgya/citytraffic/internal/geo"
	"github.com/talgya/citytraffic/internal/roads"
)

// MoveScale converts speed preference × seconds into metres travelled.
const MoveScale = 50.0

// Move advances the agent along its route by dt. Stress slows the agent by up
// to half. Completing a step records a congestion sample for that step and
// moves on to the next one with progress reset to zero.
func (a *Agent) Move(dt time.Duration) {
	if a.Route == nil || a.Stuck || a.Arrived() {
		return
	}

	step := a.Route.Steps[a.Segment]
	speed := a.SpeedPreference * (1 - a.Stress*0.5)
	if step.DistanceM > 0 {
		a.Progress += speed * dt.Seconds() * MoveScale / step.DistanceM
	} else {
		a.Progress = 1
	}

	if a.Progress >= 1 {
		a.Memory.RecordSegment(roads.Key(step.Start), SegmentSample{
			At:         a.clock(),
			Congestion: a.Stress,
			DurationS:  step.DurationS,
		})
		a.Segment++
		a.Progress = 0
	}

	a.updatePosition()
}

func (a *Agent) updatePosition() {
	steps := a.Route.Steps
	if len(steps) == 0 {
		return
	}
	if a.Segment >= len(steps) {
		a.Position = steps[len(steps)-1].End
		return
	}
	step := steps[a.Segment]
	a.Position = geo.Lerp(step.Start, step.End, a.Progress)
}

// Learn consolidates segment history and, once the agent reaches its final
// step, rewards the route it is completing by LearningRate.
func (a *Agent) Learn() {
	a.Memory.TrimSegments()

	if a.Route == nil || a.credited {
		return
	}
	if a.Segment >= len(a.Route.Steps)-1 {
		a.Memory.AdjustExperience(a.routeKey, a.LearningRate)
		a.credited = true
	}
}

// PerceptionDue accumulates dt and reports whether a perception pass is owed.
// Passes fire every `every` of accumulated simulated time regardless of tick
// length; a tick longer than `every` still yields a single pass.
func (a *Agent) PerceptionDue(dt, every time.Duration) bool {
	if every <= 0 {
		return true
	}
	a.sincePerception += dt
	if a.sincePerception < every {
		return false
	}
	a.sincePerception %= every
	return true
}

// StaggerPerception pre-loads the perception accumulator so agents spawned
// together do not all perceive on the same tick.
func (a *Agent) StaggerPerception(offset time.Duration) {
	a.sincePerception = offset
}
