package robothand

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// MotionPlanner generates joint-space trajectories bounded by speed and
// acceleration limits. Units are degrees and seconds throughout.
type MotionPlanner struct {
	maxSpeed        float64
	maxAcceleration float64
}

func NewMotionPlanner(maxSpeed, maxAcceleration float64) *MotionPlanner {
	return &MotionPlanner{maxSpeed: maxSpeed, maxAcceleration: maxAcceleration}
}

// DefaultMotionPlanner caps moves at 90 deg/s and 180 deg/s^2.
func DefaultMotionPlanner() *MotionPlanner {
	return NewMotionPlanner(90.0, 180.0)
}

// Interpolate linearly maps t in [0,1] from start to end.
func (mp *MotionPlanner) Interpolate(start, end, t float64) float64 {
	return start + (end-start)*t
}

// InterpolateTrajectory returns exactly steps poses walking linearly from
// start to end inclusive, per axis. steps must be at least 2 and the pose
// widths must match.
func (mp *MotionPlanner) InterpolateTrajectory(start, end []float64, steps int) ([][]float64, error) {
	if len(start) != len(end) {
		return nil, errors.Errorf("pose width mismatch: %d vs %d", len(start), len(end))
	}
	if steps < 2 {
		return nil, errors.Errorf("trajectory needs at least 2 steps, got %d", steps)
	}

	diff := make([]float64, len(start))
	floats.SubTo(diff, end, start)

	trajectory := make([][]float64, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		pose := make([]float64, len(start))
		floats.AddScaledTo(pose, start, t, diff)
		trajectory[i] = pose
	}
	return trajectory, nil
}

// SmoothStep is the cubic easing curve 3t^2 - 2t^3 on [0,1].
func (mp *MotionPlanner) SmoothStep(t float64) float64 {
	return t * t * (3.0 - 2.0*t)
}

// EstimateDuration bounds the move time for the worst axis under a
// trapezoidal velocity profile. Short moves never reach max speed and use
// the triangular case.
func (mp *MotionPlanner) EstimateDuration(start, end []float64) time.Duration {
	maxDelta := floats.Distance(start, end, math.Inf(1))

	accelTime := mp.maxSpeed / mp.maxAcceleration
	accelDistance := 0.5 * mp.maxAcceleration * accelTime * accelTime

	var seconds float64
	if maxDelta <= 2.0*accelDistance {
		seconds = math.Sqrt(2.0 * maxDelta / mp.maxAcceleration)
	} else {
		seconds = 2.0*accelTime + (maxDelta-2.0*accelDistance)/mp.maxSpeed
	}
	return time.Duration(seconds * float64(time.Second))
}

// VelocityProfile samples the trapezoidal profile for a single-axis move of
// the given distance.
func (mp *MotionPlanner) VelocityProfile(distance float64, steps int) []float64 {
	if steps <= 0 {
		return nil
	}
	if steps == 1 {
		return []float64{0}
	}

	accelTime := mp.maxSpeed / mp.maxAcceleration
	totalTime := mp.EstimateDuration([]float64{0}, []float64{distance}).Seconds()

	profile := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1) * totalTime
		var v float64
		switch {
		case t < accelTime:
			v = mp.maxAcceleration * t
		case t > totalTime-accelTime:
			v = mp.maxAcceleration * (totalTime - t)
		default:
			v = mp.maxSpeed
		}
		profile = append(profile, v)
	}
	return profile
}

// StepCount sizes a trajectory so no axis moves more than stepSize per
// step. Always at least 1.
func (mp *MotionPlanner) StepCount(start, end []float64, stepSize float64) int {
	maxDelta := floats.Distance(start, end, math.Inf(1))
	n := int(math.Ceil(maxDelta / stepSize))
	if n < 1 {
		return 1
	}
	return n
}

// TrajectoryPoint is a pose tagged with its playback offset from the start
// of the trajectory.
type TrajectoryPoint struct {
	Pose      []float64
	Timestamp time.Duration
}

// Trajectory is an ordered list of timed waypoints.
type Trajectory struct {
	points []TrajectoryPoint
}

func NewTrajectory() *Trajectory { return &Trajectory{} }

// AddPoint appends a waypoint. Timestamps are expected non-decreasing.
func (tr *Trajectory) AddPoint(pose []float64, timestamp time.Duration) {
	tr.points = append(tr.points, TrajectoryPoint{Pose: pose, Timestamp: timestamp})
}

func (tr *Trajectory) Len() int { return len(tr.points) }

// At returns the pose at playback time t, linearly interpolated between the
// bracketing waypoints. ok is false when t falls outside the waypoint range
// or the trajectory is empty.
func (tr *Trajectory) At(t time.Duration) ([]float64, bool) {
	if len(tr.points) == 0 {
		return nil, false
	}
	if len(tr.points) == 1 {
		if t == tr.points[0].Timestamp {
			return append([]float64(nil), tr.points[0].Pose...), true
		}
		return nil, false
	}
	if t < tr.points[0].Timestamp || t > tr.points[len(tr.points)-1].Timestamp {
		return nil, false
	}

	for i := 0; i < len(tr.points)-1; i++ {
		p1, p2 := tr.points[i], tr.points[i+1]
		if t < p1.Timestamp || t > p2.Timestamp {
			continue
		}
		dt := (p2.Timestamp - p1.Timestamp).Seconds()
		if dt == 0 {
			return append([]float64(nil), p2.Pose...), true
		}
		frac := (t - p1.Timestamp).Seconds() / dt

		diff := make([]float64, len(p1.Pose))
		floats.SubTo(diff, p2.Pose, p1.Pose)
		pose := make([]float64, len(p1.Pose))
		floats.AddScaledTo(pose, p1.Pose, frac, diff)
		return pose, true
	}
	return nil, false
}

// TrajectoryPlan walks a start-to-end interpolation lazily. Next yields
// successive poses and reports false once exhausted; Reset rewinds to the
// first pose. Consumers pace playback themselves.
type TrajectoryPlan struct {
	start []float64
	end   []float64
	steps int
	next  int
}

// PlanTrajectory validates like InterpolateTrajectory but defers pose
// generation to Next.
func (mp *MotionPlanner) PlanTrajectory(start, end []float64, steps int) (*TrajectoryPlan, error) {
	if len(start) != len(end) {
		return nil, errors.Errorf("pose width mismatch: %d vs %d", len(start), len(end))
	}
	if steps < 2 {
		return nil, errors.Errorf("trajectory needs at least 2 steps, got %d", steps)
	}
	return &TrajectoryPlan{
		start: append([]float64(nil), start...),
		end:   append([]float64(nil), end...),
		steps: steps,
	}, nil
}

func (p *TrajectoryPlan) Next() ([]float64, bool) {
	if p.next >= p.steps {
		return nil, false
	}
	t := float64(p.next) / float64(p.steps-1)

	diff := make([]float64, len(p.start))
	floats.SubTo(diff, p.end, p.start)
	pose := make([]float64, len(p.start))
	floats.AddScaledTo(pose, p.start, t, diff)

	p.next++
	return pose, true
}

func (p *TrajectoryPlan) Reset() { p.next = 0 }

// Remaining reports how many poses Next will still produce.
func (p *TrajectoryPlan) Remaining() int { return p.steps - p.next }
