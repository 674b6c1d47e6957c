// Package repetition implements the generic adaptive-loop driver of spec
// section 4.4: it repeats an observation kernel, accumulates a sample at a
// single coordinating rank, and decides per iteration whether the relative
// confidence half-width has fallen below the target (or the repetition
// ceiling has been reached), broadcasting that decision to every
// co-participant so the whole group leaves the loop together.
//
// Every timing method in package timing is built on top of this package;
// it differs from method to method only in what "the observation" and "the
// coordinator" are.
package repetition

import (
	"context"
	"errors"
	"fmt"
)

// Precision is the repetition policy of spec section 3: MinReps <= MaxReps,
// CL in (0,1), Eps in (0,1). When MinReps == MaxReps, the controller is
// fixed-count and CL/Eps are ignored.
type Precision struct {
	MinReps, MaxReps int
	CL, Eps          float64
}

// ErrInvalidPrecision is returned by Validate when MinReps > MaxReps or a
// bound is non-positive. Per spec section 7, callers above the core are
// expected to clamp rather than propagate this into the engine, but
// Validate exists so the core can defend its own invariant.
var ErrInvalidPrecision = errors.New("repetition: invalid precision")

// Validate reports ErrInvalidPrecision if p violates its documented
// invariants.
func (p Precision) Validate() error {
	if p.MinReps < 1 || p.MaxReps < p.MinReps {
		return fmt.Errorf("%w: min_reps=%d max_reps=%d", ErrInvalidPrecision, p.MinReps, p.MaxReps)
	}
	if !p.Fixed() {
		if p.CL <= 0 || p.CL >= 1 {
			return fmt.Errorf("%w: cl=%v out of (0,1)", ErrInvalidPrecision, p.CL)
		}
		if p.Eps <= 0 || p.Eps >= 1 {
			return fmt.Errorf("%w: eps=%v out of (0,1)", ErrInvalidPrecision, p.Eps)
		}
	}
	return nil
}

// Fixed reports whether the controller runs exactly MaxReps times, skipping
// confidence-interval evaluation entirely.
func (p Precision) Fixed() bool {
	return p.MinReps == p.MaxReps
}

// minRepsForCI is the floor below which the controller never evaluates a
// confidence interval, per spec section 4.2 ("The controller never calls ci
// unless reps >= max(3, min_reps)").
func minRepsForCI(p Precision) int {
	if p.MinReps > 3 {
		return p.MinReps
	}
	return 3
}

// CIFunc computes the confidence half-width for a sample, the seam stats.CI
// is plugged in through (kept as a function value so this package has no
// import-time dependency on package stats's third-party backend).
type CIFunc func(cl float64, t []float64) float64

// Outcome is returned by RunCoordinator: the accumulated sample, the final
// confidence half-width (0 if never evaluated), and the number of
// repetitions performed.
type Outcome struct {
	T    []float64
	CI   float64
	Reps int
}

// Observe performs one coordinator-side observation, returning the time
// taken and any operation failure (spec section 7: a non-zero status
// aborts the sweep immediately).
type Observe func(ctx context.Context, iteration int) (t float64, err error)

// Broadcast sends the stop decision computed at the coordinator to every
// rank that will participate in the next observation (or confirms the loop
// is ending). Called once per iteration once reps >= 1.
type Broadcast func(ctx context.Context, stop bool) error

// RunCoordinator drives the controller from the coordinating rank's
// perspective: it performs observations via observe, accumulates the
// sample, evaluates the stop condition once enough reps exist, and invokes
// broadcast with the decision every iteration so co-participants can track
// it with RunParticipant.
func RunCoordinator(ctx context.Context, p Precision, ci CIFunc, observe Observe, broadcast Broadcast) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, err
	}

	var t []float64
	var half float64

	for iteration := 0; ; iteration++ {
		v, err := observe(ctx, iteration)
		if err != nil {
			return Outcome{T: t, CI: half, Reps: len(t)}, fmt.Errorf("repetition: observation failed: %w", err)
		}
		t = append(t, v)
		reps := len(t)

		stop := reps == p.MaxReps
		if !stop && !p.Fixed() && reps >= minRepsForCI(p) {
			half = ci(p.CL, t)
			var sum float64
			for _, v := range t {
				sum += v
			}
			stop = (half*float64(reps))/sum < p.Eps
		}

		if broadcast != nil {
			if err := broadcast(ctx, stop); err != nil {
				return Outcome{T: t, CI: half, Reps: len(t)}, fmt.Errorf("repetition: broadcast stop: %w", err)
			}
		}

		if stop {
			return Outcome{T: t, CI: half, Reps: len(t)}, nil
		}
	}
}

// ParticipantObserve performs one participant-side observation (e.g. the
// mirror half of a p2p exchange, or a non-root rank's side of a collective);
// it returns only a failure status, since the participant is not the
// statistics coordinator.
type ParticipantObserve func(ctx context.Context, iteration int) error

// ReceiveStop blocks until the coordinator's stop decision for this
// iteration is available.
type ReceiveStop func(ctx context.Context) (bool, error)

// RunParticipant drives the controller from a co-participant's perspective:
// perform the observation, then block for the coordinator's stop decision,
// terminating in lockstep with RunCoordinator. maxReps bounds the loop
// independently, so a participant can never run past it even if a
// broadcast is somehow lost (it won't be, per spec section 5, but the
// bound costs nothing and matches "terminates in at most max_reps
// iterations").
func RunParticipant(ctx context.Context, maxReps int, observe ParticipantObserve, receive ReceiveStop) error {
	for iteration := 0; iteration < maxReps; iteration++ {
		if err := observe(ctx, iteration); err != nil {
			return fmt.Errorf("repetition: participant observation failed: %w", err)
		}
		stop, err := receive(ctx)
		if err != nil {
			return fmt.Errorf("repetition: participant receive stop: %w", err)
		}
		if stop {
			return nil
		}
	}
	return nil
}
