// Package timing implements the five timing methods of spec section 4.6.
// Every method is built on package repetition's outer loop; they differ
// only in what counts as "the observation" and which rank is the
// statistics coordinator for it. Each method returns a result.Result
// carrying the message size, mean time, worst-case clock tick across the
// group, the sample size actually used, and the confidence half-width.
package timing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mpib/mpib/calibration"
	"github.com/mpib/mpib/clock"
	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/stats"
	"github.com/mpib/mpib/transport"
)

// ciFunc builds a repetition.CIFunc bound to group's own inverse
// Student-t implementation, per spec section 6 ("the engine needs ...
// inverse Student-t distribution" from the transport).
func ciFunc(group transport.Transport) repetition.CIFunc {
	return func(cl float64, t []float64) float64 {
		return stats.CIFromQuantile(group.InverseStudentT, cl, t)
	}
}

func logger(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		d := zerolog.Nop()
		return d
	}
	return *l
}

// groupMaxTick performs the group-wide clock-resolution all-reduce every
// timing method attaches to its final Result. It is a collective operation
// (transport.Transport.AllReduceMax blocks until every rank in the group
// has called in, per spec section 6): every co-participant of the last
// observation must call it at the same point, whether or not it is the
// rank that goes on to assemble a meaningful Result.
func groupMaxTick(ctx context.Context, group transport.Transport) (float64, error) {
	wtick, err := clock.MaxTick(ctx, group)
	if err != nil {
		return 0, fmt.Errorf("timing: group max tick: %w", err)
	}
	return wtick, nil
}

func assembleResult(size int, out repetition.Outcome, wtick float64) result.Result {
	return result.Result{
		M:     int32(size),
		T:     stats.Mean(out.T),
		Wtick: wtick,
		Reps:  int32(out.Reps),
		CI:    out.CI,
	}
}

// MeasureP2P times a point-to-point container between two ranks (spec
// section 4.6.1). Exactly one of the two ranks calling MeasureP2P for a
// given invocation must pass isMeasure true (the other, the mirror); the
// returned Result is meaningful only at the measuring rank.
func MeasureP2P(ctx context.Context, group transport.Transport, container operation.P2P, peer, size int, p repetition.Precision, isMeasure bool, log *zerolog.Logger) (result.Result, error) {
	lg := logger(log)
	if err := container.Initialize(ctx, group, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: p2p initialize: %w", err)
	}
	defer container.Finalize(ctx, group)

	if isMeasure {
		observe := func(ctx context.Context, iteration int) (float64, error) {
			if err := group.Send(ctx, peer, transport.TagHandshake, nil); err != nil {
				return 0, err
			}
			if _, err := group.Recv(ctx, peer, transport.TagHandshake); err != nil {
				return 0, err
			}
			t0 := group.Now()
			if err := container.ExecuteMeasure(ctx, group, size, peer); err != nil {
				return 0, err
			}
			return group.Now() - t0, nil
		}
		broadcast := func(ctx context.Context, stop bool) error {
			return sendBool(ctx, group, peer, transport.TagControl, stop)
		}
		out, err := repetition.RunCoordinator(ctx, p, ciFunc(group), observe, broadcast)
		if err != nil {
			return result.Result{}, fmt.Errorf("timing: measure p2p: %w", err)
		}
		lg.Debug().Str("method", "p2p").Int("size", size).Int("reps", out.Reps).Msg("observation complete")
		wtick, err := groupMaxTick(ctx, group)
		if err != nil {
			return result.Result{}, err
		}
		return assembleResult(size, out, wtick), nil
	}

	observe := func(ctx context.Context, iteration int) error {
		if _, err := group.Recv(ctx, peer, transport.TagHandshake); err != nil {
			return err
		}
		if err := group.Send(ctx, peer, transport.TagHandshake, nil); err != nil {
			return err
		}
		return container.ExecuteMirror(ctx, group, size, peer)
	}
	receive := func(ctx context.Context) (bool, error) {
		return recvBool(ctx, group, peer, transport.TagControl)
	}
	if err := repetition.RunParticipant(ctx, p.MaxReps, observe, receive); err != nil {
		return result.Result{}, fmt.Errorf("timing: mirror p2p: %w", err)
	}
	// The mirror is a co-participant of the measuring rank's group-wide
	// clock-resolution all-reduce above: it must call in here, in the
	// same position in program order, or that reduction deadlocks.
	if _, err := groupMaxTick(ctx, group); err != nil {
		return result.Result{}, err
	}
	return result.Result{}, nil
}

// MeasureAllP2P runs MeasureP2P over the pair schedule (spec section
// 4.6.2): between rounds every rank executes a barrier; if parallel is
// false an additional barrier separates consecutive pairs within a round.
// Each rank measures only in the rounds that contain it, but joins the
// group-wide clock-resolution all-reduce that ends every pair's
// MeasureP2P call; the lower-indexed rank of each pair is the p2p
// coordinator. The final
// all-gather returns the complete N(N-1)/2 result set to every rank.
func MeasureAllP2P(ctx context.Context, group transport.Transport, container operation.P2P, size int, p repetition.Precision, parallel bool, log *zerolog.Logger) (map[pairsched.Pair]result.Result, error) {
	rank := group.Rank()
	schedule := pairsched.Build(group.Size())

	local := make(map[pairsched.Pair]result.Result)
	for _, round := range schedule {
		// Every rank in the group, whether or not it is a member of this
		// round, walks the round's full pair list in lockstep so the
		// inter-pair barriers (parallel = false) are called the same
		// number of times by every rank: Barrier is a group-wide
		// rendezvous, so ranks cannot call it a different number of
		// times without deadlocking each other.
		for idx, pr := range round {
			if !parallel && idx > 0 {
				if err := group.Barrier(ctx); err != nil {
					return nil, fmt.Errorf("timing: allp2p: inter-pair barrier: %w", err)
				}
			}
			if pr.I != rank && pr.J != rank {
				// Sequential pairs each end in their own group-wide
				// all-reduce (MeasureP2P's groupMaxTick); join it.
				if !parallel {
					if _, err := groupMaxTick(ctx, group); err != nil {
						return nil, fmt.Errorf("timing: allp2p: pair (%d,%d): %w", pr.I, pr.J, err)
					}
				}
				continue
			}
			peer := pr.J
			isMeasure := pr.I == rank
			if !isMeasure {
				peer = pr.I
			}
			r, err := MeasureP2P(ctx, group, container, peer, size, p, isMeasure, log)
			if err != nil {
				return nil, fmt.Errorf("timing: allp2p: pair (%d,%d): %w", pr.I, pr.J, err)
			}
			if isMeasure {
				local[pr] = r
			}
		}
		// Concurrent pairs of a round share one group-wide all-reduce,
		// which a rank outside every pair of the round joins once.
		if _, in := round.Peer(rank); parallel && !in {
			if _, err := groupMaxTick(ctx, group); err != nil {
				return nil, fmt.Errorf("timing: allp2p: idle rank: %w", err)
			}
		}

		if err := group.Barrier(ctx); err != nil {
			return nil, fmt.Errorf("timing: allp2p: round barrier: %w", err)
		}
	}

	gathered, err := group.AllGatherVarying(ctx, encodeResults(local))
	if err != nil {
		return nil, fmt.Errorf("timing: allp2p: all-gather: %w", err)
	}
	merged := make(map[pairsched.Pair]result.Result)
	for _, b := range gathered {
		for k, v := range decodeResults(b) {
			merged[k] = v
		}
	}
	return merged, nil
}

// MeasureMax times a collective with every rank independently measuring
// its own elapsed time, reduced with max to root (spec section 4.6.3).
func MeasureMax(ctx context.Context, group transport.Transport, container operation.Collective, root, size int, p repetition.Precision, log *zerolog.Logger) (result.Result, error) {
	lg := logger(log)
	rank := group.Rank()
	if err := container.Initialize(ctx, group, root, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: max: initialize: %w", err)
	}
	defer container.Finalize(ctx, group, root)

	observeOne := func(ctx context.Context) (float64, error) {
		if err := group.Barrier(ctx); err != nil {
			return 0, err
		}
		if err := group.Barrier(ctx); err != nil {
			return 0, err
		}
		t0 := group.Now()
		execErr := container.Execute(ctx, group, root, size)
		elapsed := group.Now() - t0

		status := 0.0
		if execErr != nil {
			status = 1.0
		}
		maxStatus, err := group.ReduceMax(ctx, root, status)
		if err != nil {
			return 0, err
		}
		maxElapsed, err := group.ReduceMax(ctx, root, elapsed)
		if err != nil {
			return 0, err
		}
		if maxStatus != 0 {
			return 0, fmt.Errorf("timing: max: %w", operation.ErrOperationFailed)
		}
		return maxElapsed, nil
	}

	if rank == root {
		observe := func(ctx context.Context, iteration int) (float64, error) {
			return observeOne(ctx)
		}
		broadcast := func(ctx context.Context, stop bool) error {
			_, err := group.Broadcast(ctx, root, boolBytes(stop))
			return err
		}
		out, err := repetition.RunCoordinator(ctx, p, ciFunc(group), observe, broadcast)
		if err != nil {
			return result.Result{}, fmt.Errorf("timing: measure max: %w", err)
		}
		lg.Debug().Str("method", "max").Int("size", size).Int("reps", out.Reps).Msg("observation complete")
		wtick, err := groupMaxTick(ctx, group)
		if err != nil {
			return result.Result{}, err
		}
		return assembleResult(size, out, wtick), nil
	}

	observe := func(ctx context.Context, iteration int) error {
		_, err := observeOne(ctx)
		return err
	}
	receive := func(ctx context.Context) (bool, error) {
		got, err := group.Broadcast(ctx, root, nil)
		if err != nil {
			return false, err
		}
		return bytesBool(got), nil
	}
	if err := repetition.RunParticipant(ctx, p.MaxReps, observe, receive); err != nil {
		return result.Result{}, fmt.Errorf("timing: max participant: %w", err)
	}
	if _, err := groupMaxTick(ctx, group); err != nil {
		return result.Result{}, err
	}
	return result.Result{}, nil
}

// MeasureRoot times a collective from the root's own perspective only,
// subtracting the calibrated mean barrier contribution (spec section
// 4.6.4). reg supplies the cached barrier-time calibration.
func MeasureRoot(ctx context.Context, group transport.Transport, reg *calibration.Registry, container operation.Collective, root, size int, p repetition.Precision, barrierReps int, log *zerolog.Logger) (result.Result, error) {
	lg := logger(log)
	barrierMean, err := reg.BarrierMean(ctx, group, barrierReps)
	if err != nil {
		return result.Result{}, fmt.Errorf("timing: measure root: barrier calibration: %w", err)
	}

	rank := group.Rank()
	if err := container.Initialize(ctx, group, root, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: root: initialize: %w", err)
	}
	defer container.Finalize(ctx, group, root)

	if rank == root {
		observe := func(ctx context.Context, iteration int) (float64, error) {
			if err := group.Barrier(ctx); err != nil {
				return 0, err
			}
			if err := group.Barrier(ctx); err != nil {
				return 0, err
			}
			t0 := group.Now()
			if err := container.Execute(ctx, group, root, size); err != nil {
				return 0, err
			}
			if err := group.Barrier(ctx); err != nil {
				return 0, err
			}
			elapsed := group.Now() - t0
			return elapsed - barrierMean, nil
		}
		broadcast := func(ctx context.Context, stop bool) error {
			_, err := group.Broadcast(ctx, root, boolBytes(stop))
			return err
		}
		out, err := repetition.RunCoordinator(ctx, p, ciFunc(group), observe, broadcast)
		if err != nil {
			return result.Result{}, fmt.Errorf("timing: measure root: %w", err)
		}
		lg.Debug().Str("method", "root").Int("size", size).Int("reps", out.Reps).Msg("observation complete")

		wtick, err := groupMaxTick(ctx, group)
		if err != nil {
			return result.Result{}, err
		}
		final := assembleResult(size, out, wtick)

		// Flagged design-note fix (spec.md section 9): the completed
		// Result is broadcast to every participant by value, via the
		// wire tuple encoding, never by passing a pointer/address.
		if _, err := group.Broadcast(ctx, root, result.Encode(nil, final)); err != nil {
			return result.Result{}, fmt.Errorf("timing: measure root: broadcast final result: %w", err)
		}
		return final, nil
	}

	observe := func(ctx context.Context, iteration int) error {
		if err := group.Barrier(ctx); err != nil {
			return err
		}
		if err := group.Barrier(ctx); err != nil {
			return err
		}
		if err := container.Execute(ctx, group, root, size); err != nil {
			return err
		}
		// Confirming barrier, matching root's observation (root takes t0
		// before Execute and stops the clock after this barrier, folding
		// its cost into barrierMean's subtraction): the participant must
		// call in here too or the two sides' collective counts diverge.
		return group.Barrier(ctx)
	}
	receive := func(ctx context.Context) (bool, error) {
		got, err := group.Broadcast(ctx, root, nil)
		if err != nil {
			return false, err
		}
		return bytesBool(got), nil
	}
	if err := repetition.RunParticipant(ctx, p.MaxReps, observe, receive); err != nil {
		return result.Result{}, fmt.Errorf("timing: root participant: %w", err)
	}
	// Mirrors root's post-loop sequence exactly: one groupMaxTick
	// followed by one Broadcast, so the collective call counts match.
	if _, err := groupMaxTick(ctx, group); err != nil {
		return result.Result{}, err
	}
	if _, err := group.Broadcast(ctx, root, nil); err != nil {
		return result.Result{}, fmt.Errorf("timing: root participant: final result broadcast: %w", err)
	}
	return result.Result{}, nil
}

// MeasureGlobal times a collective using clock-offset-adjusted finish
// times from every rank (spec section 4.6.5). reg supplies the cached
// clock-offset vector.
func MeasureGlobal(ctx context.Context, group transport.Transport, reg *calibration.Registry, container operation.Collective, root, size int, p repetition.Precision, offsetReps int, synchronous bool, log *zerolog.Logger) (result.Result, error) {
	lg := logger(log)
	delta, err := reg.ClockOffsets(ctx, group, offsetReps, synchronous)
	if err != nil {
		return result.Result{}, fmt.Errorf("timing: measure global: clock offset calibration: %w", err)
	}

	rank := group.Rank()
	isRoot := rank == root
	if err := container.Initialize(ctx, group, root, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: global: initialize: %w", err)
	}
	defer container.Finalize(ctx, group, root)

	observeOne := func(ctx context.Context) (float64, error) {
		if err := group.Barrier(ctx); err != nil {
			return 0, err
		}
		if err := group.Barrier(ctx); err != nil {
			return 0, err
		}

		var start float64
		if isRoot {
			start = group.Now()
		}
		execErr := container.Execute(ctx, group, root, size)
		finishLocal := group.Now()

		adjusted := finishLocal - delta[root]
		if isRoot {
			adjusted = finishLocal
		}
		finishMax, err := group.ReduceMax(ctx, root, adjusted)
		if err != nil {
			return 0, err
		}

		status := 0.0
		if execErr != nil {
			status = 1.0
		}
		maxStatus, err := group.ReduceMax(ctx, root, status)
		if err != nil {
			return 0, err
		}
		if maxStatus != 0 {
			return 0, fmt.Errorf("timing: global: %w", operation.ErrOperationFailed)
		}
		if isRoot {
			return finishMax - start, nil
		}
		return 0, nil
	}

	if isRoot {
		observe := func(ctx context.Context, iteration int) (float64, error) {
			return observeOne(ctx)
		}
		broadcast := func(ctx context.Context, stop bool) error {
			_, err := group.Broadcast(ctx, root, boolBytes(stop))
			return err
		}
		out, err := repetition.RunCoordinator(ctx, p, ciFunc(group), observe, broadcast)
		if err != nil {
			return result.Result{}, fmt.Errorf("timing: measure global: %w", err)
		}
		lg.Debug().Str("method", "global").Int("size", size).Int("reps", out.Reps).Msg("observation complete")
		wtick, err := groupMaxTick(ctx, group)
		if err != nil {
			return result.Result{}, err
		}
		return assembleResult(size, out, wtick), nil
	}

	observe := func(ctx context.Context, iteration int) error {
		_, err := observeOne(ctx)
		return err
	}
	receive := func(ctx context.Context) (bool, error) {
		got, err := group.Broadcast(ctx, root, nil)
		if err != nil {
			return false, err
		}
		return bytesBool(got), nil
	}
	if err := repetition.RunParticipant(ctx, p.MaxReps, observe, receive); err != nil {
		return result.Result{}, fmt.Errorf("timing: global participant: %w", err)
	}
	if _, err := groupMaxTick(ctx, group); err != nil {
		return result.Result{}, err
	}
	return result.Result{}, nil
}
