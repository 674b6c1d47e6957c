package main

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/mpib/mpib/calibration"
	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/sweep"
	"github.com/mpib/mpib/timing"
	"github.com/mpib/mpib/transport"
)

// sizedPairResult pairs one message size with the all-pairs result map
// measured at it, the unit output.WriteP2PRow consumes per row.
type sizedPairResult struct {
	size    int
	results map[pairsched.Pair]result.Result
}

// coordinatorRank is the rank whose sweep output is meaningful and gets
// printed: the configured root for every method except allp2p, where
// every rank ends up holding an identical merged result set.
func coordinatorRank(o opts) int {
	if o.method == "allp2p" {
		return 0
	}
	return o.root
}

// runRank executes o.method on group from this rank's own perspective and
// returns whichever of the two result shapes applies; the other is nil.
func runRank(ctx context.Context, group transport.Transport, o opts, precision repetition.Precision, msgSet sweep.MsgSet, log zerolog.Logger) ([]result.Result, []sizedPairResult, error) {
	switch o.method {
	case "p2p":
		results, err := runP2PSweep(ctx, group, o, precision, msgSet, log)
		return results, nil, err
	case "allp2p":
		pairs, err := runAllP2PSweep(ctx, group, o, precision, msgSet, log)
		return nil, pairs, err
	case "max", "root", "global", "bcast":
		container, err := newCollective(o.op, o.direction)
		if err != nil {
			return nil, nil, err
		}
		reg := &calibration.Registry{}
		results, err := runCollectiveSweep(ctx, group, reg, container, o, precision, msgSet, log)
		return results, nil, err
	default:
		return nil, nil, fail("unknown -t %q", o.method)
	}
}

// runCollectiveSweep drives sweep.Run at the coordinating rank (o.root);
// every other rank mirrors the coordinator's size choices one at a time,
// announced via sweepControl, calling the same timing method so the
// underlying collective's participant-side branch runs in lockstep.
func runCollectiveSweep(ctx context.Context, group transport.Transport, reg *calibration.Registry, container operation.Collective, o opts, precision repetition.Precision, msgSet sweep.MsgSet, log zerolog.Logger) ([]result.Result, error) {
	if group.Rank() != o.root {
		for {
			ctrl, err := broadcastControl(ctx, group, o.root, sweepControl{})
			if err != nil {
				return nil, err
			}
			if ctrl.Stop {
				return nil, nil
			}
			if _, err := callTimingMethod(ctx, group, reg, container, o, int(ctrl.Size), precision, log); err != nil {
				return nil, err
			}
		}
	}

	results, sweepErr := sweep.Run(ctx, msgSet, func(ctx context.Context, size int) (result.Result, error) {
		if _, err := broadcastControl(ctx, group, o.root, sweepControl{Size: int32(size)}); err != nil {
			return result.Result{}, err
		}
		return callTimingMethod(ctx, group, reg, container, o, size, precision, log)
	})
	if _, err := broadcastControl(ctx, group, o.root, sweepControl{Stop: true}); err != nil && sweepErr == nil {
		sweepErr = err
	}
	return results, sweepErr
}

func callTimingMethod(ctx context.Context, group transport.Transport, reg *calibration.Registry, container operation.Collective, o opts, size int, precision repetition.Precision, log zerolog.Logger) (result.Result, error) {
	switch o.method {
	case "max":
		return timing.MeasureMax(ctx, group, container, o.root, size, precision, &log)
	case "root":
		return timing.MeasureRoot(ctx, group, reg, container, o.root, size, precision, o.barrierReps, &log)
	case "global":
		return timing.MeasureGlobal(ctx, group, reg, container, o.root, size, precision, o.offsetReps, o.synchronous, &log)
	case "bcast":
		runAllPairs := func(ctx context.Context, g transport.Transport, p repetition.Precision) (map[pairsched.Pair]result.Result, error) {
			return timing.MeasureAllP2P(ctx, g, operation.NewRoundtripPing(), 0, p, true, &log)
		}
		return timing.MeasureBcast(ctx, group, reg, container, o.root, size, o.maxReps, o.rttReps, runAllPairs, &log)
	default:
		return result.Result{}, fail("unknown -t %q for a collective timing method", o.method)
	}
}

// runP2PSweep drives a single-pair timing sweep: o.root is the measuring
// rank, o.peer the mirror. Every rank first joins a Split that gives the
// two of them a two-rank group of their own (o.root as rank 0, o.peer as
// rank 1), since MeasureP2P ends with an all-reduce over the whole group
// it is given; every other rank is left out of the Split and returns.
func runP2PSweep(ctx context.Context, group transport.Transport, o opts, precision repetition.Precision, msgSet sweep.MsgSet, log zerolog.Logger) ([]result.Result, error) {
	rank := group.Rank()
	container := operation.NewRoundtripPing()

	color, key := -1, 0
	switch rank {
	case o.root:
		color = 0
	case o.peer:
		color, key = 0, 1
	}
	pair, err := group.Split(ctx, color, key)
	if err != nil {
		return nil, err
	}

	switch rank {
	case o.root:
		results, sweepErr := sweep.Run(ctx, msgSet, func(ctx context.Context, size int) (result.Result, error) {
			if err := sendControl(ctx, pair, 1, sweepControl{Size: int32(size)}); err != nil {
				return result.Result{}, err
			}
			return timing.MeasureP2P(ctx, pair, container, 1, size, precision, true, &log)
		})
		if err := sendControl(ctx, pair, 1, sweepControl{Stop: true}); err != nil && sweepErr == nil {
			sweepErr = err
		}
		return results, sweepErr
	case o.peer:
		for {
			ctrl, err := recvControl(ctx, pair, 0)
			if err != nil {
				return nil, err
			}
			if ctrl.Stop {
				return nil, nil
			}
			if _, err := timing.MeasureP2P(ctx, pair, container, 0, int(ctrl.Size), precision, false, &log); err != nil {
				return nil, err
			}
		}
	default:
		return nil, nil
	}
}

// runAllP2PSweep drives the adaptive sweep identically on every rank
// without any extra orchestration message: MeasureAllP2P already ends its
// all-gather with an identical merged result map on every rank, so every
// rank's local sweep.Run computes the same representative statistic from
// that map and therefore makes the same adaptive size decision, the same
// trick the original benchmark's measure_max_adaptive uses an MPI_Allreduce
// for (see DESIGN.md).
func runAllP2PSweep(ctx context.Context, group transport.Transport, o opts, precision repetition.Precision, msgSet sweep.MsgSet, log zerolog.Logger) ([]sizedPairResult, error) {
	container := operation.NewRoundtripPing()
	var captured []sizedPairResult

	_, err := sweep.Run(ctx, msgSet, func(ctx context.Context, size int) (result.Result, error) {
		merged, err := timing.MeasureAllP2P(ctx, group, container, size, precision, o.parallel, &log)
		if err != nil {
			return result.Result{}, err
		}
		captured = append(captured, sizedPairResult{size: size, results: merged})
		return representative(size, merged), nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(captured, func(i, j int) bool { return captured[i].size < captured[j].size })
	return captured, nil
}

// representative reduces a per-pair result map to the single Result
// sweep's adaptive model needs to judge fit against: the worst-case (max)
// across every pair at this size.
func representative(size int, merged map[pairsched.Pair]result.Result) result.Result {
	var r result.Result
	r.M = int32(size)
	for _, pr := range merged {
		if pr.T > r.T {
			r.T = pr.T
		}
		if pr.Wtick > r.Wtick {
			r.Wtick = pr.Wtick
		}
		if pr.CI > r.CI {
			r.CI = pr.CI
		}
		if pr.Reps > r.Reps {
			r.Reps = pr.Reps
		}
	}
	return r
}
