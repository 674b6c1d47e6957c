package timing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mpib/mpib/calibration"
	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/transport"
)

// MeasureBcast is the specialized broadcast timer of spec section 4.6.6.
// Unlike measure_max/measure_root, it never adds a confirming barrier
// around the timed collective, since that barrier would itself use a
// broadcast-like tree and bias the result. Instead it measures, for every
// non-root rank i, the mean time of max_reps broadcasts each followed by
// a zero-length ping between root and i, then subtracts half the
// calibrated empty round trip for that pair. The reported time is the
// maximum of these per-rank estimates; reps is always exactly max_reps,
// since early termination would require mid-series synchronization that
// would itself perturb the broadcast.
func MeasureBcast(ctx context.Context, group transport.Transport, reg *calibration.Registry, container operation.Collective, root, size, maxReps, rttReps int, runAllPairs calibration.AllPairsRunner, log *zerolog.Logger) (result.Result, error) {
	lg := logger(log)

	rtt, err := reg.EmptyRTTMatrix(ctx, group, rttReps, runAllPairs)
	if err != nil {
		return result.Result{}, fmt.Errorf("timing: measure bcast: empty RTT calibration: %w", err)
	}

	rank := group.Rank()
	if err := container.Initialize(ctx, group, root, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: bcast: initialize: %w", err)
	}
	defer container.Finalize(ctx, group, root)

	n := group.Size()
	var best float64
	haveBest := false

	for i := 0; i < n; i++ {
		if i == root {
			continue
		}

		switch {
		case rank == root:
			t0 := group.Now()
			for k := 0; k < maxReps; k++ {
				if err := container.Execute(ctx, group, root, size); err != nil {
					return result.Result{}, fmt.Errorf("timing: bcast: execute: %w", err)
				}
				if _, err := group.Recv(ctx, i, transport.TagControl); err != nil {
					return result.Result{}, fmt.Errorf("timing: bcast: ping from rank %d: %w", i, err)
				}
			}
			elapsed := group.Now() - t0
			mean := elapsed / float64(maxReps)
			estimate := mean - rtt[root][i]/2
			if !haveBest || estimate > best {
				best = estimate
				haveBest = true
			}
		case rank == i:
			for k := 0; k < maxReps; k++ {
				if err := container.Execute(ctx, group, root, size); err != nil {
					return result.Result{}, fmt.Errorf("timing: bcast: execute: %w", err)
				}
				if err := group.Send(ctx, root, transport.TagControl, nil); err != nil {
					return result.Result{}, fmt.Errorf("timing: bcast: ping to root: %w", err)
				}
			}
		default:
			for k := 0; k < maxReps; k++ {
				if err := container.Execute(ctx, group, root, size); err != nil {
					return result.Result{}, fmt.Errorf("timing: bcast: execute: %w", err)
				}
			}
		}

		if err := group.Barrier(ctx); err != nil {
			return result.Result{}, fmt.Errorf("timing: bcast: inter-rank barrier: %w", err)
		}
	}

	// Every rank, not just root, is a co-participant of this group-wide
	// reduction: it must be called here, before any rank returns, or the
	// non-root ranks leave the function while root still waits on it.
	wtick, err := groupMaxTick(ctx, group)
	if err != nil {
		return result.Result{}, err
	}

	if rank != root {
		return result.Result{}, nil
	}

	lg.Debug().Str("method", "bcast").Int("size", size).Int("reps", maxReps).Msg("observation complete")
	return result.Result{
		M:     int32(size),
		T:     best,
		Wtick: wtick,
		Reps:  int32(maxReps),
		CI:    0,
	}, nil
}
