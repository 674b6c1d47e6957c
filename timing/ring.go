package timing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/transport"
)

// ErrNoRingProbe is returned by MeasureRing when container does not
// implement operation.RingProbe.
var ErrNoRingProbe = errors.New("timing: container does not implement operation.RingProbe")

// MeasureRing times one full-group ring handoff per iteration (spec section
// 3's optional "ring-style transfer measurement" hook, supplemented from
// original_source/tools/p2p.c's MPIB_measure_transfer and
// original_source/benchmarks/mpib_p2p_containers.cpp's execute_measure_Tm):
// every rank forwards size bytes to (rank+1)%n and receives the same hop
// from (rank-1+n)%n, and rank 0 times its own leg as the representative
// measurement, coordinating stop/continue exactly as MeasureMax does. Not
// called by any other timing method; purely an additive, separately timed
// measurement a caller can run alongside the pairwise all-pairs sweep.
func MeasureRing(ctx context.Context, group transport.Transport, container operation.P2P, size int, p repetition.Precision, log *zerolog.Logger) (result.Result, error) {
	relay, ok := container.(operation.RingProbe)
	if !ok {
		return result.Result{}, ErrNoRingProbe
	}
	lg := logger(log)
	if err := container.Initialize(ctx, group, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: ring: initialize: %w", err)
	}
	defer container.Finalize(ctx, group)

	rank := group.Rank()
	n := group.Size()
	next := (rank + 1) % n

	if rank == 0 {
		observe := func(ctx context.Context, iteration int) (float64, error) {
			t0 := group.Now()
			if err := relay.ExecuteRing(ctx, group, size, next); err != nil {
				return 0, err
			}
			return group.Now() - t0, nil
		}
		broadcast := func(ctx context.Context, stop bool) error {
			_, err := group.Broadcast(ctx, 0, boolBytes(stop))
			return err
		}
		out, err := repetition.RunCoordinator(ctx, p, ciFunc(group), observe, broadcast)
		if err != nil {
			return result.Result{}, fmt.Errorf("timing: measure ring: %w", err)
		}
		lg.Debug().Str("method", "ring").Int("size", size).Int("reps", out.Reps).Msg("observation complete")
		wtick, err := groupMaxTick(ctx, group)
		if err != nil {
			return result.Result{}, err
		}
		return assembleResult(size, out, wtick), nil
	}

	observe := func(ctx context.Context, iteration int) error {
		return relay.ExecuteRing(ctx, group, size, next)
	}
	receive := func(ctx context.Context) (bool, error) {
		got, err := group.Broadcast(ctx, 0, nil)
		if err != nil {
			return false, err
		}
		return bytesBool(got), nil
	}
	if err := repetition.RunParticipant(ctx, p.MaxReps, observe, receive); err != nil {
		return result.Result{}, fmt.Errorf("timing: ring participant: %w", err)
	}
	if _, err := groupMaxTick(ctx, group); err != nil {
		return result.Result{}, err
	}
	return result.Result{}, nil
}
