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

// ErrNoEagerProbe is returned by MeasureOverheadEager/MeasureOverheadRendezvous
// when container does not implement operation.EagerProbe.
var ErrNoEagerProbe = errors.New("timing: container does not implement operation.EagerProbe")

// MeasureOverheadEager times container's eager-protocol send overhead
// (spec section 3's optional extended hooks, supplemented from
// original_source/benchmarks/mpib_p2p_benchmarks.c's
// MPIB_measure_overhead_eager), using the same handshake-then-time loop as
// MeasureP2P but calling ExecuteEagerProbe in place of ExecuteMeasure. The
// returned Result is meaningful only at the measuring rank.
func MeasureOverheadEager(ctx context.Context, group transport.Transport, container operation.P2P, peer, size int, p repetition.Precision, isMeasure bool, log *zerolog.Logger) (result.Result, error) {
	probe, ok := container.(operation.EagerProbe)
	if !ok {
		return result.Result{}, ErrNoEagerProbe
	}
	return measureOverhead(ctx, group, container, probe.ExecuteEagerProbe, "overhead-eager", peer, size, p, isMeasure, log)
}

// MeasureOverheadRendezvous times container's rendezvous-protocol send
// overhead, the MPI_Ssend-backed counterpart to MeasureOverheadEager,
// grounded on the same source's MPIB_measure_overhead_rdvz.
func MeasureOverheadRendezvous(ctx context.Context, group transport.Transport, container operation.P2P, peer, size int, p repetition.Precision, isMeasure bool, log *zerolog.Logger) (result.Result, error) {
	probe, ok := container.(operation.EagerProbe)
	if !ok {
		return result.Result{}, ErrNoEagerProbe
	}
	return measureOverhead(ctx, group, container, probe.ExecuteRendezvousProbe, "overhead-rendezvous", peer, size, p, isMeasure, log)
}

func measureOverhead(ctx context.Context, group transport.Transport, container operation.P2P, probeExecute func(ctx context.Context, group transport.Transport, size, peer int) error, label string, peer, size int, p repetition.Precision, isMeasure bool, log *zerolog.Logger) (result.Result, error) {
	lg := logger(log)
	if err := container.Initialize(ctx, group, size); err != nil {
		return result.Result{}, fmt.Errorf("timing: %s: initialize: %w", label, err)
	}
	defer container.Finalize(ctx, group)

	if isMeasure {
		observe := func(ctx context.Context, iteration int) (float64, error) {
			if _, err := group.Recv(ctx, peer, transport.TagHandshake); err != nil {
				return 0, err
			}
			t0 := group.Now()
			if err := probeExecute(ctx, group, size, peer); err != nil {
				return 0, err
			}
			return group.Now() - t0, nil
		}
		broadcast := func(ctx context.Context, stop bool) error {
			return sendBool(ctx, group, peer, transport.TagControl, stop)
		}
		out, err := repetition.RunCoordinator(ctx, p, ciFunc(group), observe, broadcast)
		if err != nil {
			return result.Result{}, fmt.Errorf("timing: measure %s: %w", label, err)
		}
		lg.Debug().Str("method", label).Int("size", size).Int("reps", out.Reps).Msg("observation complete")
		wtick, err := groupMaxTick(ctx, group)
		if err != nil {
			return result.Result{}, err
		}
		return assembleResult(size, out, wtick), nil
	}

	observe := func(ctx context.Context, iteration int) error {
		if err := group.Send(ctx, peer, transport.TagHandshake, nil); err != nil {
			return err
		}
		return container.ExecuteMirror(ctx, group, size, peer)
	}
	receive := func(ctx context.Context) (bool, error) {
		return recvBool(ctx, group, peer, transport.TagControl)
	}
	if err := repetition.RunParticipant(ctx, p.MaxReps, observe, receive); err != nil {
		return result.Result{}, fmt.Errorf("timing: %s mirror: %w", label, err)
	}
	if _, err := groupMaxTick(ctx, group); err != nil {
		return result.Result{}, err
	}
	return result.Result{}, nil
}
