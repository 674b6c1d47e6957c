package calibration

import (
	"context"
	"fmt"

	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/transport"
)

// RTTMatrix is the symmetric N×N matrix of empty (zero-length) ping-pong
// round-trip times spec section 4.5.3 describes, one entry per unordered
// pair and zero on the diagonal.
type RTTMatrix [][]float64

// AllPairsRunner matches the signature of the all-pairs p2p timing method
// (spec section 4.6.2). calibration takes it as a parameter rather than
// importing the timing package directly: timing already depends on
// calibration for the root/global/bcast methods' cached state, and
// calibration computing its empty-RTT matrix by calling back into timing
// would close that into an import cycle. Injecting the function lets
// timing supply its own MeasureAllP2P without calibration ever importing
// timing.
type AllPairsRunner func(ctx context.Context, group transport.Transport, precision repetition.Precision) (map[pairsched.Pair]result.Result, error)

// EmptyRTTMatrix returns the empty-message round-trip matrix for g,
// reused iff g is the same group identity as last time. runAllPairs is
// invoked with a fixed-count precision of reps repetitions; it carries no
// message size, so the runner itself fixes the zero-length message of
// spec section 4.5.3.
func (r *Registry) EmptyRTTMatrix(ctx context.Context, g transport.Transport, reps int, runAllPairs AllPairsRunner) (RTTMatrix, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sameGroup(r.bcast.group, g) {
		return r.bcast.rtt, nil
	}

	precision := repetition.Precision{MinReps: reps, MaxReps: reps, CL: 0, Eps: 0}
	if err := precision.Validate(); err != nil {
		return nil, fmt.Errorf("calibration: empty RTT: %w", err)
	}

	results, err := runAllPairs(ctx, g, precision)
	if err != nil {
		return nil, fmt.Errorf("calibration: empty RTT: %w", err)
	}

	n := g.Size()
	m := make(RTTMatrix, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for pair, res := range results {
		m[pair.I][pair.J] = res.T
		m[pair.J][pair.I] = res.T
	}

	r.bcast.group = g
	r.bcast.rtt = m
	return m, nil
}
