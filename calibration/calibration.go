// Package calibration implements the process-wide, group-keyed calibration
// registry of spec section 4.5: clock-offset estimation (feeds
// timing.MeasureGlobal), barrier-time calibration (feeds
// timing.MeasureRoot), and the empty-round-trip matrix (feeds
// timing.MeasureBcast). Per spec section 9's design note on the source's
// file-scope mutable singletons, this is re-architected as an explicit
// Registry value threaded through the timing methods rather than a
// package-level global, while keeping the "reuse iff same group" rule
// intact.
package calibration

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/transport"
)

// DefaultReps is the number of round trips each calibration sub-protocol
// performs per pair, absent an explicit override.
const DefaultReps = 20

// Registry holds the three calibration slots. The zero value is ready to
// use. A Registry is not safe for concurrent use by two timing methods on
// the same rank simultaneously (spec section 5: "callers must not invoke
// two timing methods concurrently on the same rank"); the internal mutex
// exists only to make accidental concurrent access fail safely rather than
// corrupt state, not to offer a concurrency guarantee the spec disclaims.
type Registry struct {
	mu sync.Mutex

	global struct {
		group transport.Transport
		delta []float64
	}
	root struct {
		group transport.Transport
		mean  float64
	}
	bcast struct {
		group transport.Transport
		rtt   RTTMatrix
	}
}

// sameGroup reports whether g is the same group identity as cached. Group
// identity is the Transport handle itself: Split/Dup always return a
// distinct handle, so handle identity is exactly spec section 4.5's "group
// identity" key, and reusing the same handle across calls means "the same
// group".
func sameGroup(cached, g transport.Transport) bool {
	return cached != nil && cached == g
}

// ClockOffsets returns the clock-offset vector for g (spec section 4.5.1):
// delta[j] is the estimated offset of rank j's clock relative to this
// rank's own. The slot is reused iff g is the same group identity as the
// group the cached vector was produced against; otherwise it is recomputed
// and the old allocation released.
//
// If synchronous is true (the environment declares the wall clock globally
// synchronous), the entire vector is zero and no round trips are
// performed, per spec section 4.5.1.
func (r *Registry) ClockOffsets(ctx context.Context, g transport.Transport, reps int, synchronous bool) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sameGroup(r.global.group, g) {
		return r.global.delta, nil
	}

	delta := make([]float64, g.Size())
	if !synchronous {
		if err := estimateClockOffsets(ctx, g, reps, delta); err != nil {
			return nil, err
		}
	}

	r.global.group = g
	r.global.delta = delta
	return delta, nil
}

// offsetEndpoint holds the open interval [lb, ub] bounding one pair's
// estimated clock offset, per spec section 4.5.1.
type offsetEndpoint struct {
	lb, ub float64
}

func estimateClockOffsets(ctx context.Context, g transport.Transport, reps int, delta []float64) error {
	rank := g.Rank()
	schedule := pairsched.Build(g.Size())

	for _, round := range schedule {
		peer, ok := round.Peer(rank)
		if !ok {
			if err := g.Barrier(ctx); err != nil {
				return fmt.Errorf("calibration: clock offset: barrier: %w", err)
			}
			continue
		}

		lower := true
		for _, p := range round {
			if p.I == rank {
				lower = true
				break
			}
			if p.J == rank {
				lower = false
				break
			}
		}

		var ep offsetEndpoint
		var err error
		if lower {
			ep, err = offsetInitiator(ctx, g, peer, reps)
		} else {
			err = offsetResponder(ctx, g, peer, reps)
		}
		if err != nil {
			return fmt.Errorf("calibration: clock offset: pair (%d,%d): %w", rank, peer, err)
		}

		if lower {
			d := (ep.lb + ep.ub) / 2
			delta[peer] = d
			// Install the symmetric estimate at the peer too (spec
			// section 4.5.1: "symmetrically installed at both
			// endpoints").
			if err := sendFloat(ctx, g, peer, -d); err != nil {
				return fmt.Errorf("calibration: clock offset: install at peer: %w", err)
			}
		} else {
			d, err := recvFloat(ctx, g, peer)
			if err != nil {
				return fmt.Errorf("calibration: clock offset: install at peer: %w", err)
			}
			delta[peer] = d
		}

		if err := g.Barrier(ctx); err != nil {
			return fmt.Errorf("calibration: clock offset: round barrier: %w", err)
		}
	}
	return nil
}

// offsetInitiator is rank i in the (i,j) pair of spec section 4.5.1:
// records past=now(), sends it; receives j's now_j, replies with it isn't
// needed (j already has now_j); receives nothing further — per the
// algorithm, i sends `past`, j replies with its own now_j, i records
// now_i on receipt.
func offsetInitiator(ctx context.Context, g transport.Transport, peer, reps int) (offsetEndpoint, error) {
	ep := offsetEndpoint{lb: ninf(), ub: pinf()}
	for k := 0; k < reps; k++ {
		past := g.Now()
		if err := sendFloat(ctx, g, peer, past); err != nil {
			return ep, err
		}
		timeReceived, err := recvFloat(ctx, g, peer)
		if err != nil {
			return ep, err
		}
		nowAfterReply := g.Now()
		if v := timeReceived - nowAfterReply; v > ep.lb {
			ep.lb = v
		}
		if v := timeReceived - past; v < ep.ub {
			ep.ub = v
		}
	}
	return ep, nil
}

// offsetResponder is rank j: receives past from i (unused beyond framing),
// records now_j, replies with now_j.
func offsetResponder(ctx context.Context, g transport.Transport, peer, reps int) error {
	for k := 0; k < reps; k++ {
		if _, err := recvFloat(ctx, g, peer); err != nil {
			return err
		}
		nowJ := g.Now()
		if err := sendFloat(ctx, g, peer, nowJ); err != nil {
			return err
		}
	}
	return nil
}

func ninf() float64 { var z float64; return -1 / z }
func pinf() float64 { var z float64; return 1 / z }

// BarrierMean returns the per-call barrier contribution for g (spec
// section 4.5.2), reused iff g is the same group identity as last time.
func (r *Registry) BarrierMean(ctx context.Context, g transport.Transport, reps int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sameGroup(r.root.group, g) {
		return r.root.mean, nil
	}

	// Warm-up: a double barrier to settle stragglers before timing begins.
	if err := g.Barrier(ctx); err != nil {
		return 0, fmt.Errorf("calibration: barrier mean: warm-up: %w", err)
	}
	if err := g.Barrier(ctx); err != nil {
		return 0, fmt.Errorf("calibration: barrier mean: warm-up: %w", err)
	}

	start := g.Now()
	for k := 0; k < reps; k++ {
		if err := g.Barrier(ctx); err != nil {
			return 0, fmt.Errorf("calibration: barrier mean: timed barrier %d: %w", k, err)
		}
	}
	elapsed := g.Now() - start
	mean := elapsed / float64(reps)

	r.root.group = g
	r.root.mean = mean
	return mean, nil
}

func sendFloat(ctx context.Context, g transport.Transport, peer int, v float64) error {
	return g.Send(ctx, peer, transport.TagCalibration, floatBytes(v))
}

func recvFloat(ctx context.Context, g transport.Transport, peer int) (float64, error) {
	b, err := g.Recv(ctx, peer, transport.TagCalibration)
	if err != nil {
		return 0, err
	}
	return bytesFloat(b)
}

// floatBytes and bytesFloat encode/decode the one-off float64 messages the
// clock-offset handshake exchanges, as a single fixed 8-byte native-endian
// encoding; there is no need for the padded, multi-field layout package
// result uses for Result records. The transport carries these bytes
// unchanged (grpctransport across processes and hosts), so the value reads
// back correctly only where sender and receiver share a byte order.
func floatBytes(v float64) []byte {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], math.Float64bits(v))
	return buf[:]
}

func bytesFloat(b []byte) (float64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("calibration: short float message: %d bytes", len(b))
	}
	return math.Float64frombits(binary.NativeEndian.Uint64(b)), nil
}
