package calibration_test

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/calibration"
	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/transport"
	"github.com/mpib/mpib/transport/inproc"
)

func TestClockOffsetsSynchronousIsZero(t *testing.T) {
	const n = 4
	g := inproc.New(n, inproc.Options{})
	var registries [n]calibration.Registry
	var eg errgroup.Group
	results := make([][]float64, n)
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			d, err := registries[i].ClockOffsets(context.Background(), tr, 5, true)
			results[i] = d
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			require.Zero(t, results[i][j])
		}
	}
}

func TestClockOffsetsReusesSameGroup(t *testing.T) {
	const n = 3
	g := inproc.New(n, inproc.Options{})
	var reg [n]calibration.Registry
	var first, second [n][]float64
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			d, err := reg[i].ClockOffsets(context.Background(), tr, 2, false)
			if err != nil {
				return err
			}
			first[i] = d
			second[i], err = reg[i].ClockOffsets(context.Background(), tr, 2, false)
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Same(t, &first[i][0], &second[i][0], "rank %d", i)
	}
}

func TestBarrierMeanIsNonNegative(t *testing.T) {
	const n = 3
	g := inproc.New(n, inproc.Options{})
	var reg [n]calibration.Registry
	var eg errgroup.Group
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			m, err := reg[i].BarrierMean(context.Background(), tr, 10)
			means[i] = m
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.GreaterOrEqual(t, means[i], 0.0)
	}
}

func TestEmptyRTTMatrixIsSymmetricWithZeroDiagonal(t *testing.T) {
	const n = 4
	g := inproc.New(n, inproc.Options{})
	var reg [n]calibration.Registry

	// A trivial stand-in for the all-pairs p2p driver: every pair's result
	// is the rank sum, deterministic and symmetric, so the matrix assembly
	// logic can be checked without pulling in package timing.
	runAllPairs := func(ctx context.Context, group transport.Transport, precision repetition.Precision) (map[pairsched.Pair]result.Result, error) {
		rank := group.Rank()
		schedule := pairsched.Build(group.Size())
		out := make(map[pairsched.Pair]result.Result)
		for _, round := range schedule {
			peer, ok := round.Peer(rank)
			if !ok {
				continue
			}
			pair := pairsched.Pair{I: rank, J: peer}
			if rank > peer {
				pair = pairsched.Pair{I: peer, J: rank}
			}
			out[pair] = result.Result{T: float64(pair.I + pair.J)}
		}
		gathered, err := group.AllGatherVarying(ctx, encodePairs(out))
		if err != nil {
			return nil, err
		}
		merged := make(map[pairsched.Pair]result.Result)
		for _, b := range gathered {
			for k, v := range decodePairs(b) {
				merged[k] = v
			}
		}
		return merged, nil
	}

	var eg errgroup.Group
	mats := make([]calibrationMatrix, n)
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			m, err := reg[i].EmptyRTTMatrix(context.Background(), tr, 3, runAllPairs)
			mats[i] = calibrationMatrix(m)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for i := 0; i < n; i++ {
		require.Len(t, mats[i], n)
		for a := 0; a < n; a++ {
			require.Zero(t, mats[i][a][a])
			for b := 0; b < n; b++ {
				require.Equal(t, mats[i][a][b], mats[i][b][a])
			}
		}
	}
}

type calibrationMatrix [][]float64

// encodePairs/decodePairs are a minimal gob-free stand-in used only by this
// test's fake all-pairs driver to move its partial map across AllGatherVarying.
func encodePairs(m map[pairsched.Pair]result.Result) []byte {
	buf := make([]byte, 0, len(m)*24)
	for p, r := range m {
		buf = append(buf, byte(p.I), byte(p.J))
		bits := result.Encode(nil, r)
		buf = append(buf, bits...)
	}
	return buf
}

func decodePairs(buf []byte) map[pairsched.Pair]result.Result {
	out := make(map[pairsched.Pair]result.Result)
	for len(buf) > 0 {
		i, j := int(buf[0]), int(buf[1])
		buf = buf[2:]
		r, rest, err := result.Decode(buf)
		if err != nil {
			return out
		}
		out[pairsched.Pair{I: i, J: j}] = r
		buf = rest
	}
	return out
}
