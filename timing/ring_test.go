package timing_test

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/timing"
	"github.com/mpib/mpib/transport/inproc"
)

func TestMeasureRingReportsNonNegativeMeanAtRankZero(t *testing.T) {
	g := inproc.New(4, inproc.Options{})
	var eg errgroup.Group
	var measured result.Result
	for i, tr := range g {
		i, tr := i, tr
		eg.Go(func() error {
			r, err := timing.MeasureRing(context.Background(), tr, operation.NewRingRelay(), 32, fixedPrecision(5), nil)
			if i == 0 {
				measured = r
			}
			return err
		})
	}
	require.NoError(t, eg.Wait())
	require.Equal(t, int32(32), measured.M)
	require.Equal(t, int32(5), measured.Reps)
	require.GreaterOrEqual(t, measured.T, 0.0)
}

func TestMeasureRingRejectsContainerWithoutRingProbe(t *testing.T) {
	g := inproc.New(2, inproc.Options{})
	var eg errgroup.Group
	for _, tr := range g {
		tr := tr
		eg.Go(func() error {
			_, err := timing.MeasureRing(context.Background(), tr, operation.NewRoundtripPing(), 32, fixedPrecision(5), nil)
			require.ErrorIs(t, err, timing.ErrNoRingProbe)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}
