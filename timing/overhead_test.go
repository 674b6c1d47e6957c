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

func TestMeasureOverheadEagerReportsNonNegativeMeanAtMeasureRank(t *testing.T) {
	g := inproc.New(2, inproc.Options{})
	var eg errgroup.Group
	var measured result.Result
	eg.Go(func() error {
		r, err := timing.MeasureOverheadEager(context.Background(), g[0], operation.NewEagerRendezvousPing(), 1, 64, fixedPrecision(5), true, nil)
		measured = r
		return err
	})
	eg.Go(func() error {
		_, err := timing.MeasureOverheadEager(context.Background(), g[1], operation.NewEagerRendezvousPing(), 0, 64, fixedPrecision(5), false, nil)
		return err
	})
	require.NoError(t, eg.Wait())
	require.Equal(t, int32(64), measured.M)
	require.Equal(t, int32(5), measured.Reps)
	require.GreaterOrEqual(t, measured.T, 0.0)
}

func TestMeasureOverheadRendezvousReportsNonNegativeMeanAtMeasureRank(t *testing.T) {
	g := inproc.New(2, inproc.Options{})
	var eg errgroup.Group
	var measured result.Result
	eg.Go(func() error {
		r, err := timing.MeasureOverheadRendezvous(context.Background(), g[0], operation.NewEagerRendezvousPing(), 1, 64, fixedPrecision(5), true, nil)
		measured = r
		return err
	})
	eg.Go(func() error {
		_, err := timing.MeasureOverheadRendezvous(context.Background(), g[1], operation.NewEagerRendezvousPing(), 0, 64, fixedPrecision(5), false, nil)
		return err
	})
	require.NoError(t, eg.Wait())
	require.Equal(t, int32(64), measured.M)
	require.Equal(t, int32(5), measured.Reps)
	require.GreaterOrEqual(t, measured.T, 0.0)
}

func TestMeasureOverheadEagerRejectsContainerWithoutEagerProbe(t *testing.T) {
	g := inproc.New(2, inproc.Options{})
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := timing.MeasureOverheadEager(context.Background(), g[0], operation.NewRoundtripPing(), 1, 64, fixedPrecision(5), true, nil)
		require.ErrorIs(t, err, timing.ErrNoEagerProbe)
		return nil
	})
	eg.Go(func() error {
		_, err := timing.MeasureOverheadEager(context.Background(), g[1], operation.NewRoundtripPing(), 0, 64, fixedPrecision(5), false, nil)
		require.ErrorIs(t, err, timing.ErrNoEagerProbe)
		return nil
	})
	require.NoError(t, eg.Wait())
}
