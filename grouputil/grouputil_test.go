package grouputil_test

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/grouputil"
	"github.com/mpib/mpib/transport"
	"github.com/mpib/mpib/transport/inproc"
)

func TestOnePerHostPicksFirstRankPerHost(t *testing.T) {
	const n = 5
	hosts := []string{"b", "a", "a", "c", "b"}
	g := inproc.New(n, inproc.Options{HostNames: hosts})

	var eg errgroup.Group
	subs := make([]transport.Transport, n)
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			sub, err := grouputil.OnePerHost(context.Background(), tr)
			subs[i] = sub
			return err
		})
	}
	require.NoError(t, eg.Wait())

	// Sorted host order is a(1), a(2), b(0), b(4), c(3); first occurrence
	// per distinct name is rank 1 (a), rank 0 (b), rank 3 (c).
	wantMember := map[int]bool{0: true, 1: true, 3: true}
	for i := 0; i < n; i++ {
		if wantMember[i] {
			require.NotNil(t, subs[i], "rank %d should be a member", i)
		} else {
			require.Nil(t, subs[i], "rank %d should be excluded", i)
		}
	}
}

func TestOnePerHostAllSameHostKeepsOnlyRankZero(t *testing.T) {
	const n = 4
	g := inproc.New(n, inproc.Options{})

	var eg errgroup.Group
	subs := make([]transport.Transport, n)
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			sub, err := grouputil.OnePerHost(context.Background(), tr)
			subs[i] = sub
			return err
		})
	}
	require.NoError(t, eg.Wait())

	require.NotNil(t, subs[0])
	require.Equal(t, 1, subs[0].Size())
	for i := 1; i < n; i++ {
		require.Nil(t, subs[i])
	}
}
