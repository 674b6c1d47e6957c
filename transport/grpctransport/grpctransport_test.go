package grpctransport_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/transport"
	"github.com/mpib/mpib/transport/grpctransport"
)

// freeAddrs picks n free localhost ports by briefly binding and releasing
// them; racy in principle (another process could grab one first) but the
// standard pattern for wiring up a real-network test group.
func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = lis.Addr().String()
		require.NoError(t, lis.Close())
	}
	return addrs
}

func newGroup(t *testing.T, n int) []*grpctransport.Transport {
	t.Helper()
	addrs := freeAddrs(t, n)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	group := make([]*grpctransport.Transport, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			tr, err := grpctransport.New(ctx, i, addrs)
			if err != nil {
				return fmt.Errorf("rank %d: %w", i, err)
			}
			group[i] = tr
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	t.Cleanup(func() {
		for _, tr := range group {
			_ = tr.Close()
		}
	})
	return group
}

func TestSendRecvRoundTrip(t *testing.T) {
	g := newGroup(t, 2)
	ctx := context.Background()

	var eg errgroup.Group
	eg.Go(func() error {
		return g[0].Send(ctx, 1, transport.TagPayload, []byte("hello"))
	})
	eg.Go(func() error {
		data, err := g[1].Recv(ctx, 0, transport.TagPayload)
		if err != nil {
			return err
		}
		if string(data) != "hello" {
			return fmt.Errorf("got %q", data)
		}
		return nil
	})
	require.NoError(t, eg.Wait())
}

func TestBarrierReleasesEveryRank(t *testing.T) {
	const n = 4
	g := newGroup(t, n)
	ctx := context.Background()

	var eg errgroup.Group
	for i := 0; i < n; i++ {
		tr := g[i]
		eg.Go(func() error { return tr.Barrier(ctx) })
	}
	require.NoError(t, eg.Wait())
}

func TestBroadcastDeliversRootPayload(t *testing.T) {
	const n, root = 3, 1
	g := newGroup(t, n)
	ctx := context.Background()

	got := make([][]byte, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			var payload []byte
			if i == root {
				payload = []byte("broadcast-me")
			}
			data, err := tr.Broadcast(ctx, root, payload)
			got[i] = data
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Equal(t, "broadcast-me", string(got[i]), "rank %d", i)
	}
}

func TestAllReduceMaxAgreesEverywhere(t *testing.T) {
	const n = 5
	g := newGroup(t, n)
	ctx := context.Background()

	got := make([]float64, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			v, err := tr.AllReduceMax(ctx, float64(i))
			got[i] = v
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Equal(t, float64(n-1), got[i], "rank %d", i)
	}
}

func TestAllGatherOrdersByRank(t *testing.T) {
	const n = 4
	g := newGroup(t, n)
	ctx := context.Background()

	got := make([][][]byte, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			all, err := tr.AllGather(ctx, []byte{byte(i)})
			got[i] = all
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Len(t, got[i], n)
		for j := 0; j < n; j++ {
			require.Equal(t, []byte{byte(j)}, got[i][j])
		}
	}
}

func TestSplitPartitionsByColorAndOrdersByKey(t *testing.T) {
	const n = 4
	g := newGroup(t, n)
	ctx := context.Background()

	// Evens and odds split into two sub-groups, ordered by descending
	// original rank (key = -rank) within each.
	subs := make([]transport.Transport, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			color := i % 2
			sub, err := tr.Split(ctx, color, -i)
			subs[i] = sub
			return err
		})
	}
	require.NoError(t, eg.Wait())

	require.Equal(t, 2, subs[0].Size())
	require.Equal(t, 2, subs[1].Size())
	require.Equal(t, 2, subs[2].Size())
	require.Equal(t, 2, subs[3].Size())

	// Within color 0 (ranks 0,2), key -0 > key -2, so rank 0 sorts after
	// rank 2: new rank 0 is global rank 2.
	require.Equal(t, 1, subs[0].Rank())
	require.Equal(t, 0, subs[2].Rank())
}

func TestDupGivesIndependentTagSpace(t *testing.T) {
	const n = 2
	g := newGroup(t, n)
	ctx := context.Background()

	dups := make([]transport.Transport, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			d, err := tr.Dup(ctx)
			dups[i] = d
			return err
		})
	}
	require.NoError(t, eg.Wait())

	eg = errgroup.Group{}
	eg.Go(func() error {
		return dups[0].Send(ctx, 1, transport.TagPayload, []byte("on-dup"))
	})
	eg.Go(func() error {
		data, err := dups[1].Recv(ctx, 0, transport.TagPayload)
		if err != nil {
			return err
		}
		if string(data) != "on-dup" {
			return fmt.Errorf("got %q", data)
		}
		return nil
	})
	require.NoError(t, eg.Wait())
}
