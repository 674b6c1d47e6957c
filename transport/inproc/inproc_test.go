package inproc_test

import (
	"context"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/transport"
	"github.com/mpib/mpib/transport/inproc"
)

func TestSendRecv(t *testing.T) {
	g := inproc.New(2, inproc.Options{})
	var eg errgroup.Group
	eg.Go(func() error {
		return g[0].Send(context.Background(), 1, transport.TagPayload, []byte("hello"))
	})
	eg.Go(func() error {
		data, err := g[1].Recv(context.Background(), 0, transport.TagPayload)
		if err != nil {
			return err
		}
		require.Equal(t, "hello", string(data))
		return nil
	})
	require.NoError(t, eg.Wait())
}

func TestBarrierReleasesAllRanks(t *testing.T) {
	const n = 5
	g := inproc.New(n, inproc.Options{})
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		tr := g[i]
		eg.Go(func() error { return tr.Barrier(context.Background()) })
	}
	require.NoError(t, eg.Wait())
}

func TestBroadcast(t *testing.T) {
	const n = 4
	const root = 2
	g := inproc.New(n, inproc.Options{})
	results := make([][]byte, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			var payload []byte
			if i == root {
				payload = []byte("from-root")
			}
			got, err := tr.Broadcast(context.Background(), root, payload)
			results[i] = got
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Equal(t, "from-root", string(results[i]))
	}
}

func TestAllReduceMax(t *testing.T) {
	const n = 4
	g := inproc.New(n, inproc.Options{})
	results := make([]float64, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			got, err := tr.AllReduceMax(context.Background(), float64(i))
			results[i] = got
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Equal(t, float64(n-1), results[i])
	}
}

func TestAllGather(t *testing.T) {
	const n = 3
	g := inproc.New(n, inproc.Options{})
	results := make([][][]byte, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			got, err := tr.AllGather(context.Background(), []byte{byte(i)})
			results[i] = got
			return err
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Len(t, results[i], n)
		for j := 0; j < n; j++ {
			require.Equal(t, []byte{byte(j)}, results[i][j])
		}
	}
}

func TestSplitByParity(t *testing.T) {
	const n = 6
	g := inproc.New(n, inproc.Options{})
	subSizes := make([]int, n)
	subRanks := make([]int, n)
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			sub, err := tr.Split(context.Background(), i%2, i)
			if err != nil {
				return err
			}
			subSizes[i] = sub.Size()
			subRanks[i] = sub.Rank()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	for i := 0; i < n; i++ {
		require.Equal(t, 3, subSizes[i])
		require.Equal(t, i/2, subRanks[i])
	}
}

func TestDupIsIndependent(t *testing.T) {
	const n = 2
	g := inproc.New(n, inproc.Options{})
	var dups [2]transport.Transport
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i, tr := i, g[i]
		eg.Go(func() error {
			d, err := tr.Dup(context.Background())
			dups[i] = d
			return err
		})
	}
	require.NoError(t, eg.Wait())

	// Concurrent use of the original and the dup should not interfere:
	// a barrier on the dup must not satisfy a pending barrier on the
	// original and vice versa.
	done := make(chan struct{})
	go func() {
		var orig errgroup.Group
		orig.Go(func() error { return g[0].Barrier(context.Background()) })
		orig.Go(func() error { return g[1].Barrier(context.Background()) })
		_ = orig.Wait()
		close(done)
	}()
	dup1 := make(chan error, 1)
	go func() { dup1 <- dups[1].Barrier(context.Background()) }()
	require.NoError(t, dups[0].Barrier(context.Background()))
	require.NoError(t, <-dup1)
	<-done
}

func TestHostName(t *testing.T) {
	g := inproc.New(3, inproc.Options{HostNames: []string{"a", "a", "b"}})
	h0, err := g[0].HostName()
	require.NoError(t, err)
	require.Equal(t, "a", h0)
	h2, err := g[2].HostName()
	require.NoError(t, err)
	require.Equal(t, "b", h2)
}
