// Package collectives provides concrete operation.Collective plugins that
// exercise the engine's timing methods with real collective algorithms,
// grounded on the flat and tree-based implementations of
// original_source/collectives. Each container implements
// operation.Collective purely in terms of transport.Transport send/recv
// primitives; the engine itself never inspects which algorithm is in use.
package collectives

import (
	"context"
	"fmt"

	"github.com/mpib/mpib/transport"
)

// FlatGather is a flat-tree, non-blocking gather-to-root (spec section 3.4,
// grounded on original_source/collectives/sg_flat.c's
// MPIB_Gather_flat_nb): root posts one IRecv per non-root rank and waits on
// all of them; every other rank performs a single blocking Send.
type FlatGather struct {
	sendBuf  []byte
	recvBufs [][]byte
}

// NewFlatGather returns a ready-to-use FlatGather container.
func NewFlatGather() *FlatGather { return &FlatGather{} }

func (g *FlatGather) Label() string { return "flat-gather" }

func (g *FlatGather) Initialize(_ context.Context, group transport.Transport, root, size int) error {
	g.sendBuf = make([]byte, size)
	if group.Rank() == root {
		g.recvBufs = make([][]byte, group.Size())
	}
	return nil
}

func (g *FlatGather) Execute(ctx context.Context, group transport.Transport, root, size int) error {
	rank := group.Rank()
	if rank != root {
		return group.Send(ctx, root, transport.TagPayload, g.sendBuf[:size])
	}

	n := group.Size()
	g.recvBufs[root] = g.sendBuf[:size]
	reqs := make(map[int]transport.Request, n-1)
	for i := 0; i < n; i++ {
		if i == root {
			continue
		}
		req, err := group.IRecv(ctx, i, transport.TagPayload)
		if err != nil {
			return fmt.Errorf("collectives: flat gather: irecv from %d: %w", i, err)
		}
		reqs[i] = req
	}
	for i, req := range reqs {
		data, err := req.Wait(ctx)
		if err != nil {
			return fmt.Errorf("collectives: flat gather: wait on %d: %w", i, err)
		}
		if len(data) != size {
			return fmt.Errorf("collectives: flat gather: size mismatch from %d: want %d got %d", i, size, len(data))
		}
		g.recvBufs[i] = data
	}
	return nil
}

func (g *FlatGather) Finalize(_ context.Context, _ transport.Transport, _ int) error {
	g.sendBuf = nil
	g.recvBufs = nil
	return nil
}

// FlatScatter is the scatter counterpart (grounded on sg_flat.c's
// MPIB_Scatter_flat_nb): root posts one ISend per non-root rank, carrying a
// distinct slice of its send buffer, and waits on all of them; every other
// rank performs a single blocking Recv.
type FlatScatter struct {
	sendBuf []byte
	recvBuf []byte
}

// NewFlatScatter returns a ready-to-use FlatScatter container.
func NewFlatScatter() *FlatScatter { return &FlatScatter{} }

func (s *FlatScatter) Label() string { return "flat-scatter" }

func (s *FlatScatter) Initialize(_ context.Context, group transport.Transport, root, size int) error {
	s.recvBuf = make([]byte, size)
	if group.Rank() == root {
		s.sendBuf = make([]byte, size*group.Size())
	}
	return nil
}

func (s *FlatScatter) Execute(ctx context.Context, group transport.Transport, root, size int) error {
	rank := group.Rank()
	if rank != root {
		data, err := group.Recv(ctx, root, transport.TagPayload)
		if err != nil {
			return fmt.Errorf("collectives: flat scatter: recv: %w", err)
		}
		if len(data) != size {
			return fmt.Errorf("collectives: flat scatter: size mismatch: want %d got %d", size, len(data))
		}
		s.recvBuf = data
		return nil
	}

	n := group.Size()
	reqs := make([]transport.Request, 0, n-1)
	copy(s.recvBuf, s.sendBuf[root*size:root*size+size])
	for i := 0; i < n; i++ {
		if i == root {
			continue
		}
		req, err := group.ISend(ctx, i, transport.TagPayload, s.sendBuf[i*size:i*size+size])
		if err != nil {
			return fmt.Errorf("collectives: flat scatter: isend to %d: %w", i, err)
		}
		reqs = append(reqs, req)
	}
	for i, req := range reqs {
		if _, err := req.Wait(ctx); err != nil {
			return fmt.Errorf("collectives: flat scatter: wait %d: %w", i, err)
		}
	}
	return nil
}

func (s *FlatScatter) Finalize(_ context.Context, _ transport.Transport, _ int) error {
	s.sendBuf = nil
	s.recvBuf = nil
	return nil
}
