package collectives

import (
	"context"
	"fmt"

	"github.com/mpib/mpib/transport"
)

// VaryingGather is a flat-tree gatherv (spec section 3.4, grounded on
// original_source/collectives/sgv_flat.c's MPIB_Gatherv_flat): unlike
// FlatGather, each rank contributes a different number of bytes, scaled by
// its own rank, so the container exercises the per-rank varying-length path
// the basic flat collectives never touch.
type VaryingGather struct {
	sendBuf  []byte
	recvBufs [][]byte
}

// NewVaryingGather returns a ready-to-use VaryingGather container.
func NewVaryingGather() *VaryingGather { return &VaryingGather{} }

func (g *VaryingGather) Label() string { return "varying-gather" }

// contribution returns the byte count rank contributes at base size size:
// (rank+1)*size, so rank 0 contributes size bytes and the last rank
// contributes group.Size()*size bytes.
func contribution(rank, size int) int { return (rank + 1) * size }

func (g *VaryingGather) Initialize(_ context.Context, group transport.Transport, root, size int) error {
	g.sendBuf = make([]byte, contribution(group.Rank(), size))
	if group.Rank() == root {
		g.recvBufs = make([][]byte, group.Size())
	}
	return nil
}

func (g *VaryingGather) Execute(ctx context.Context, group transport.Transport, root, size int) error {
	rank := group.Rank()
	if rank != root {
		return group.Send(ctx, root, transport.TagPayload, g.sendBuf)
	}

	n := group.Size()
	g.recvBufs[root] = g.sendBuf
	for i := 0; i < n; i++ {
		if i == root {
			continue
		}
		data, err := group.Recv(ctx, i, transport.TagPayload)
		if err != nil {
			return fmt.Errorf("collectives: varying gather: recv from %d: %w", i, err)
		}
		want := contribution(i, size)
		if len(data) != want {
			return fmt.Errorf("collectives: varying gather: size mismatch from %d: want %d got %d", i, want, len(data))
		}
		g.recvBufs[i] = data
	}
	return nil
}

func (g *VaryingGather) Finalize(_ context.Context, _ transport.Transport, _ int) error {
	g.sendBuf = nil
	g.recvBufs = nil
	return nil
}

// VaryingScatter is the scatterv counterpart (grounded on sgv_flat.c's
// MPIB_Scatterv_flat): root sends each rank a slice scaled the same way
// VaryingGather scales its contributions, using blocking Send in rank
// order since the original's base algorithm has no non-blocking variant.
type VaryingScatter struct {
	sendBuf []byte
	recvBuf []byte
}

// NewVaryingScatter returns a ready-to-use VaryingScatter container.
func NewVaryingScatter() *VaryingScatter { return &VaryingScatter{} }

func (s *VaryingScatter) Label() string { return "varying-scatter" }

func (s *VaryingScatter) Initialize(_ context.Context, group transport.Transport, root, size int) error {
	s.recvBuf = make([]byte, contribution(group.Rank(), size))
	if group.Rank() == root {
		total := 0
		for i := 0; i < group.Size(); i++ {
			total += contribution(i, size)
		}
		s.sendBuf = make([]byte, total)
	}
	return nil
}

func (s *VaryingScatter) Execute(ctx context.Context, group transport.Transport, root, size int) error {
	rank := group.Rank()
	if rank != root {
		data, err := group.Recv(ctx, root, transport.TagPayload)
		if err != nil {
			return fmt.Errorf("collectives: varying scatter: recv: %w", err)
		}
		want := contribution(rank, size)
		if len(data) != want {
			return fmt.Errorf("collectives: varying scatter: size mismatch: want %d got %d", want, len(data))
		}
		s.recvBuf = data
		return nil
	}

	offset := 0
	for i := 0; i < group.Size(); i++ {
		count := contribution(i, size)
		chunk := s.sendBuf[offset : offset+count]
		offset += count
		if i == root {
			copy(s.recvBuf, chunk)
			continue
		}
		if err := group.Send(ctx, i, transport.TagPayload, chunk); err != nil {
			return fmt.Errorf("collectives: varying scatter: send to %d: %w", i, err)
		}
	}
	return nil
}

func (s *VaryingScatter) Finalize(_ context.Context, _ transport.Transport, _ int) error {
	s.sendBuf = nil
	s.recvBuf = nil
	return nil
}
