package collectives

import (
	"context"
	"fmt"

	"github.com/mpib/mpib/transport"
)

// BinomialBroadcast is a binomial-tree broadcast (spec section 3.4,
// generalizing original_source/collectives/br_tree_algorithms.hpp's
// MPIB_Bcast_tree_algorithm with a binomial communication tree computed
// arithmetically rather than built as an explicit graph): at step k a rank
// whose relative distance from root has bit k set receives from the rank
// mask away, then forwards to every rank reachable by a smaller power of
// two still within the group.
type BinomialBroadcast struct {
	buf []byte
}

// NewBinomialBroadcast returns a ready-to-use BinomialBroadcast container.
func NewBinomialBroadcast() *BinomialBroadcast { return &BinomialBroadcast{} }

func (b *BinomialBroadcast) Label() string { return "binomial-broadcast" }

func (b *BinomialBroadcast) Initialize(_ context.Context, _ transport.Transport, _, size int) error {
	b.buf = make([]byte, size)
	return nil
}

func (b *BinomialBroadcast) Execute(ctx context.Context, group transport.Transport, root, size int) error {
	n := group.Size()
	rank := group.Rank()
	relative := (rank - root + n) % n

	mask := 1
	for mask < n {
		if relative&mask != 0 {
			src := rank - mask
			if src < 0 {
				src += n
			}
			data, err := group.Recv(ctx, src, transport.TagPayload)
			if err != nil {
				return fmt.Errorf("collectives: binomial broadcast: recv from %d: %w", src, err)
			}
			if len(data) != size {
				return fmt.Errorf("collectives: binomial broadcast: size mismatch: want %d got %d", size, len(data))
			}
			copy(b.buf, data)
			break
		}
		mask <<= 1
	}

	var reqs []transport.Request
	for mask >>= 1; mask > 0; mask >>= 1 {
		if relative+mask >= n {
			continue
		}
		dst := rank + mask
		if dst >= n {
			dst -= n
		}
		req, err := group.ISend(ctx, dst, transport.TagPayload, b.buf[:size])
		if err != nil {
			return fmt.Errorf("collectives: binomial broadcast: isend to %d: %w", dst, err)
		}
		reqs = append(reqs, req)
	}
	for _, req := range reqs {
		if _, err := req.Wait(ctx); err != nil {
			return fmt.Errorf("collectives: binomial broadcast: wait: %w", err)
		}
	}
	return nil
}

func (b *BinomialBroadcast) Finalize(context.Context, transport.Transport, int) error {
	b.buf = nil
	return nil
}
