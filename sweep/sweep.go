// Package sweep implements the adaptive message-size sweep of spec
// section 4.7: it wraps any single-point timing function and drives it
// across a series of message sizes, picking the next size either by a
// fixed stride or by how well a two-point linear extrapolation predicts
// the latest measurement.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mpib/mpib/result"
)

// MsgSet is the measurement grid of spec section 3. Stride == 0 selects
// adaptive mode; Stride > 0 selects fixed-stride mode, in which case
// MaxDiff, MinStride and MaxNum are unused.
type MsgSet struct {
	MinSize, MaxSize int
	Stride           int
	MaxDiff          float64
	MinStride        int
	MaxNum           int
}

// ErrInvalidMsgSet is returned by Validate when MsgSet violates its
// documented invariants.
var ErrInvalidMsgSet = errors.New("sweep: invalid message set")

// Validate reports ErrInvalidMsgSet if m violates spec section 3's
// invariants: MinSize <= MaxSize always; in adaptive mode (Stride == 0)
// the sweep must be boundable, so MinStride and MaxNum must be positive
// and MaxDiff must lie in (0, 1].
func (m MsgSet) Validate() error {
	if m.MinSize < 0 || m.MaxSize < m.MinSize {
		return fmt.Errorf("%w: min_size=%d max_size=%d", ErrInvalidMsgSet, m.MinSize, m.MaxSize)
	}
	if m.Stride < 0 {
		return fmt.Errorf("%w: stride=%d", ErrInvalidMsgSet, m.Stride)
	}
	if m.Stride == 0 {
		if m.MinStride <= 0 {
			return fmt.Errorf("%w: min_stride=%d must be positive in adaptive mode", ErrInvalidMsgSet, m.MinStride)
		}
		if m.MaxNum <= 0 {
			return fmt.Errorf("%w: max_num=%d must be positive in adaptive mode", ErrInvalidMsgSet, m.MaxNum)
		}
		if m.MaxDiff <= 0 || m.MaxDiff > 1 {
			return fmt.Errorf("%w: max_diff=%v out of (0,1]", ErrInvalidMsgSet, m.MaxDiff)
		}
	}
	return nil
}

// MeasureOne produces one Result at the given message size.
type MeasureOne func(ctx context.Context, size int) (result.Result, error)

// Run drives measureOne across m's message-size grid, returning the
// produced results in ascending size order.
func Run(ctx context.Context, m MsgSet, measureOne MeasureOne) ([]result.Result, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Stride > 0 {
		return runFixed(ctx, m, measureOne)
	}
	return runAdaptive(ctx, m, measureOne)
}

func runFixed(ctx context.Context, m MsgSet, measureOne MeasureOne) ([]result.Result, error) {
	var out []result.Result
	for size := m.MinSize; size <= m.MaxSize; size += m.Stride {
		r, err := measureOne(ctx, size)
		if err != nil {
			return nil, fmt.Errorf("sweep: fixed stride at size %d: %w", size, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// point pairs a message size with the Result measured there, kept in a
// size-ordered slice so predecessors at pos-1, pos-2 are a plain slice
// index, per spec section 4.7.
type point struct {
	size int
	r    result.Result
}

func runAdaptive(ctx context.Context, m MsgSet, measureOne MeasureOne) ([]result.Result, error) {
	var points []point
	stride := m.MinStride
	size := m.MinSize

	for size <= m.MaxSize && len(points) < m.MaxNum {
		r, err := measureOne(ctx, size)
		if err != nil {
			return nil, fmt.Errorf("sweep: adaptive at size %d: %w", size, err)
		}

		pos := sort.Search(len(points), func(i int) bool { return points[i].size >= size })
		points = insertAt(points, pos, point{size: size, r: r})

		nextSize, nextStride := nextStep(points, pos, size, stride, m)
		size, stride = nextSize, nextStride
	}

	out := make([]result.Result, len(points))
	for i, p := range points {
		out[i] = p.r
	}
	return out, nil
}

// insertAt inserts v at index pos in points, shifting later elements
// (spec section 4.7: "the sweep also tolerates out-of-order insertion:
// new results are placed at pos with shifting of later elements").
func insertAt(points []point, pos int, v point) []point {
	points = append(points, point{})
	copy(points[pos+1:], points[pos:])
	points[pos] = v
	return points
}

// nextStep decides the next message size and working stride after
// inserting a result at pos (spec section 4.7): if the two predecessors
// at pos-1, pos-2 exist, compute the linear-model deviation and double
// the stride on a good fit (advancing forward), or halve it and step
// backward (a finer point between the two most recent measurements) when
// halving would not fall below the stride floor; otherwise simply
// advance by the current stride.
func nextStep(points []point, pos, size, stride int, m MsgSet) (int, int) {
	if pos < 2 {
		return size + stride, stride
	}

	p1 := points[pos-2]
	p2 := points[pos-1]
	denom := p2.r.T*float64(size-p1.size) - p1.r.T*float64(size-p2.size)
	if denom == 0 {
		return size + stride, stride
	}

	delta := math.Abs(1 - points[pos].r.T*float64(p2.size-p1.size)/denom)
	if delta < m.MaxDiff {
		doubled := stride * 2
		return size + doubled, doubled
	}

	if halved := stride / 2; halved >= m.MinStride {
		return (p2.size + size) / 2, halved
	}
	return size + stride, stride
}
