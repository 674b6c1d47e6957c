package inproc

import (
	"context"
	"sync"
)

// generation is one round of a syncPoint: every member's contribution is
// collected into result, then ch is closed to release all waiters at once.
// result is written before the close, so the happens-before edge the close
// establishes is sufficient for every waiter to observe it without its own
// lock.
type generation struct {
	ch     chan struct{}
	result []any
}

// syncPoint is a reusable, generation-counted rendezvous barrier: n members
// each call join with their own contribution; the call blocks until all n
// have joined, then returns the same full slice of contributions to every
// member. It implements every collective primitive transport.Transport
// needs (barrier, broadcast, reduce, all-reduce, all-gather, split, dup) by
// varying only what each member contributes and how the returned slice is
// interpreted.
type syncPoint struct {
	n int

	mu    sync.Mutex
	count int
	data  []any
	gen   *generation
}

func newSyncPoint(n int) *syncPoint {
	return &syncPoint{
		n:    n,
		data: make([]any, n),
		gen:  &generation{ch: make(chan struct{})},
	}
}

func (s *syncPoint) join(ctx context.Context, rank int, val any) ([]any, error) {
	s.mu.Lock()
	s.data[rank] = val
	s.count++
	g := s.gen
	if s.count == s.n {
		g.result = append([]any(nil), s.data...)
		s.count = 0
		s.data = make([]any, s.n)
		s.gen = &generation{ch: make(chan struct{})}
		s.mu.Unlock()
		close(g.ch)
		return g.result, nil
	}
	s.mu.Unlock()

	select {
	case <-g.ch:
		return g.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
