// Package pairsched implements the pair scheduler of spec section 4.3: it
// partitions the complete set of unordered rank pairs {(i,j) : i<j<N} into
// rounds such that no rank appears twice within a round, using a greedy
// round-robin sweep. Used by the all-pairs p2p timing method and by
// clock-offset calibration.
package pairsched

// Pair is an unordered pair of distinct ranks, always stored with I < J.
type Pair struct {
	I, J int
}

// Round is a set of pairs with pairwise-distinct endpoints.
type Round []Pair

// Schedule is an ordered list of Rounds whose union is the complete pair set
// {(i,j) : 0 <= i < j < N}, with each pair appearing exactly once.
type Schedule []Round

// Build returns the pair schedule for a group of size n. For n < 2 it
// returns an empty schedule.
//
// Algorithm (spec section 4.3): maintain the full list of remaining pairs in
// deterministic (i, then j) order. For each round, walk the remaining list
// once, accepting a pair iff neither endpoint has already been claimed in
// this round; accepted pairs are removed from the list. Repeat until the
// list is empty. Within a round, pairs are kept in the insertion order they
// were accepted — deterministic and identical at every rank, since ranks
// must independently agree on round membership without further
// communication.
func Build(n int) Schedule {
	if n < 2 {
		return Schedule{}
	}

	remaining := make([]Pair, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			remaining = append(remaining, Pair{I: i, J: j})
		}
	}

	var schedule Schedule
	for len(remaining) > 0 {
		claimed := make(map[int]bool, n)
		var round Round
		var next []Pair
		for _, p := range remaining {
			if !claimed[p.I] && !claimed[p.J] {
				round = append(round, p)
				claimed[p.I] = true
				claimed[p.J] = true
			} else {
				next = append(next, p)
			}
		}
		schedule = append(schedule, round)
		remaining = next
	}
	return schedule
}

// Contains reports whether rank r participates in round.
func (r Round) Contains(rank int) bool {
	for _, p := range r {
		if p.I == rank || p.J == rank {
			return true
		}
	}
	return false
}

// Peer returns the other endpoint of the pair rank participates in within
// round, and whether rank participates at all.
func (r Round) Peer(rank int) (peer int, ok bool) {
	for _, p := range r {
		if p.I == rank {
			return p.J, true
		}
		if p.J == rank {
			return p.I, true
		}
	}
	return 0, false
}
