package pairsched_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/pairsched"
)

func TestBuildN4MatchesScenarioB(t *testing.T) {
	// Scenario B from spec.md section 8.
	sched := pairsched.Build(4)
	require.Equal(t, pairsched.Schedule{
		{{I: 0, J: 1}, {I: 2, J: 3}},
		{{I: 0, J: 2}, {I: 1, J: 3}},
		{{I: 0, J: 3}, {I: 1, J: 2}},
	}, sched)
}

func TestBuildIsAPartition(t *testing.T) {
	for n := 2; n <= 9; n++ {
		sched := pairsched.Build(n)
		seen := map[pairsched.Pair]bool{}
		for _, round := range sched {
			claimed := map[int]bool{}
			for _, p := range round {
				require.Less(t, p.I, p.J)
				require.False(t, claimed[p.I], "rank %d twice in round (n=%d)", p.I, n)
				require.False(t, claimed[p.J], "rank %d twice in round (n=%d)", p.J, n)
				claimed[p.I] = true
				claimed[p.J] = true
				require.False(t, seen[p], "pair %+v repeated (n=%d)", p, n)
				seen[p] = true
			}
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				require.True(t, seen[pairsched.Pair{I: i, J: j}], "pair (%d,%d) missing (n=%d)", i, j, n)
			}
		}
	}
}

func TestBuildDegenerate(t *testing.T) {
	require.Empty(t, pairsched.Build(0))
	require.Empty(t, pairsched.Build(1))
}

func TestRoundContainsAndPeer(t *testing.T) {
	round := pairsched.Round{{I: 0, J: 1}, {I: 2, J: 3}}
	require.True(t, round.Contains(2))
	require.False(t, round.Contains(4))
	peer, ok := round.Peer(3)
	require.True(t, ok)
	require.Equal(t, 2, peer)
	_, ok = round.Peer(4)
	require.False(t, ok)
}
