// Package grouputil implements the group-topology helper of spec section
// 4.8: building a sub-group with exactly one representative rank per
// distinct physical host.
package grouputil

import (
	"context"
	"fmt"
	"sort"

	"github.com/mpib/mpib/transport"
)

// excluded is the Split color passed by ranks that are not the first
// observed representative of their host, per transport.Transport.Split's
// "a rank passing a negative color is excluded" contract.
const excluded = -1

// OnePerHost builds a sub-group containing exactly one rank per distinct
// host name: all ranks all-gather their host name, then independently
// compute the same assignment (sorted host names, first rank observed for
// each distinct name is the representative) and call Split with a
// deterministic color/key so every rank arrives at the same partition
// without further communication.
func OnePerHost(ctx context.Context, group transport.Transport) (transport.Transport, error) {
	name, err := group.HostName()
	if err != nil {
		return nil, fmt.Errorf("grouputil: one per host: host name: %w", err)
	}

	gathered, err := group.AllGatherVarying(ctx, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("grouputil: one per host: all-gather host names: %w", err)
	}
	names := make([]string, len(gathered))
	for i, b := range gathered {
		names[i] = string(b)
	}

	// Sort a rank index permutation by (host name, rank) so every rank
	// computes the identical ordering without needing a stable sort
	// tie-break beyond the rank itself.
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if names[order[a]] != names[order[b]] {
			return names[order[a]] < names[order[b]]
		}
		return order[a] < order[b]
	})

	representative := make(map[string]int, len(names))
	for _, rank := range order {
		if _, ok := representative[names[rank]]; !ok {
			representative[names[rank]] = rank
		}
	}

	rank := group.Rank()
	color := excluded
	if representative[name] == rank {
		color = 0
	}

	sub, err := group.Split(ctx, color, rank)
	if err != nil {
		return nil, fmt.Errorf("grouputil: one per host: split: %w", err)
	}
	return sub, nil
}
