package main

import (
	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/operation/collectives"
)

// newCollective builds the operation.Collective named by op/direction
// (SPEC_FULL.md section 3.5's "-op flat|binomial|sgv", plus "noop" for
// exercising a timing method without a real algorithm underneath).
func newCollective(op, direction string) (operation.Collective, error) {
	switch op {
	case "noop", "":
		return operation.NoopCollective{}, nil
	case "binomial":
		return collectives.NewBinomialBroadcast(), nil
	case "flat":
		switch direction {
		case "scatter":
			return collectives.NewFlatScatter(), nil
		case "gather", "":
			return collectives.NewFlatGather(), nil
		default:
			return nil, fail("unknown -direction %q for -op flat", direction)
		}
	case "sgv":
		switch direction {
		case "scatter":
			return collectives.NewVaryingScatter(), nil
		case "gather", "":
			return collectives.NewVaryingGather(), nil
		default:
			return nil, fail("unknown -direction %q for -op sgv", direction)
		}
	default:
		return nil, fail("unknown -op %q", op)
	}
}

// operationLabel names whatever newCollective(op, direction) would build,
// for the result table's header; it never runs Initialize/Execute.
func operationLabel(op, direction string) (string, error) {
	c, err := newCollective(op, direction)
	if err != nil {
		return "", err
	}
	return c.Label(), nil
}
