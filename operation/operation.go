// Package operation defines the two polymorphic container shapes the
// engine times (spec sections 3 and 6): P2P and Collective. Per spec
// section 9's first design note, these are expressed as Go interfaces with
// initialize/execute/finalize methods rather than the source's C
// function-pointer structs; each implementation owns whatever buffers it
// allocates, and the engine never inspects their contents.
package operation

import (
	"context"

	"github.com/mpib/mpib/transport"
)

// P2P is the point-to-point operation container contract (spec section 6).
// Both ExecuteMeasure and ExecuteMirror must return control only once their
// side of the exchange has completed.
type P2P interface {
	// Label identifies the operation for reporting.
	Label() string
	// Initialize allocates any buffers needed at message size size.
	Initialize(ctx context.Context, group transport.Transport, size int) error
	// ExecuteMeasure performs the timed half of the exchange, from the
	// measuring rank's perspective, against peer.
	ExecuteMeasure(ctx context.Context, group transport.Transport, size, peer int) error
	// ExecuteMirror performs the responding half of the exchange.
	ExecuteMirror(ctx context.Context, group transport.Transport, size, peer int) error
	// Finalize releases any buffers allocated by Initialize.
	Finalize(ctx context.Context, group transport.Transport) error
}

// EagerProbe is an optional extended hook (spec section 3, "optional
// extended hooks for eager/rendezvous overhead isolation") a P2P container
// may additionally implement.
type EagerProbe interface {
	// ExecuteEagerProbe performs one eager-protocol send/recv, isolating
	// the eager-path overhead from the steady-state measurement.
	ExecuteEagerProbe(ctx context.Context, group transport.Transport, size, peer int) error
	// ExecuteRendezvousProbe performs one rendezvous-protocol send/recv.
	ExecuteRendezvousProbe(ctx context.Context, group transport.Transport, size, peer int) error
}

// RingProbe is an optional extended hook (spec section 3, "ring-style
// transfer measurement") a P2P container may additionally implement.
type RingProbe interface {
	// ExecuteRing forwards size bytes to next, completing one hop of a
	// ring-style transfer.
	ExecuteRing(ctx context.Context, group transport.Transport, size, next int) error
}

// Collective is the collective operation container contract (spec section
// 6). A non-zero status from any method aborts measurement and propagates
// out.
type Collective interface {
	// Label identifies the operation for reporting.
	Label() string
	// Initialize allocates engine-owned buffers for one invocation at root
	// and message size size.
	Initialize(ctx context.Context, group transport.Transport, root, size int) error
	// Execute performs exactly one invocation of the collective.
	Execute(ctx context.Context, group transport.Transport, root, size int) error
	// Finalize releases buffers allocated by Initialize.
	Finalize(ctx context.Context, group transport.Transport, root int) error
}
