// Package transport defines the contract the measurement engine consumes
// from whatever message-passing layer it runs over (spec section 6). The
// core packages (calibration, timing, sweep, pairsched, grouputil,
// operation) depend only on this interface, never on a concrete transport.
//
// Two concrete implementations live under transport/inproc (goroutine/
// channel backed, used by this repository's own test suite) and
// transport/grpctransport (a real network implementation over gRPC);
// both are domain-stack plugins, not part of the core.
package transport

import "context"

// Tag distinguishes logically independent message streams between the same
// pair of ranks (e.g. calibration ping/reply vs. the timed payload) so they
// never get confused on transports that multiplex many exchanges over one
// channel.
type Tag int

const (
	// TagHandshake is used for the p2p measure/mirror synchronization token.
	TagHandshake Tag = iota
	// TagPayload is used for the timed operation payload itself.
	TagPayload
	// TagControl carries stop-flag broadcasts and other controller-internal
	// signaling that rides alongside, but is not itself, the timed payload.
	TagControl
	// TagCalibration is used by the clock-offset and RTT calibration
	// sub-protocols.
	TagCalibration
)

// Transport is the full capability set the core needs from the underlying
// message-passing layer (spec section 6).
type Transport interface {
	// Rank returns this process's rank within the group (0 <= Rank() < Size()).
	Rank() int
	// Size returns the number of ranks in the group.
	Size() int

	// Send blocks until the message has been handed off to dest.
	Send(ctx context.Context, dest int, tag Tag, data []byte) error
	// Recv blocks until a message from source with tag has arrived.
	Recv(ctx context.Context, source int, tag Tag) ([]byte, error)
	// ISend is the non-blocking counterpart to Send; the returned Request
	// must be waited on before data is reused or inspected.
	ISend(ctx context.Context, dest int, tag Tag, data []byte) (Request, error)
	// IRecv is the non-blocking counterpart to Recv.
	IRecv(ctx context.Context, source int, tag Tag) (Request, error)

	// Barrier blocks every rank until all ranks have called it.
	Barrier(ctx context.Context) error
	// Broadcast sends data (meaningful at root, ignored elsewhere on entry)
	// from root to every rank, returning the received payload everywhere.
	Broadcast(ctx context.Context, root int, data []byte) ([]byte, error)
	// ReduceMax reduces value with the max operator to root; the return
	// value is meaningful only at root.
	ReduceMax(ctx context.Context, root int, value float64) (float64, error)
	// AllReduceMax reduces value with the max operator to every rank.
	AllReduceMax(ctx context.Context, value float64) (float64, error)
	// AllGather gathers one value per rank (each rank contributes data) to
	// every rank, concatenated in rank order.
	AllGather(ctx context.Context, data []byte) ([][]byte, error)
	// AllGatherVarying is AllGather for payloads whose per-rank length
	// varies and is not known in advance at the other ranks.
	AllGatherVarying(ctx context.Context, data []byte) ([][]byte, error)

	// Split partitions the group by color: ranks sharing a color end up in
	// the same new group, ordered by key within that color. A rank passing
	// a negative color is excluded (receives nil).
	Split(ctx context.Context, color, key int) (Transport, error)
	// Dup returns an independent duplicate of this group, usable
	// concurrently with the original without tag collisions.
	Dup(ctx context.Context) (Transport, error)
	// Free releases any resources associated with a Split/Dup'd group.
	// Calling Free on the original top-level group is a no-op.
	Free() error

	// Now returns the current wall-clock time in seconds (package clock.Now
	// semantics), exposed here so transports that front a real network can
	// substitute a remote clock reader if ever needed; the default
	// implementations simply delegate to package clock.
	Now() float64
	// Tick returns this rank's claimed clock resolution in seconds.
	Tick() float64

	// InverseStudentT returns the two-sided critical value for the given
	// confidence level and degrees of freedom (package stats.CI's seam,
	// exposed on Transport so a transport-supplied implementation can be
	// swapped for testing, per spec section 6's "inverse Student-t
	// distribution" requirement).
	InverseStudentT(cl float64, df int) float64

	// HostName returns this rank's physical host name, used by
	// grouputil.OnePerHost.
	HostName() (string, error)
}

// Request is a handle to an in-flight non-blocking Send/Recv.
type Request interface {
	// Wait blocks until the operation completes, returning the payload for
	// a receive request (nil for a send request) and any error.
	Wait(ctx context.Context) ([]byte, error)
}
