package operation

import (
	"context"
	"fmt"

	"github.com/mpib/mpib/transport"
)

// RoundtripPing is a ping-pong P2P container: ExecuteMeasure sends size
// bytes to peer and waits for a same-size reply; ExecuteMirror receives and
// replies in kind. Run at size 0 it is the zero-length ping-pong of
// calibration's empty-round-trip matrix (spec section 4.5.3); it is also
// suitable as a minimal example container.
type RoundtripPing struct {
	buf []byte
}

// NewRoundtripPing returns a ready-to-use RoundtripPing container.
func NewRoundtripPing() *RoundtripPing { return &RoundtripPing{} }

func (p *RoundtripPing) Label() string { return "roundtrip-ping" }

func (p *RoundtripPing) Initialize(_ context.Context, _ transport.Transport, size int) error {
	p.buf = make([]byte, size)
	return nil
}

func (p *RoundtripPing) ExecuteMeasure(ctx context.Context, group transport.Transport, size, peer int) error {
	if err := group.Send(ctx, peer, transport.TagPayload, p.buf[:size]); err != nil {
		return err
	}
	reply, err := group.Recv(ctx, peer, transport.TagPayload)
	if err != nil {
		return err
	}
	if len(reply) != size {
		return errSizeMismatch(size, len(reply))
	}
	return nil
}

func (p *RoundtripPing) ExecuteMirror(ctx context.Context, group transport.Transport, size, peer int) error {
	data, err := group.Recv(ctx, peer, transport.TagPayload)
	if err != nil {
		return err
	}
	if len(data) != size {
		return errSizeMismatch(size, len(data))
	}
	return group.Send(ctx, peer, transport.TagPayload, data)
}

func (p *RoundtripPing) Finalize(_ context.Context, _ transport.Transport) error {
	p.buf = nil
	return nil
}

// NoopCollective is a deterministic, zero-cost collective used for testing
// timing methods independent of any real collective algorithm (spec
// section 8, Testable Property 9: "a deterministic no-op collective").
// Execute performs a single Barrier so the container still exercises the
// group's synchronization primitive; it never fails.
type NoopCollective struct{}

func (NoopCollective) Label() string { return "noop" }

func (NoopCollective) Initialize(context.Context, transport.Transport, int, int) error { return nil }

func (NoopCollective) Execute(ctx context.Context, group transport.Transport, _, _ int) error {
	return group.Barrier(ctx)
}

func (NoopCollective) Finalize(context.Context, transport.Transport, int) error { return nil }

func errSizeMismatch(want, got int) error {
	return fmt.Errorf("operation: size mismatch: want %d got %d", want, got)
}
