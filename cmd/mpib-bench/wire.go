package main

import (
	"context"
	"encoding/binary"

	"github.com/mpib/mpib/transport"
)

// sweepControl is the CLI's own out-of-band message, used to keep
// co-participant ranks walking the same sweep-size sequence as the
// coordinating rank without duplicating any of package sweep's adaptive
// decision logic: the coordinator alone drives sweep.Run, and announces
// each chosen size (or the end of the sweep) to everyone else via this
// message before calling the timing method for that size. It never
// carries a statistic, only orchestration.
type sweepControl struct {
	Stop bool
	Size int32
}

const controlWireSize = 5

func encodeControl(c sweepControl) []byte {
	buf := make([]byte, controlWireSize)
	if c.Stop {
		buf[0] = 1
	}
	binary.BigEndian.PutUint32(buf[1:], uint32(c.Size))
	return buf
}

func decodeControl(b []byte) (sweepControl, error) {
	if len(b) != controlWireSize {
		return sweepControl{}, fail("control message: want %d bytes, got %d", controlWireSize, len(b))
	}
	return sweepControl{Stop: b[0] != 0, Size: int32(binary.BigEndian.Uint32(b[1:]))}, nil
}

// broadcastControl is called by every rank: the coordinator (group.Rank()
// == root) encodes out and broadcasts it; everyone else ignores out and
// decodes whatever the coordinator sent.
func broadcastControl(ctx context.Context, group transport.Transport, root int, out sweepControl) (sweepControl, error) {
	var payload []byte
	if group.Rank() == root {
		payload = encodeControl(out)
	}
	got, err := group.Broadcast(ctx, root, payload)
	if err != nil {
		return sweepControl{}, err
	}
	return decodeControl(got)
}

func sendControl(ctx context.Context, group transport.Transport, dest int, c sweepControl) error {
	return group.Send(ctx, dest, transport.TagControl, encodeControl(c))
}

func recvControl(ctx context.Context, group transport.Transport, source int) (sweepControl, error) {
	b, err := group.Recv(ctx, source, transport.TagControl)
	if err != nil {
		return sweepControl{}, err
	}
	return decodeControl(b)
}
