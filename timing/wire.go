package timing

import (
	"context"

	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/transport"
)

func boolBytes(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func bytesBool(b []byte) bool {
	return len(b) > 0 && b[0] != 0
}

func sendBool(ctx context.Context, group transport.Transport, dest int, tag transport.Tag, v bool) error {
	return group.Send(ctx, dest, tag, boolBytes(v))
}

func recvBool(ctx context.Context, group transport.Transport, source int, tag transport.Tag) (bool, error) {
	b, err := group.Recv(ctx, source, tag)
	if err != nil {
		return false, err
	}
	return bytesBool(b), nil
}

// encodeResults/decodeResults serialize a pair->Result map as a flat byte
// array (spec section 4.6.2: "using a flat byte-array representation"),
// one (i byte, j byte, Result.Size bytes) record per entry. Pair indices
// fit comfortably in a byte for any group size this engine targets; a
// larger encoding is unnecessary overhead for a benchmarking tool.
func encodeResults(m map[pairsched.Pair]result.Result) []byte {
	buf := make([]byte, 0, len(m)*(2+result.Size))
	for p, r := range m {
		buf = append(buf, byte(p.I), byte(p.J))
		buf = result.Encode(buf, r)
	}
	return buf
}

func decodeResults(buf []byte) map[pairsched.Pair]result.Result {
	out := make(map[pairsched.Pair]result.Result)
	for len(buf) >= 2 {
		i, j := int(buf[0]), int(buf[1])
		buf = buf[2:]
		r, rest, err := result.Decode(buf)
		if err != nil {
			return out
		}
		out[pairsched.Pair{I: i, J: j}] = r
		buf = rest
	}
	return out
}
