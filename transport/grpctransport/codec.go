package grpctransport

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec lets the Exchange RPC carry a plain Go struct instead of a
// protobuf message: gRPC's framing, flow control and HTTP/2 transport are
// exercised end to end, the same codec-agnostic trade-off grpc-proxy makes
// to avoid generated stubs for every proxied method (DESIGN.md). Content
// negotiation picks it up via the "gob" call/response content-subtype.
type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return "gob" }

func encodeGob[T any](v T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob[T any](data []byte) (T, error) {
	var v T
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
