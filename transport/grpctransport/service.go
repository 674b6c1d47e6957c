package grpctransport

import (
	"errors"
	"io"

	"google.golang.org/grpc"
)

// envelope is the wire message of the single Exchange RPC: every
// point-to-point Send/Recv and every coordinator-round message of the
// collective primitives rides inside one of these, distinguished by epoch
// (the communicator generation minted by Split/Dup) and tag.
type envelope struct {
	Epoch   int64
	From    int64
	Tag     int32
	Payload []byte
}

type inboxKey struct {
	epoch int64
	from  int64
	tag   int32
}

const exchangeMethod = "/mpib.grpctransport.Exchanger/Exchange"

var exchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	Handler:       exchangeHandler,
	ServerStreams: true,
	ClientStreams: true,
}

// exchangeServiceDesc registers Exchange by hand, without a .proto file or
// generated stubs: SPEC_FULL section 3.3's "one generic bidirectional-
// stream method", grounded on grpc-proxy's codec-agnostic, codegen-free
// approach to exposing gRPC methods.
var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: "mpib.grpctransport.Exchanger",
	HandlerType: (*any)(nil),
	Streams:     []grpc.StreamDesc{exchangeStreamDesc},
	Metadata:    "grpctransport/exchange.proto",
}

// exchangeHandler drains one peer's persistent outbound stream, dispatching
// every envelope to the matching inbox channel. gRPC starts exactly one of
// these per accepted connection, so one goroutine per remote peer.
func exchangeHandler(srv any, stream grpc.ServerStream) error {
	m := srv.(*mesh)
	for {
		var env envelope
		if err := stream.RecvMsg(&env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		m.inboxChan(inboxKey{epoch: env.Epoch, from: env.From, tag: env.Tag}) <- env.Payload
	}
}
