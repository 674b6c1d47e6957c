package grpctransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// dialRetryInterval is how long mesh.dial waits between attempts to open
// the outbound Exchange stream to a peer whose server may not have started
// listening yet.
const dialRetryInterval = 50 * time.Millisecond

// mesh owns the physical gRPC plumbing shared by every Transport value
// minted off one New call (the base communicator and every Split/Dup
// descendant): one server, one outbound stream per peer, and the inbox
// every descendant's Send/Recv multiplexes through by (epoch, from, tag).
type mesh struct {
	selfRank int
	addrs    []string

	listener net.Listener
	server   *grpc.Server

	connMu sync.Mutex
	conns  map[int]*grpc.ClientConn

	streamMu sync.RWMutex
	streams  map[int]*outboundStream

	inboxMu sync.Mutex
	inbox   map[inboxKey]chan []byte

	epochSeq int64
}

type outboundStream struct {
	mu     sync.Mutex
	stream grpc.ClientStream
}

// New dials every peer in addrs ("host:port" per rank, indexed by rank) and
// returns selfRank's Transport view of the full group. It blocks until an
// outbound Exchange stream has been established to every other rank or ctx
// is done (SPEC_FULL section 3.3).
func New(ctx context.Context, selfRank int, addrs []string) (*Transport, error) {
	if selfRank < 0 || selfRank >= len(addrs) {
		return nil, fmt.Errorf("grpctransport: rank %d out of range for %d addresses", selfRank, len(addrs))
	}

	lis, err := net.Listen("tcp", addrs[selfRank])
	if err != nil {
		return nil, fmt.Errorf("grpctransport: listen on %s: %w", addrs[selfRank], err)
	}

	m := &mesh{
		selfRank: selfRank,
		addrs:    append([]string(nil), addrs...),
		listener: lis,
		server:   grpc.NewServer(),
		conns:    make(map[int]*grpc.ClientConn),
		streams:  make(map[int]*outboundStream),
		inbox:    make(map[inboxKey]chan []byte),
	}
	m.server.RegisterService(&exchangeServiceDesc, m)
	go func() { _ = m.server.Serve(lis) }()

	for peer, addr := range addrs {
		if peer == selfRank {
			continue
		}
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("grpctransport: dial %s: %w", addr, err)
		}
		m.conns[peer] = conn
	}

	for peer := range m.conns {
		if err := m.dialStream(ctx, peer); err != nil {
			_ = m.Close()
			return nil, err
		}
	}

	members := make([]int, len(addrs))
	for i := range members {
		members[i] = i
	}
	return &Transport{mesh: m, members: members}, nil
}

// dialStream opens selfRank's outbound Exchange stream to peer, retrying
// while the peer's listener has not yet come up.
func (m *mesh) dialStream(ctx context.Context, peer int) error {
	var lastErr error
	for {
		stream, err := grpc.NewClientStream(ctx, &exchangeStreamDesc, m.conns[peer], exchangeMethod, grpc.CallContentSubtype(gobCodec{}.Name()))
		if err == nil {
			m.streamMu.Lock()
			m.streams[peer] = &outboundStream{stream: stream}
			m.streamMu.Unlock()
			return nil
		}
		lastErr = err
		select {
		case <-time.After(dialRetryInterval):
		case <-ctx.Done():
			return fmt.Errorf("grpctransport: dial stream to rank %d: %w (last attempt: %v)", peer, ctx.Err(), lastErr)
		}
	}
}

func (m *mesh) send(destGlobal int, env envelope) error {
	m.streamMu.RLock()
	out := m.streams[destGlobal]
	m.streamMu.RUnlock()
	if out == nil {
		return fmt.Errorf("grpctransport: no outbound stream to rank %d", destGlobal)
	}
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.stream.SendMsg(&env)
}

func (m *mesh) inboxChan(key inboxKey) chan []byte {
	m.inboxMu.Lock()
	defer m.inboxMu.Unlock()
	ch, ok := m.inbox[key]
	if !ok {
		ch = make(chan []byte, 8)
		m.inbox[key] = ch
	}
	return ch
}

// nextEpoch mints a communicator generation id unique across every mesh
// process: the high bits identify the minting rank, the low bits a local
// sequence, so two different ranks acting as Split/Dup coordinators for
// unrelated sub-groups can never collide.
func (m *mesh) nextEpoch() int64 {
	seq := atomic.AddInt64(&m.epochSeq, 1)
	return (int64(m.selfRank)+1)<<32 | seq
}

// Close tears down the server and every outbound connection. Safe to call
// once per process, typically on shutdown of cmd/mpib-bench.
func (m *mesh) Close() error {
	m.server.GracefulStop()
	m.connMu.Lock()
	defer m.connMu.Unlock()
	var firstErr error
	for _, c := range m.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
