// Package grpctransport implements transport.Transport over a real
// network, using google.golang.org/grpc (SPEC_FULL section 3.3). Every
// rank runs a gRPC server exposing one generic bidirectional-stream method,
// Exchange, and dials a persistent outbound stream to every other rank;
// point-to-point Send/Recv multiplex over those streams by tag, and the
// collective primitives are coordinated rounds built on top of them (at
// rank 0, or at the caller's root for Broadcast and ReduceMax),
// grounded on inprocgrpc's handler wiring and grpc-proxy's codec-agnostic,
// codegen-free method registration (see DESIGN.md).
package grpctransport

import (
	"context"
	"fmt"
	"net"
	"sort"

	"github.com/mpib/mpib/clock"
	"github.com/mpib/mpib/stats"
	"github.com/mpib/mpib/transport"
)

// Transport is one rank's view of a communicator: a shared *mesh (the
// physical connections) plus an epoch (the communicator generation minted
// by New/Split/Dup) and the global ranks that make up this view, in local-
// rank order.
type Transport struct {
	mesh    *mesh
	epoch   int64
	members []int
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) rankIndex() int {
	for i, global := range t.members {
		if global == t.mesh.selfRank {
			return i
		}
	}
	panic("grpctransport: this rank is not a member of its own communicator")
}

func (t *Transport) Rank() int { return t.rankIndex() }
func (t *Transport) Size() int { return len(t.members) }

func (t *Transport) Send(_ context.Context, dest int, tag transport.Tag, data []byte) error {
	env := envelope{Epoch: t.epoch, From: int64(t.mesh.selfRank), Tag: int32(tag), Payload: append([]byte(nil), data...)}
	if err := t.mesh.send(t.members[dest], env); err != nil {
		return fmt.Errorf("grpctransport: send to rank %d: %w", dest, err)
	}
	return nil
}

func (t *Transport) Recv(ctx context.Context, source int, tag transport.Tag) ([]byte, error) {
	ch := t.mesh.inboxChan(inboxKey{epoch: t.epoch, from: int64(t.members[source]), tag: int32(tag)})
	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type grpcResult struct {
	data []byte
	err  error
}

type grpcRequest struct {
	done chan grpcResult
}

func (r *grpcRequest) Wait(ctx context.Context) ([]byte, error) {
	select {
	case res := <-r.done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) ISend(ctx context.Context, dest int, tag transport.Tag, data []byte) (transport.Request, error) {
	req := &grpcRequest{done: make(chan grpcResult, 1)}
	go func() {
		err := t.Send(ctx, dest, tag, data)
		req.done <- grpcResult{err: err}
	}()
	return req, nil
}

func (t *Transport) IRecv(ctx context.Context, source int, tag transport.Tag) (transport.Request, error) {
	req := &grpcRequest{done: make(chan grpcResult, 1)}
	go func() {
		data, err := t.Recv(ctx, source, tag)
		req.done <- grpcResult{data: data, err: err}
	}()
	return req, nil
}

// gatherToRoot sends mine to localRoot's inbox from every other rank and
// collects the full, locally-ordered slice at localRoot; non-root callers
// get back nil. It is the flat-gather half of every coordinator round this
// transport's collectives are built from (mirrors operation/collectives'
// FlatGather, but over the coordinator's own control tag).
func gatherToRoot[T any](ctx context.Context, t *Transport, localRoot int, tag transport.Tag, mine T) ([]T, error) {
	me := t.rankIndex()
	if me != localRoot {
		b, err := encodeGob(mine)
		if err != nil {
			return nil, err
		}
		return nil, t.Send(ctx, localRoot, tag, b)
	}
	out := make([]T, len(t.members))
	out[localRoot] = mine
	for i := range t.members {
		if i == localRoot {
			continue
		}
		b, err := t.Recv(ctx, i, tag)
		if err != nil {
			return nil, err
		}
		v, err := decodeGob[T](b)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// scatterFromRoot sends value from localRoot to every other rank and
// returns value unchanged at localRoot; everyone else gets back the
// decoded payload localRoot sent. The flat-scatter half of a coordinator
// round.
func scatterFromRoot[T any](ctx context.Context, t *Transport, localRoot int, tag transport.Tag, value T) (T, error) {
	me := t.rankIndex()
	if me != localRoot {
		b, err := t.Recv(ctx, localRoot, tag)
		if err != nil {
			var zero T
			return zero, err
		}
		return decodeGob[T](b)
	}
	b, err := encodeGob(value)
	if err != nil {
		return value, err
	}
	for i := range t.members {
		if i == localRoot {
			continue
		}
		if err := t.Send(ctx, i, tag, b); err != nil {
			return value, err
		}
	}
	return value, nil
}

func (t *Transport) Barrier(ctx context.Context) error {
	const localRoot = 0
	if _, err := gatherToRoot[struct{}](ctx, t, localRoot, transport.TagControl, struct{}{}); err != nil {
		return fmt.Errorf("grpctransport: barrier: gather: %w", err)
	}
	if _, err := scatterFromRoot[struct{}](ctx, t, localRoot, transport.TagHandshake, struct{}{}); err != nil {
		return fmt.Errorf("grpctransport: barrier: release: %w", err)
	}
	return nil
}

func (t *Transport) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	got, err := scatterFromRoot[[]byte](ctx, t, root, transport.TagControl, data)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: broadcast: %w", err)
	}
	return got, nil
}

func maxFloat64(values []float64) float64 {
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

func (t *Transport) ReduceMax(ctx context.Context, root int, value float64) (float64, error) {
	all, err := gatherToRoot[float64](ctx, t, root, transport.TagControl, value)
	if err != nil {
		return 0, fmt.Errorf("grpctransport: reduce max: %w", err)
	}
	if t.rankIndex() != root {
		return 0, nil
	}
	return maxFloat64(all), nil
}

func (t *Transport) AllReduceMax(ctx context.Context, value float64) (float64, error) {
	const localRoot = 0
	all, err := gatherToRoot[float64](ctx, t, localRoot, transport.TagControl, value)
	if err != nil {
		return 0, fmt.Errorf("grpctransport: all reduce max: gather: %w", err)
	}
	var result float64
	if t.rankIndex() == localRoot {
		result = maxFloat64(all)
	}
	got, err := scatterFromRoot[float64](ctx, t, localRoot, transport.TagHandshake, result)
	if err != nil {
		return 0, fmt.Errorf("grpctransport: all reduce max: broadcast: %w", err)
	}
	return got, nil
}

func (t *Transport) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	const localRoot = 0
	all, err := gatherToRoot[[]byte](ctx, t, localRoot, transport.TagControl, data)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: all gather: gather: %w", err)
	}
	got, err := scatterFromRoot[[][]byte](ctx, t, localRoot, transport.TagHandshake, all)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: all gather: broadcast: %w", err)
	}
	return got, nil
}

// AllGatherVarying has the same implementation as AllGather: gob encodes
// each rank's contribution with its own length prefix already, so there is
// no separate counts phase to run (same note as transport/inproc).
func (t *Transport) AllGatherVarying(ctx context.Context, data []byte) ([][]byte, error) {
	return t.AllGather(ctx, data)
}

type splitTuple struct {
	Color, Key, GlobalRank int
}

type splitPlan struct {
	Epoch   int64
	ByColor map[int][]int
}

func (t *Transport) Split(ctx context.Context, color, key int) (transport.Transport, error) {
	const localRoot = 0
	mine := splitTuple{Color: color, Key: key, GlobalRank: t.mesh.selfRank}
	all, err := gatherToRoot[splitTuple](ctx, t, localRoot, transport.TagControl, mine)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: split: gather: %w", err)
	}

	var plan splitPlan
	if t.rankIndex() == localRoot {
		byColor := map[int][]splitTuple{}
		for _, tup := range all {
			if tup.Color < 0 {
				continue
			}
			byColor[tup.Color] = append(byColor[tup.Color], tup)
		}
		for _, list := range byColor {
			sort.Slice(list, func(i, j int) bool {
				if list[i].Key != list[j].Key {
					return list[i].Key < list[j].Key
				}
				return list[i].GlobalRank < list[j].GlobalRank
			})
		}
		plan.Epoch = t.mesh.nextEpoch()
		plan.ByColor = make(map[int][]int, len(byColor))
		for c, list := range byColor {
			ranks := make([]int, len(list))
			for i, tup := range list {
				ranks[i] = tup.GlobalRank
			}
			plan.ByColor[c] = ranks
		}
	}

	plan, err = scatterFromRoot[splitPlan](ctx, t, localRoot, transport.TagHandshake, plan)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: split: broadcast: %w", err)
	}

	if color < 0 {
		return nil, nil
	}
	return &Transport{mesh: t.mesh, epoch: plan.Epoch, members: plan.ByColor[color]}, nil
}

func (t *Transport) Dup(ctx context.Context) (transport.Transport, error) {
	const localRoot = 0
	var mine int64
	if t.rankIndex() == localRoot {
		mine = t.mesh.nextEpoch()
	}
	newEpoch, err := scatterFromRoot[int64](ctx, t, localRoot, transport.TagControl, mine)
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dup: %w", err)
	}
	return &Transport{mesh: t.mesh, epoch: newEpoch, members: append([]int(nil), t.members...)}, nil
}

// Free is a no-op: the underlying mesh (server, connections) is shared by
// every communicator minted off the same New call and is torn down once,
// by Close, not per Split/Dup descendant.
func (t *Transport) Free() error { return nil }

// Close tears down this rank's gRPC server and every outbound connection.
// Call once, on the base Transport returned by New, during process
// shutdown.
func (t *Transport) Close() error { return t.mesh.Close() }

func (t *Transport) Now() float64  { return clock.Now() }
func (t *Transport) Tick() float64 { return clock.Tick() }

func (t *Transport) InverseStudentT(cl float64, df int) float64 {
	return stats.InverseStudentT(cl, df)
}

// HostName returns the host part of this rank's own listen address, since
// grpctransport ranks are genuinely independent processes (possibly on
// independent machines) and grouputil.OnePerHost needs an identifier that
// reflects that, unlike transport/inproc's synthetic HostNames option.
func (t *Transport) HostName() (string, error) {
	host, _, err := net.SplitHostPort(t.mesh.addrs[t.mesh.selfRank])
	if err != nil {
		return "", fmt.Errorf("grpctransport: host name: %w", err)
	}
	return host, nil
}
