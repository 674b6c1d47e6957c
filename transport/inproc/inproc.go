// Package inproc implements transport.Transport with goroutines and
// channels: one goroutine per simulated rank, direct handoff for
// point-to-point messages, and a generation-based rendezvous barrier for
// every collective primitive. It is the reference transport this
// repository's own test suite runs against (grounded on inprocgrpc's
// in-process channel dispatch and longpoll's channel-based rendezvous —
// see DESIGN.md).
//
// There is no network, no serialization round trip, and no simulated
// latency: this transport exists to exercise the engine's correctness, not
// to benchmark anything for real. transport/grpctransport is the
// real-network counterpart.
package inproc

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/mpib/mpib/clock"
	"github.com/mpib/mpib/stats"
	"github.com/mpib/mpib/transport"
)

// Options configures a New group.
type Options struct {
	// HostNames assigns a host name per rank. If shorter than the group
	// size (including nil), missing entries default to the process's own
	// os.Hostname(), i.e. "every rank is on the same host" unless told
	// otherwise — useful for exercising grouputil.OnePerHost with a
	// synthetic multi-host layout in tests.
	HostNames []string
}

type mailKey struct {
	from, to int
	tag      transport.Tag
}

// group is the shared state backing every rankTransport handed out by one
// New/Split/Dup call; it owns the mailboxes and the collective rendezvous
// point all member ranks synchronize through.
type group struct {
	n         int
	hostNames []string

	mailMu sync.Mutex
	mail   map[mailKey]chan []byte

	sync *syncPoint
}

func newGroup(n int, hostNames []string) *group {
	return &group{
		n:         n,
		hostNames: hostNames,
		mail:      make(map[mailKey]chan []byte),
		sync:      newSyncPoint(n),
	}
}

func (g *group) mailbox(from, to int, tag transport.Tag) chan []byte {
	key := mailKey{from: from, to: to, tag: tag}
	g.mailMu.Lock()
	defer g.mailMu.Unlock()
	ch, ok := g.mail[key]
	if !ok {
		ch = make(chan []byte)
		g.mail[key] = ch
	}
	return ch
}

// New returns one transport.Transport per rank of a fresh n-rank group.
func New(n int, opts Options) []transport.Transport {
	hostNames := make([]string, n)
	selfHost, err := os.Hostname()
	if err != nil {
		selfHost = "localhost"
	}
	for i := range hostNames {
		if i < len(opts.HostNames) && opts.HostNames[i] != "" {
			hostNames[i] = opts.HostNames[i]
		} else {
			hostNames[i] = selfHost
		}
	}

	g := newGroup(n, hostNames)
	out := make([]transport.Transport, n)
	for i := 0; i < n; i++ {
		out[i] = &rankTransport{g: g, rank: i}
	}
	return out
}

// rankTransport is one rank's view of a group: everything is delegated to
// the shared *group plus this rank's own index within it.
type rankTransport struct {
	g    *group
	rank int
}

func (t *rankTransport) Rank() int { return t.rank }
func (t *rankTransport) Size() int { return t.g.n }

func (t *rankTransport) Send(ctx context.Context, dest int, tag transport.Tag, data []byte) error {
	ch := t.g.mailbox(t.rank, dest, tag)
	buf := append([]byte(nil), data...)
	select {
	case ch <- buf:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *rankTransport) Recv(ctx context.Context, source int, tag transport.Tag) ([]byte, error) {
	ch := t.g.mailbox(source, t.rank, tag)
	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type inprocResult struct {
	data []byte
	err  error
}

type request struct {
	done chan inprocResult
}

func (r *request) Wait(ctx context.Context) ([]byte, error) {
	select {
	case res := <-r.done:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *rankTransport) ISend(ctx context.Context, dest int, tag transport.Tag, data []byte) (transport.Request, error) {
	req := &request{done: make(chan inprocResult, 1)}
	go func() {
		err := t.Send(ctx, dest, tag, data)
		req.done <- inprocResult{err: err}
	}()
	return req, nil
}

func (t *rankTransport) IRecv(ctx context.Context, source int, tag transport.Tag) (transport.Request, error) {
	req := &request{done: make(chan inprocResult, 1)}
	go func() {
		data, err := t.Recv(ctx, source, tag)
		req.done <- inprocResult{data: data, err: err}
	}()
	return req, nil
}

func (t *rankTransport) Barrier(ctx context.Context) error {
	_, err := t.g.sync.join(ctx, t.rank, nil)
	return err
}

func (t *rankTransport) Broadcast(ctx context.Context, root int, data []byte) ([]byte, error) {
	var contribution []byte
	if t.rank == root {
		contribution = append([]byte(nil), data...)
	}
	all, err := t.g.sync.join(ctx, t.rank, contribution)
	if err != nil {
		return nil, err
	}
	v, _ := all[root].([]byte)
	return v, nil
}

func (t *rankTransport) ReduceMax(ctx context.Context, root int, value float64) (float64, error) {
	all, err := t.g.sync.join(ctx, t.rank, value)
	if err != nil {
		return 0, err
	}
	if t.rank != root {
		return 0, nil
	}
	return maxOf(all), nil
}

func (t *rankTransport) AllReduceMax(ctx context.Context, value float64) (float64, error) {
	all, err := t.g.sync.join(ctx, t.rank, value)
	if err != nil {
		return 0, err
	}
	return maxOf(all), nil
}

func maxOf(all []any) float64 {
	max := all[0].(float64)
	for _, v := range all[1:] {
		if f := v.(float64); f > max {
			max = f
		}
	}
	return max
}

func (t *rankTransport) AllGather(ctx context.Context, data []byte) ([][]byte, error) {
	all, err := t.g.sync.join(ctx, t.rank, append([]byte(nil), data...))
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(all))
	for i, v := range all {
		b, _ := v.([]byte)
		out[i] = b
	}
	return out, nil
}

// AllGatherVarying has the same implementation as AllGather: the generic
// join mechanism already carries per-rank payloads of differing length, so
// there is no separate "counts" phase to run.
func (t *rankTransport) AllGatherVarying(ctx context.Context, data []byte) ([][]byte, error) {
	return t.AllGather(ctx, data)
}

type splitTuple struct {
	color, key, rank int
}

type splitResult struct {
	groups map[int]*group
	order  map[int][]int // color -> original ranks in new-rank order
}

func (t *rankTransport) Split(ctx context.Context, color, key int) (transport.Transport, error) {
	all, err := t.g.sync.join(ctx, t.rank, splitTuple{color: color, key: key, rank: t.rank})
	if err != nil {
		return nil, err
	}

	// Every rank deterministically recomputes the same partition from the
	// identical gathered tuple list; whichever goroutine's join() happened
	// to be the one to finish last is irrelevant, since the computation is
	// pure and depends only on `all`.
	byColor := map[int][]splitTuple{}
	for _, v := range all {
		tup := v.(splitTuple)
		if tup.color < 0 {
			continue
		}
		byColor[tup.color] = append(byColor[tup.color], tup)
	}
	for _, list := range byColor {
		sort.Slice(list, func(i, j int) bool {
			if list[i].key != list[j].key {
				return list[i].key < list[j].key
			}
			return list[i].rank < list[j].rank
		})
	}

	if color < 0 {
		return nil, nil
	}

	list := byColor[color]
	hostNames := make([]string, len(list))
	for i, tup := range list {
		hostNames[i] = t.g.hostNames[tup.rank]
	}
	newGrp := newGroup(len(list), hostNames)

	newRank := -1
	for i, tup := range list {
		if tup.rank == t.rank {
			newRank = i
			break
		}
	}
	if newRank < 0 {
		return nil, fmt.Errorf("inproc: split: rank %d not found in its own color group", t.rank)
	}
	return &rankTransport{g: newGrp, rank: newRank}, nil
}

// Dup returns an independent duplicate with identical rank numbering. Only
// the lowest-ranked member allocates the new group (same trick as
// Broadcast: contribute a value only at a designated rank, everyone reads
// that one slot of the gathered result), so every rank resolves to the
// same *group instance without a separate registry.
func (t *rankTransport) Dup(ctx context.Context) (transport.Transport, error) {
	const leader = 0
	var contribution *group
	if t.rank == leader {
		contribution = newGroup(t.g.n, append([]string(nil), t.g.hostNames...))
	}
	all, err := t.g.sync.join(ctx, t.rank, contribution)
	if err != nil {
		return nil, err
	}
	newGrp, _ := all[leader].(*group)
	return &rankTransport{g: newGrp, rank: t.rank}, nil
}

func (t *rankTransport) Free() error { return nil }

func (t *rankTransport) Now() float64  { return clock.Now() }
func (t *rankTransport) Tick() float64 { return clock.Tick() }

func (t *rankTransport) InverseStudentT(cl float64, df int) float64 {
	return stats.InverseStudentT(cl, df)
}

func (t *rankTransport) HostName() (string, error) {
	return t.g.hostNames[t.rank], nil
}
