package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mpib/mpib/operation"
	"github.com/mpib/mpib/output"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/sweep"
	"github.com/mpib/mpib/transport"
	"github.com/mpib/mpib/transport/grpctransport"
	"github.com/mpib/mpib/transport/inproc"
)

func run(ctx context.Context, o opts) error {
	precision := repetition.Precision{MinReps: o.minReps, MaxReps: o.maxReps, CL: o.cl, Eps: o.eps}
	if err := precision.Validate(); err != nil {
		return fail("invalid precision: %w", err)
	}
	msgSet := sweep.MsgSet{MinSize: o.minSize, MaxSize: o.maxSize, Stride: o.stride, MaxDiff: o.maxDiff, MinStride: o.minStride, MaxNum: o.maxNum}
	if err := msgSet.Validate(); err != nil {
		return fail("invalid message set: %w", err)
	}

	switch o.method {
	case "p2p", "allp2p", "max", "root", "global", "bcast":
	default:
		return fail("unknown -t %q", o.method)
	}

	log := newLogger(o.logLevel)

	switch o.transport {
	case "inproc":
		return runInproc(ctx, o, precision, msgSet, log, os.Stdout)
	case "grpc":
		return runGRPC(ctx, o, precision, msgSet, log, os.Stdout)
	default:
		return fail("unknown -transport %q", o.transport)
	}
}

func runInproc(ctx context.Context, o opts, precision repetition.Precision, msgSet sweep.MsgSet, log zerolog.Logger, w io.Writer) error {
	if o.ranks < 2 {
		return fail("-ranks must be >= 2, got %d", o.ranks)
	}
	if o.root < 0 || o.root >= o.ranks {
		return fail("-root %d out of range [0,%d)", o.root, o.ranks)
	}
	if o.method == "p2p" && (o.peer < 0 || o.peer >= o.ranks || o.peer == o.root) {
		return fail("-peer %d must be a distinct rank in [0,%d)", o.peer, o.ranks)
	}

	group := inproc.New(o.ranks, inproc.Options{})
	coordinator := coordinatorRank(o)

	var results []result.Result
	var pairs []sizedPairResult

	var eg errgroup.Group
	for i := 0; i < o.ranks; i++ {
		i, tr := i, group[i]
		eg.Go(func() error {
			res, pr, err := runRank(ctx, tr, o, precision, msgSet, log)
			if err != nil {
				return fmt.Errorf("rank %d: %w", i, err)
			}
			if i == coordinator {
				results, pairs = res, pr
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return writeOutput(w, o, precision, o.ranks, results, pairs)
}

func runGRPC(ctx context.Context, o opts, precision repetition.Precision, msgSet sweep.MsgSet, log zerolog.Logger, w io.Writer) error {
	if len(o.peers) == 0 {
		return fail("-transport grpc requires -peers")
	}
	if o.rank < 0 || o.rank >= len(o.peers) {
		return fail("-rank %d out of range [0,%d)", o.rank, len(o.peers))
	}

	tr, err := grpctransport.New(ctx, o.rank, o.peers)
	if err != nil {
		return fail("dial gRPC mesh: %w", err)
	}
	defer func() { _ = tr.Close() }()

	var group transport.Transport = tr
	results, pairs, err := runRank(ctx, group, o, precision, msgSet, log)
	if err != nil {
		return err
	}
	if o.rank != coordinatorRank(o) {
		return nil
	}
	return writeOutput(w, o, precision, len(o.peers), results, pairs)
}

func writeOutput(w io.Writer, o opts, precision repetition.Precision, n int, results []result.Result, pairs []sizedPairResult) error {
	tbl := output.NewTable(w)

	switch o.method {
	case "allp2p":
		tbl.WriteP2PHeader(o.parallel, precision, n)
		for _, row := range pairs {
			tbl.WriteP2PRow(row.size, row.results)
		}
	case "p2p":
		tbl.WriteCollectiveHeader(operation.NewRoundtripPing().Label(), o.method, n, o.root, precision)
		tbl.WriteResults(results)
	default:
		label, err := operationLabel(o.op, o.direction)
		if err != nil {
			return err
		}
		tbl.WriteCollectiveHeader(label, o.method, n, o.root, precision)
		tbl.WriteResults(results)
	}

	return tbl.Flush()
}
