package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/sweep"
)

func fixedOpts() opts {
	return opts{
		transport: "inproc",
		ranks:     4,
		op:        "noop",
		direction: "gather",
		root:      0,
		peer:      1,
		minReps:   3,
		maxReps:   3,
		cl:        0.95,
		eps:       0.1,
		minSize:   0,
		maxSize:   16,
		stride:    16,
		minStride: 1,
		maxDiff:   0.5,
		maxNum:    4,
		barrierReps: 3,
		offsetReps:  3,
		rttReps:     3,
	}
}

func precisionOf(o opts) repetition.Precision {
	return repetition.Precision{MinReps: o.minReps, MaxReps: o.maxReps, CL: o.cl, Eps: o.eps}
}

func msgSetOf(o opts) sweep.MsgSet {
	return sweep.MsgSet{MinSize: o.minSize, MaxSize: o.maxSize, Stride: o.stride, MaxDiff: o.maxDiff, MinStride: o.minStride, MaxNum: o.maxNum}
}

func TestRunInprocMaxNoop(t *testing.T) {
	o := fixedOpts()
	o.method = "max"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, runInproc(ctx, o, precisionOf(o), msgSetOf(o), zerolog.Nop(), &buf))

	out := buf.String()
	require.Regexp(t, `#operation +noop`, out)
	require.Regexp(t, `#timing +max`, out)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "16"))
}

func TestRunInprocRootFlatGather(t *testing.T) {
	o := fixedOpts()
	o.method = "root"
	o.op = "flat"
	o.direction = "gather"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, runInproc(ctx, o, precisionOf(o), msgSetOf(o), zerolog.Nop(), &buf))
	require.Contains(t, buf.String(), "flat-gather")
}

func TestRunInprocP2P(t *testing.T) {
	o := fixedOpts()
	o.method = "p2p"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, runInproc(ctx, o, precisionOf(o), msgSetOf(o), zerolog.Nop(), &buf))
	require.Contains(t, buf.String(), "roundtrip-ping")
}

func TestRunInprocAllP2P(t *testing.T) {
	o := fixedOpts()
	o.method = "allp2p"
	o.stride = 8
	o.maxSize = 8

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buf bytes.Buffer
	require.NoError(t, runInproc(ctx, o, precisionOf(o), msgSetOf(o), zerolog.Nop(), &buf))
	out := buf.String()
	require.Contains(t, out, "0-1")
	require.Contains(t, out, "2-3")
}

func TestRunInprocRejectsOutOfRangeRoot(t *testing.T) {
	o := fixedOpts()
	o.method = "max"
	o.root = 9

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var buf bytes.Buffer
	err := runInproc(ctx, o, precisionOf(o), msgSetOf(o), zerolog.Nop(), &buf)
	require.Error(t, err)
}
