package output_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpib/mpib/output"
	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
)

func TestWriteCollectiveHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	tbl := output.NewTable(&buf)
	tbl.WriteCollectiveHeader("flat-gather", "max", 4, 0, repetition.Precision{MinReps: 10, MaxReps: 100, CL: 0.95, Eps: 0.1})
	tbl.WriteResultRow(64, result.Result{M: 64, T: 1.5e-6, Wtick: 1e-9, Reps: 42, CI: 3e-8})
	require.NoError(t, tbl.Flush())

	out := buf.String()
	require.Contains(t, out, "#nodes")
	require.Contains(t, out, "flat-gather")
	require.Contains(t, out, "#msg")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.True(t, strings.HasPrefix(lines[len(lines)-1], "64"))
}

func TestWriteP2PHeaderHasOneColumnGroupPerPair(t *testing.T) {
	var buf bytes.Buffer
	tbl := output.NewTable(&buf)
	tbl.WriteP2PHeader(false, repetition.Precision{MinReps: 5, MaxReps: 5}, 3)
	tbl.WriteP2PRow(128, map[pairsched.Pair]result.Result{
		{I: 0, J: 1}: {T: 1, Reps: 5, CI: 0.1},
		{I: 0, J: 2}: {T: 2, Reps: 5, CI: 0.2},
		{I: 1, J: 2}: {T: 3, Reps: 5, CI: 0.3},
	})
	require.NoError(t, tbl.Flush())

	out := buf.String()
	require.Contains(t, out, "0-1")
	require.Contains(t, out, "1-2")
	require.Contains(t, out, "sequential")
}

func TestWriteResultsPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	tbl := output.NewTable(&buf)
	tbl.WriteResults([]result.Result{
		{M: 0, T: 1, Reps: 1},
		{M: 16, T: 2, Reps: 1},
		{M: 32, T: 3, Reps: 1},
	})
	require.NoError(t, tbl.Flush())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "0"))
	require.True(t, strings.HasPrefix(lines[2], "32"))
}
