// Package output formats measurement results as a human-readable table,
// grounded on original_source/benchmarks/mpib_output.c's column layout
// (size, time, wtick-below-resolution flag, reps, confidence interval) and
// its comment-prefixed, gnuplot-friendly header convention.
package output

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/mpib/mpib/pairsched"
	"github.com/mpib/mpib/repetition"
	"github.com/mpib/mpib/result"
	"github.com/mpib/mpib/sweep"
)

// Table writes a tab-aligned, "#"-prefixed-comment result table to an
// underlying writer, mirroring mpib_output.c's printf-based layout but
// through text/tabwriter so columns line up regardless of value width.
type Table struct {
	w *tabwriter.Writer
}

// NewTable returns a Table writing to w. Call Flush when done.
func NewTable(w io.Writer) *Table {
	return &Table{w: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

// Flush must be called after the last Write* call to emit buffered output.
func (t *Table) Flush() error { return t.w.Flush() }

// WritePrecision prints the precision block (spec.md Precision, mirroring
// MPIB_print_precision).
func (t *Table) WritePrecision(p repetition.Precision) {
	fmt.Fprintf(t.w, "#Precision\n#min_reps\t%d\n#max_reps\t%d\n#cl\t%g\n#eps\t%g\n#\n",
		p.MinReps, p.MaxReps, p.CL, p.Eps)
}

// WriteMsgSet prints the message-set block (mirroring MPIB_print_msgset).
func (t *Table) WriteMsgSet(m sweep.MsgSet) {
	fmt.Fprintf(t.w, "#Message set\n#min_size\t%d\n#max_size\t%d\n#stride\t%d\n#max_diff\t%g\n#min_stride\t%d\n#max_num\t%d\n#\n",
		m.MinSize, m.MaxSize, m.Stride, m.MaxDiff, m.MinStride, m.MaxNum)
}

// WriteCollectiveHeader prints a collective result table's header
// (mirroring MPIB_print_coll_th): node count, root, operation/timing
// labels, the precision block, then the column titles.
func (t *Table) WriteCollectiveHeader(operation, timing string, n, root int, p repetition.Precision) {
	fmt.Fprintf(t.w, "#nodes\t%d\n#root\t%d\n#operation\t%s\n#timing\t%s\n#\n", n, root, operation, timing)
	t.WritePrecision(p)
	fmt.Fprintln(t.w, "#msg\ttime\twtick\treps\tci")
}

// WriteResultRow prints one (message size, Result) row, mirroring
// MPIB_print_coll_tr/MPIB_print_result_tr: time in seconds, wtick as
// whether the clock resolution is below the measured time (the original's
// "wtick < T" boolean, not the raw tick value), reps, and the confidence
// interval half-width.
func (t *Table) WriteResultRow(size int, r result.Result) {
	fmt.Fprintf(t.w, "%d\t%e\t%t\t%d\t%e\n", size, r.T, r.Wtick < r.T, r.Reps, r.CI)
}

// WriteResults writes every (size, Result) pair produced by sweep.Run in
// ascending size order.
func (t *Table) WriteResults(results []result.Result) {
	for _, r := range results {
		t.WriteResultRow(int(r.M), r)
	}
}

// WriteP2PHeader prints an all-pairs result table's header (mirroring
// MPIB_print_p2p_th): the sequential/parallel mode, the precision block,
// and one "i-j" column group per unordered pair.
func (t *Table) WriteP2PHeader(parallel bool, p repetition.Precision, n int) {
	fmt.Fprintf(t.w, "#%s\n", modeLabel(parallel))
	t.WritePrecision(p)
	fmt.Fprint(t.w, "#msg")
	for _, pair := range sortedPairs(n) {
		fmt.Fprintf(t.w, "\t%d-%d time\t%d-%d wtick\t%d-%d reps\t%d-%d ci",
			pair.I, pair.J, pair.I, pair.J, pair.I, pair.J, pair.I, pair.J)
	}
	fmt.Fprintln(t.w)
}

// WriteP2PRow prints one message size's row across every pair's results
// (mirroring MPIB_print_p2p_tr), in the same pair order as WriteP2PHeader.
func (t *Table) WriteP2PRow(size int, results map[pairsched.Pair]result.Result) {
	fmt.Fprintf(t.w, "%d", size)
	for _, pair := range sortedPairs(resultsGroupSize(results)) {
		r := results[pair]
		fmt.Fprintf(t.w, "\t%e\t%t\t%d\t%e", r.T, r.Wtick < r.T, r.Reps, r.CI)
	}
	fmt.Fprintln(t.w)
}

func modeLabel(parallel bool) string {
	if parallel {
		return "parallel"
	}
	return "sequential"
}

// sortedPairs enumerates every unordered pair of an n-rank group in the
// same i-then-j nested order mpib_output.c iterates (i from 0..n-2, j from
// i+1..n-1).
func sortedPairs(n int) []pairsched.Pair {
	var out []pairsched.Pair
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, pairsched.Pair{I: i, J: j})
		}
	}
	return out
}

// resultsGroupSize recovers the group size from a pair-keyed results map,
// since WriteP2PRow is only ever given the map, not n directly.
func resultsGroupSize(results map[pairsched.Pair]result.Result) int {
	max := -1
	for pair := range results {
		if pair.J > max {
			max = pair.J
		}
	}
	return max + 1
}

// WriteProcessors prints the rank-to-host mapping block (mirroring
// MPIB_print_processors), sorted by rank.
func (t *Table) WriteProcessors(hosts map[int]string) {
	fmt.Fprintln(t.w, "#Processors\n#rank\tprocessor")
	ranks := make([]int, 0, len(hosts))
	for r := range hosts {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	for _, r := range ranks {
		fmt.Fprintf(t.w, "#%d\t%s\n", r, hosts[r])
	}
	fmt.Fprintln(t.w, "#")
}
