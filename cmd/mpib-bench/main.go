// Command mpib-bench is the CLI entry point for the measurement engine: it
// parses flags into a MsgSet/Precision pair, builds a transport (either an
// in-process simulated group or a real gRPC mesh), selects a collective
// plugin and timing method, drives the adaptive sweep, and writes the
// result table to stdout. It contains no statistical or timing logic of
// its own; every decision is delegated to the core packages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// opts holds every flag destination, following the teacher's
// opts-struct-plus-RunE-closure pattern.
type opts struct {
	// transport selection
	transport string
	ranks     int
	rank      int
	peers     []string

	// operation selection
	op        string
	direction string
	root      int
	peer      int

	// timing method
	method   string
	parallel bool

	// precision (repetition.Precision)
	minReps int
	maxReps int
	cl      float64
	eps     float64

	// message set (sweep.MsgSet)
	minSize   int
	maxSize   int
	stride    int
	minStride int
	maxDiff   float64
	maxNum    int

	// calibration sub-protocol repetition counts
	barrierReps int
	offsetReps  int
	rttReps     int
	synchronous bool

	logLevel string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "mpib-bench",
		Short: "Distributed message-passing benchmarking engine",
		Long: `mpib-bench drives the mpib measurement engine over a group of ranks,
either simulated in-process (for local experimentation) or over a real
gRPC mesh (one process per rank). It times point-to-point exchanges and
collective operations across a sweep of message sizes and prints a
gnuplot-friendly result table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	f := root.Flags()
	f.StringVar(&o.transport, "transport", "inproc", "transport: inproc|grpc")
	f.IntVar(&o.ranks, "ranks", 4, "group size for -transport inproc")
	f.IntVar(&o.rank, "rank", 0, "this process's rank, for -transport grpc")
	f.StringSliceVar(&o.peers, "peers", nil, "comma-separated host:port per rank, for -transport grpc")

	f.StringVar(&o.op, "op", "noop", "collective algorithm: noop|flat|binomial|sgv")
	f.StringVar(&o.direction, "direction", "gather", "direction for -op flat|sgv: gather|scatter")
	f.IntVar(&o.root, "root", 0, "root/coordinator rank for collective and p2p methods")
	f.IntVar(&o.peer, "peer", 1, "peer rank, for -t p2p")

	f.StringVarP(&o.method, "timing", "t", "max", "timing method: p2p|allp2p|max|root|global|bcast")
	f.BoolVar(&o.parallel, "parallel", false, "for -t allp2p: overlap pairs within a round")

	f.IntVarP(&o.minReps, "min-reps", "r", 10, "minimum repetitions")
	f.IntVarP(&o.maxReps, "max-reps", "R", 1000, "maximum repetitions")
	f.Float64VarP(&o.cl, "cl", "c", 0.95, "confidence level")
	f.Float64VarP(&o.eps, "eps", "e", 0.01, "target relative confidence half-width")

	f.IntVarP(&o.minSize, "min-size", "m", 0, "minimum message size, bytes")
	f.IntVarP(&o.maxSize, "max-size", "M", 1 << 20, "maximum message size, bytes")
	f.IntVarP(&o.stride, "stride", "S", 0, "fixed stride; 0 selects adaptive mode")
	f.IntVarP(&o.minStride, "min-stride", "s", 8, "adaptive mode: minimum stride")
	f.Float64VarP(&o.maxDiff, "max-diff", "d", 0.1, "adaptive mode: max tolerated linear-model deviation")
	f.IntVarP(&o.maxNum, "max-num", "n", 64, "adaptive mode: maximum number of points")

	f.IntVar(&o.barrierReps, "barrier-reps", 20, "repetitions for -t root's barrier-time calibration")
	f.IntVar(&o.offsetReps, "offset-reps", 20, "repetitions for -t global's clock-offset calibration")
	f.BoolVar(&o.synchronous, "synchronous", false, "treat clocks as globally synchronized: skip -t global's clock-offset calibration (all offsets zero)")
	f.IntVar(&o.rttReps, "rtt-reps", 20, "repetitions for -t bcast's empty-round-trip calibration")

	f.StringVar(&o.logLevel, "log-level", "warn", "log level: debug|info|warn|error|disabled")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log := newLogger(o.logLevel)
		log.Error().Err(err).Msg("mpib-bench failed")
		os.Exit(1)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func fail(format string, args ...any) error {
	return fmt.Errorf("mpib-bench: "+format, args...)
}
