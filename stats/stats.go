// Package stats implements the statistics kernel the repetition controller
// and timing methods use to turn a sample of observed times into a mean and
// a confidence half-width: spec section 4.2.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Mean returns the sample mean of t. Panics if t is empty, mirroring the
// "never call this on zero observations" invariant the controller upholds.
func Mean(t []float64) float64 {
	if len(t) == 0 {
		panic("stats: mean: empty sample")
	}
	var sum float64
	for _, v := range t {
		sum += v
	}
	return sum / float64(len(t))
}

// StdDev returns the sample standard deviation of t (Bessel-corrected,
// divisor reps-1). Requires len(t) >= 2.
func StdDev(t []float64) float64 {
	if len(t) < 2 {
		panic("stats: stddev: sample too small")
	}
	m := Mean(t)
	var sumSq float64
	for _, v := range t {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(t)-1))
}

// InverseStudentT returns the two-sided critical value of the Student-t
// distribution with df degrees of freedom at confidence level cl, i.e.
// |t^-1((1+cl)/2; df)|. This is the default quantile source for CI; package
// transport exposes the same computation so a Transport implementation can
// supply its own (spec section 6 lists "inverse Student-t distribution"
// among the capabilities the engine needs from the transport).
func InverseStudentT(cl float64, df int) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return math.Abs(dist.Quantile((1 + cl) / 2))
}

// CIFromQuantile returns the half-width of the confidence interval for the
// mean of t, at confidence level cl, using invT to supply the critical
// value: ci(cl, reps, T) = |t^-1(cl; reps-1)| * stddev / sqrt(reps). The
// timing methods build invT from their transport's InverseStudentT so the
// engine routes this computation through the transport abstraction, per
// spec section 6.
//
// Requires len(t) >= 2 (StdDev's precondition); callers (the repetition
// controller) never invoke this below reps = max(3, min_reps), per spec
// section 4.2, but the function itself only requires two samples to be
// well-defined.
func CIFromQuantile(invT func(cl float64, df int) float64, cl float64, t []float64) float64 {
	reps := len(t)
	sd := StdDev(t)
	return invT(cl, reps-1) * sd / math.Sqrt(float64(reps))
}

// CI is CIFromQuantile using this package's own InverseStudentT as the
// quantile source. Convenient for tests and for callers with no transport
// at hand (spec section 4.2's ci function with its default backend).
func CI(cl float64, t []float64) float64 {
	return CIFromQuantile(InverseStudentT, cl, t)
}
