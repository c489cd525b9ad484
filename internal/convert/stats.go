package convert

import (
	"github.com/aclements/go-moremath/stats"
)

// JitterTracker accumulates the inter-sample intervals observed across
// every thread's timeline so a single summary line can be logged at the
// end of a run, giving a feel for how evenly the profiler actually fired
// relative to its configured period (spec.md §4.A/§4.E use the nominal
// period; this reports how closely reality tracked it).
type JitterTracker struct {
	deltasNs []float64
}

// Observe records the gap between two consecutive samples on the same
// thread.
func (j *JitterTracker) Observe(deltaNs uint64) {
	j.deltasNs = append(j.deltasNs, float64(deltaNs))
}

// Summary is a JitterTracker's final mean/stddev, in nanoseconds.
type Summary struct {
	Count  int
	MeanNs float64
	StdDev float64
}

// Summarize reduces the observed deltas to a mean and standard
// deviation. Returns the zero Summary if nothing was observed.
func (j *JitterTracker) Summarize() Summary {
	if len(j.deltasNs) == 0 {
		return Summary{}
	}
	s := stats.Sample{Xs: j.deltasNs}
	return Summary{Count: len(j.deltasNs), MeanNs: s.Mean(), StdDev: s.StdDev()}
}
