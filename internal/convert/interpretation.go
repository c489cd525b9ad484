package convert

import (
	"errors"

	"github.com/perf-conv/perf-conv/perffile"
)

// ErrSamplingUnsupported is §7's SamplingUnsupported: the profile's main
// event carries perffile's NoSampling-equivalent (zero period and zero
// frequency), which the converter cannot build a sample stream from.
var ErrSamplingUnsupported = errors.New("convert: event has neither a sample period nor frequency")

const defaultOffCPUIntervalNs = 1_000_000 // 1ms, spec.md §4.E default

// Interpretation classifies a profile's event attribute descriptors
// (spec.md §3/§4.H): which is the main sampling attribute, which (if any)
// is the sched-switch tracepoint, the per-sample period in nanoseconds,
// and whether explicit context-switch records are present.
type Interpretation struct {
	MainEvent        *perffile.EventAttr
	SchedSwitchEvent *perffile.EventAttr

	IsTimeBased      bool
	PeriodNs         uint64
	HasContextSwitch bool

	OffCPUIntervalNs uint64
	OffCPUWeight     int64
}

// isNanosecondPeriod reports whether event's fixed-period sampling value is
// expressed in nanoseconds — true for the software clock events perf
// emits in nanosecond units. This is the hook spec.md §9's open question
// calls for: verifying the event type rather than assuming every
// Period(_) policy is nanosecond-denominated.
func isNanosecondPeriod(event perffile.Event) bool {
	sw, ok := event.(perffile.EventSoftware)
	if !ok {
		return false
	}
	return sw == perffile.EventSoftwareCPUClock || sw == perffile.EventSoftwareTaskClock
}

// NewInterpretation classifies events per spec.md §6's sampling-policy
// table. The main event is taken as the first non-tracepoint attribute
// (or the only attribute, if there's just one); the sched-switch
// attribute, if any, is the first tracepoint attribute — perffile
// exposes no tracepoint name table, so this is necessarily a heuristic
// rather than a "sched:sched_switch" name match.
func NewInterpretation(events []*perffile.EventAttr) (*Interpretation, error) {
	if len(events) == 0 {
		return nil, ErrSamplingUnsupported
	}

	in := &Interpretation{MainEvent: events[0]}
	for _, e := range events {
		if e.Event != nil && e.Event.Generic().Type == perffile.EventTypeTracepoint {
			if in.SchedSwitchEvent == nil {
				in.SchedSwitchEvent = e
			}
			continue
		}
		if in.MainEvent == events[0] && in.MainEvent.Event != nil && in.MainEvent.Event.Generic().Type == perffile.EventTypeTracepoint {
			in.MainEvent = e
		}
	}

	policy := in.MainEvent.SamplingPolicy()
	if policy.Rate == 0 {
		return nil, ErrSamplingUnsupported
	}

	if policy.Frequency {
		in.IsTimeBased = true
		in.PeriodNs = 1_000_000_000 / policy.Rate
	} else if isNanosecondPeriod(in.MainEvent.Event) {
		in.IsTimeBased = true
		in.PeriodNs = policy.Rate
	}

	in.HasContextSwitch = in.MainEvent.Flags&perffile.EventFlagContextSwitch != 0

	in.OffCPUIntervalNs = defaultOffCPUIntervalNs
	in.OffCPUWeight = 0
	if in.IsTimeBased {
		in.OffCPUIntervalNs = in.PeriodNs
		in.OffCPUWeight = 1
	}

	return in, nil
}
