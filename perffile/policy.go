package perffile

// SamplingPolicy reports whether an event was sampled by period or by
// frequency, and the configured rate, matching EventFlagFreq's meaning
// (EventAttr.SampleFreq is only meaningful when set, EventAttr.SamplePeriod
// otherwise).
type SamplingPolicy struct {
	Frequency bool
	Rate      uint64 // samples/sec if Frequency, else events between samples
}

// SamplingPolicy returns how a's owning event was sampled.
func (a *EventAttr) SamplingPolicy() SamplingPolicy {
	if a.Flags&EventFlagFreq != 0 {
		return SamplingPolicy{Frequency: true, Rate: a.SampleFreq}
	}
	return SamplingPolicy{Frequency: false, Rate: a.SamplePeriod}
}
