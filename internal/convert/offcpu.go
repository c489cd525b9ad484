package convert

// offCPUGroup is the Off-CPU Sample Group triple from spec.md §3:
// begin_ts, end_ts, and the integer number of off-CPU samples that would
// have fired at the off-CPU sampling interval across that span.
type offCPUGroup struct {
	beginNs, endNs uint64
	count          int
}

// OffCPUTracker is one thread's Off-CPU / Context-Switch Handler state
// (spec.md §4.E): whether the thread is currently off-CPU, when its
// current interval (on or off) began, and the on-CPU nanoseconds
// metered since the last consumption.
type OffCPUTracker struct {
	off        bool
	offSinceNs uint64
	onSinceNs  uint64
	haveOn     bool
	meteredNs  uint64
}

// OnSample implements on_sample(ts): if the thread is off-CPU, close out
// an off-CPU group spanning [offSinceNs, ts) and switch it on-CPU at ts;
// otherwise roll the elapsed on-CPU time into the metered total and
// reset the on-CPU interval start to ts (so metering works even absent
// explicit switch records).
func (o *OffCPUTracker) OnSample(ts, intervalNs uint64) (offCPUGroup, bool) {
	if o.off {
		count := 0
		if intervalNs > 0 {
			count = int((ts - o.offSinceNs) / intervalNs)
		}
		g := offCPUGroup{beginNs: o.offSinceNs, endNs: ts, count: count}
		o.off = false
		o.onSinceNs = ts
		o.haveOn = true
		return g, true
	}
	if o.haveOn {
		o.meteredNs += ts - o.onSinceNs
	}
	o.onSinceNs = ts
	o.haveOn = true
	return offCPUGroup{}, false
}

// OnSwitchIn implements on_switch_in(ts): spec.md §4.E says it behaves
// exactly like on_sample plus beginning a new on-CPU interval, which
// OnSample already does.
func (o *OffCPUTracker) OnSwitchIn(ts, intervalNs uint64) (offCPUGroup, bool) {
	return o.OnSample(ts, intervalNs)
}

// OnSwitchOut implements on_switch_out(ts): mark off-CPU at ts, after
// folding the just-ended on-CPU interval into the metered total.
func (o *OffCPUTracker) OnSwitchOut(ts uint64) {
	if o.haveOn && !o.off {
		o.meteredNs += ts - o.onSinceNs
	}
	o.off = true
	o.offSinceNs = ts
	o.haveOn = false
}

// ConsumeCPUDelta implements consume_cpu_delta(): return the on-CPU
// nanoseconds metered since the previous call and reset the counter.
func (o *OffCPUTracker) ConsumeCPUDelta() uint64 {
	d := o.meteredNs
	o.meteredNs = 0
	return d
}
