package convert

import (
	"encoding/binary"
	"errors"

	"github.com/perf-conv/perf-conv/internal/profile"
	"github.com/perf-conv/perf-conv/internal/unwind"
	"github.com/perf-conv/perf-conv/perffile"
)

// ErrMissingField is §7's MissingRequiredField: a sample arrived without
// pid, tid, or a timestamp, each of which every downstream invariant
// depends on.
var ErrMissingField = errors.New("convert: sample missing pid, tid, or timestamp")

// StackFrame is one frame of a thread's saved off-CPU stack, captured at
// a sched-switch-out sample so an off-CPU group's synthesized samples
// can reuse it (spec.md §3, "saved off-CPU stack").
type StackFrame = profile.StackFrame

func modeToCategory(m unwind.Mode) string {
	if m == unwind.ModeKernel {
		return profile.CategoryKernel
	}
	return profile.CategoryUser
}

func cpuModeToUnwindMode(m perffile.CPUMode) unwind.Mode {
	switch m {
	case perffile.CPUModeKernel, perffile.CPUModeGuestKernel:
		return unwind.ModeKernel
	default:
		return unwind.ModeUser
	}
}

// regsFromSample extracts the sample's register bank, if present and
// requested by the event (spec.md §4.G: "Two architectures are
// supported").
func regsFromSample(rec *perffile.RecordSample, arch unwind.Arch) unwind.Regs {
	if rec.Format&perffile.SampleFormatRegsUser == 0 || rec.EventAttr == nil {
		return unwind.Regs{}
	}
	return unwind.DecodeRegs(arch, rec.EventAttr.SampleRegsUser, rec.RegsUser)
}

// stackReaderFrom builds the stack-reader closure spec.md §4.G step 3
// describes: reads the 8-byte word at byte offset (a-sp) in buf,
// reporting a read error if a is below sp or past the captured buffer.
func stackReaderFrom(buf []byte, sp uint64) unwind.StackReader {
	return func(a uint64) (uint64, bool) {
		if a < sp {
			return 0, false
		}
		off := a - sp
		if off+8 > uint64(len(buf)) {
			return 0, false
		}
		return binary.LittleEndian.Uint64(buf[off : off+8]), true
	}
}

// toDocFrames reverses a leaf-to-root reconstructed stack into
// root-to-leaf (invariant 2/7), maps each frame's mode to a category,
// resolves its library by AVMA, and drops truncation markers.
func toDocFrames(proc *Process, frames []unwind.Frame) []StackFrame {
	out := make([]StackFrame, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if f.Kind == unwind.KindTruncated {
			continue
		}
		out = append(out, StackFrame{
			Address:  f.Address,
			LibIndex: proc.libIndexFor(f.Address),
			Category: modeToCategory(f.Mode),
		})
	}
	return out
}

// handleSample implements §4.J's handle_sample.
func (c *Converter) handleSample(rec *perffile.RecordSample) error {
	if rec.Format&perffile.SampleFormatTID == 0 || rec.Format&perffile.SampleFormatTime == 0 {
		return ErrMissingField
	}

	c.lastSampleTimeNs = rec.Time

	proc := c.registry.GetOrCreateProcess(rec.PID, rec.Time)
	thr := c.registry.GetOrCreateThread(rec.TID, proc, rec.PID == rec.TID, rec.Time)

	tsMs := c.epoch.Convert(rec.Time)
	if thr.HasLastSample && thr.LastSampleMs == tsMs {
		return nil // duplicate suppression, invariant 2/testable property 2
	}
	if thr.HasLastSample && rec.Time > thr.LastSampleNs {
		c.jitter.Observe(rec.Time - thr.LastSampleNs)
	}

	if group, ok := thr.OffCPU.OnSample(rec.Time, c.interp.OffCPUIntervalNs); ok {
		c.emitOffCPUGroup(thr, group)
		thr.SavedOffCPUStack = nil
	}

	var cpuDeltaMs float64
	switch {
	case c.interp.HasContextSwitch:
		cpuDeltaMs = profile.FromNanos(int64(thr.OffCPU.ConsumeCPUDelta()))
	case rec.Format&perffile.SampleFormatPeriod != 0:
		cpuDeltaMs = profile.FromNanos(int64(rec.Period))
	}

	mode := cpuModeToUnwindMode(rec.CPUMode)
	regs := regsFromSample(rec, c.arch)
	var reader unwind.StackReader
	if regs.Valid() && rec.Format&perffile.SampleFormatStackUser != 0 && len(rec.StackUser) > 0 {
		reader = stackReaderFrom(rec.StackUser, regs.SP)
	}

	frames := unwind.Reconstruct(mode, rec.Callchain, regs, reader, proc.Unwinder)
	if len(frames) == 0 && rec.Format&perffile.SampleFormatIP != 0 {
		frames = []unwind.Frame{{Kind: unwind.KindInstructionPointer, Address: rec.IP, Mode: mode}}
	}

	thr.Handle.AppendSample(toDocFrames(proc, frames), tsMs, 1, cpuDeltaMs)
	thr.HasLastSample = true
	thr.LastSampleMs = tsMs
	thr.LastSampleNs = rec.Time
	return nil
}

// handleSchedSwitch implements §4.I's sched-switch sample handling: a
// sample taken under the sched-switch tracepoint attribute only captures
// the current user-only stack for later off-CPU emission. Unlike
// handleSample it never dedups, never accounts off-CPU time, and never
// appends an on-CPU sample.
func (c *Converter) handleSchedSwitch(rec *perffile.RecordSample) error {
	if rec.Format&perffile.SampleFormatTID == 0 {
		return ErrMissingField
	}

	proc := c.registry.GetOrCreateProcess(rec.PID, rec.Time)
	thr := c.registry.GetOrCreateThread(rec.TID, proc, rec.PID == rec.TID, rec.Time)

	mode := cpuModeToUnwindMode(rec.CPUMode)
	regs := regsFromSample(rec, c.arch)
	var reader unwind.StackReader
	if regs.Valid() && rec.Format&perffile.SampleFormatStackUser != 0 && len(rec.StackUser) > 0 {
		reader = stackReaderFrom(rec.StackUser, regs.SP)
	}

	frames := unwind.Reconstruct(mode, rec.Callchain, regs, reader, proc.Unwinder)
	if len(frames) == 0 && rec.Format&perffile.SampleFormatIP != 0 {
		frames = []unwind.Frame{{Kind: unwind.KindInstructionPointer, Address: rec.IP, Mode: mode}}
	}

	thr.SavedOffCPUStack = userOnlyFrames(proc, frames)
	return nil
}

// userOnlyFrames keeps only the User-mode portion of a reconstructed
// stack, per spec.md §4.I's "capture the current user-only stack into
// the thread's saved off-CPU stack".
func userOnlyFrames(proc *Process, frames []unwind.Frame) []StackFrame {
	var userFrames []unwind.Frame
	for _, f := range frames {
		if f.Mode == unwind.ModeUser && f.Kind != unwind.KindTruncated {
			userFrames = append(userFrames, f)
		}
	}
	return toDocFrames(proc, userFrames)
}

// emitOffCPUGroup implements §4.J's emit_off_cpu_group.
func (c *Converter) emitOffCPUGroup(thr *Thread, g offCPUGroup) {
	weight := c.interp.OffCPUWeight
	beginMs := c.epoch.Convert(g.beginNs)
	endMs := c.epoch.Convert(g.endNs)
	meteredMs := profile.FromNanos(int64(thr.OffCPU.ConsumeCPUDelta()))

	thr.Handle.AppendSample(thr.SavedOffCPUStack, beginMs, weight, meteredMs)
	if g.count > 1 {
		thr.Handle.AppendSample(thr.SavedOffCPUStack, endMs, int64(g.count-1)*weight, 0)
	}
}
