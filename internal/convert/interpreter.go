package convert

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/perf-conv/perf-conv/internal/objfile"
	"github.com/perf-conv/perf-conv/internal/profile"
	"github.com/perf-conv/perf-conv/internal/unwind"
	"github.com/perf-conv/perf-conv/perffile"
)

// Converter is the top-level driver described by spec.md §4.I: it owns
// the record interpretation loop and the shared state (registry, off-CPU
// interpretation, timestamp epoch, module loader) every record handler
// needs.
type Converter struct {
	doc      *profile.Document
	registry *Registry
	interp   *Interpretation
	epoch    Epoch
	arch     unwind.Arch
	loader   *ModuleLoader
	logger   Logger
	jitter   JitterTracker

	lastTime    uint64
	haveLast    bool
	regressions int

	// hostname and perfVersion feed the product string set once by the
	// first real (non "perf-exec") Comm record.
	hostname    string
	perfVersion string
	haveProduct bool

	// lastSampleTimeNs is the main event's most recent sample timestamp,
	// used as the Comm fallback when a Comm record carries no timestamp
	// of its own (spec.md §4.I).
	lastSampleTimeNs uint64
}

// Convert reads every record from f in causal order and applies it to an
// empty profile document, returning the finished document. inputPath is
// used only to derive the Module Loader's fallback search directory.
func Convert(f *perffile.File, inputPath string, logger Logger) (*profile.Document, error) {
	interp, err := NewInterpretation(f.Events)
	if err != nil {
		return nil, err
	}

	switch f.Meta.Arch {
	case "x86_64", "aarch64", "arm64":
	default:
		logger.Printf("unsupported architecture %q; decoding registers as x86-64", f.Meta.Arch)
	}

	doc := profile.NewDocument("perf-conv")
	epoch := NewEpoch(0)
	c := &Converter{
		doc:         doc,
		registry:    NewRegistry(doc, epoch, logger),
		interp:      interp,
		epoch:       epoch,
		arch:        unwind.ArchFromString(f.Meta.Arch),
		loader:      NewModuleLoader(inputPath, f.Meta.OSRelease),
		logger:      logger,
		hostname:    f.Meta.Hostname,
		perfVersion: f.Meta.Version,
	}

	rs := f.Records(perffile.RecordsCausalOrder)
	first := true
	for rs.Next() {
		common := rs.Record.Common()
		if first && common.Time != 0 {
			c.epoch = NewEpoch(common.Time)
			c.registry.epoch = c.epoch
			first = false
		}
		c.checkMonotonic(common.Time)

		if err := c.dispatch(rs.Record); err != nil {
			if errors.Is(err, ErrMissingField) {
				return nil, fmt.Errorf("convert: record at offset %d: %w", common.Offset, err)
			}
			logger.Printf("record at offset %d: %v", common.Offset, err)
		}
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("convert: reading records: %w", err)
	}

	if s := c.jitter.Summarize(); s.Count > 0 {
		logger.Printf("sample jitter: n=%d mean=%.0fns stddev=%.0fns", s.Count, s.MeanNs, s.StdDev)
	}
	if c.regressions > 0 {
		logger.Printf("observed %d timestamp regressions", c.regressions)
	}

	return doc, nil
}

// checkMonotonic implements spec.md §4.I's TimestampRegression
// diagnostic: log, never abort, when records arrive out of time order.
func (c *Converter) checkMonotonic(ts uint64) {
	if ts == 0 {
		return
	}
	if c.haveLast && ts < c.lastTime {
		c.regressions++
	}
	if !c.haveLast || ts > c.lastTime {
		c.lastTime = ts
		c.haveLast = true
	}
}

func (c *Converter) dispatch(rec perffile.Record) error {
	switch r := rec.(type) {
	case *perffile.RecordFork:
		return c.handleFork(r)
	case *perffile.RecordComm:
		return c.handleComm(r)
	case *perffile.RecordExit:
		return c.handleExit(r)
	case *perffile.RecordMmap:
		return c.handleMmap(r)
	case *perffile.RecordSwitch:
		return c.handleSwitch(r.Out, r.Common())
	case *perffile.RecordSwitchCPUWide:
		return c.handleSwitchCPUWide(r)
	case *perffile.RecordSample:
		return c.dispatchSample(r)
	default:
		return nil
	}
}

// dispatchSample implements §4.I's exclusive sample routing: a sample's
// event attribute decides whether it feeds the on-CPU sample stream (the
// main event) or only updates the saved off-CPU stack (the sched-switch
// tracepoint, if the profile sampled one). A sample under neither
// attribute is dropped.
func (c *Converter) dispatchSample(r *perffile.RecordSample) error {
	switch r.EventAttr {
	case c.interp.MainEvent:
		return c.handleSample(r)
	case c.interp.SchedSwitchEvent:
		return c.handleSchedSwitch(r)
	default:
		return nil
	}
}

// handleFork implements §4.I's fork handling: a new thread (and, if
// PID==TID, a new process) joins the registry.
func (c *Converter) handleFork(r *perffile.RecordFork) error {
	proc := c.registry.GetOrCreateProcess(r.PID, r.Time)
	c.registry.GetOrCreateThread(r.TID, proc, r.PID == r.TID, r.Time)
	return nil
}

// handleComm implements §4.I: a comm record names (or, on exec, ends the
// old thread/process and recreates them under the same tid/pid) the
// thread and, if it is the thread-group leader, the owning process. The
// document's product string is set once, from the first real (not
// "perf-exec") name seen.
func (c *Converter) handleComm(r *perffile.RecordComm) error {
	isMain := r.PID == r.TID

	if r.Exec {
		ts := r.Time
		if ts == 0 {
			ts = c.lastSampleTimeNs
		}
		tsMs := c.epoch.Convert(ts)
		c.registry.EndThread(r.TID, tsMs)
		if isMain {
			c.registry.EndProcess(r.PID, tsMs)
		}
	}

	proc := c.registry.GetOrCreateProcess(r.PID, r.Time)
	thr := c.registry.GetOrCreateThread(r.TID, proc, isMain, r.Time)
	thr.Handle.SetName(r.Comm)
	if isMain {
		proc.Handle.SetName(r.Comm)
	}

	if !c.haveProduct && r.Comm != "perf-exec" {
		c.doc.SetProduct(fmt.Sprintf("%s on %s (perf version %s)", r.Comm, c.hostname, c.perfVersion))
		c.haveProduct = true
	}
	return nil
}

// handleExit implements §4.I: a thread exits, and if PID==TID so does
// its owning process.
func (c *Converter) handleExit(r *perffile.RecordExit) error {
	tsMs := c.epoch.Convert(r.Time)
	c.registry.EndThread(r.TID, tsMs)
	if r.PID == r.TID {
		c.registry.EndProcess(r.PID, tsMs)
	}
	return nil
}

// mmapIsExecutable reports whether r describes an executable mapping
// (spec.md §4.I: "skip if non-executable"). Mmap2 records carry real
// protection bits (Prot is only ever populated from a v2 wire record,
// perffile/records.go's parseMmap), so those are gated directly on
// PROT_EXEC. Plain Mmap records never carry protection bits at all; the
// kernel only emits PERF_RECORD_MMAP_DATA's misc bit to flag the
// non-executable ones, so that's the signal used instead.
func mmapIsExecutable(r *perffile.RecordMmap) bool {
	if r.Prot != 0 {
		return r.Prot&unix.PROT_EXEC != 0
	}
	return !r.Data
}

// handleMmap implements §4.I's mmap handling: load the backing module
// (as a kernel module when the record's pid is -1, otherwise as a user
// module) and attach it to the owning process, or the shared kernel
// module list.
func (c *Converter) handleMmap(r *perffile.RecordMmap) error {
	if !mmapIsExecutable(r) {
		return nil
	}

	if r.PID == -1 {
		m, err := c.loader.LoadKernel(r)
		if err != nil {
			if errors.Is(err, objfile.ErrPseudoPath) {
				return nil
			}
			return err
		}
		c.registry.AddKernelModule(m)
		return nil
	}

	m, err := c.loader.LoadUser(r)
	if err != nil {
		if errors.Is(err, objfile.ErrPseudoPath) {
			return nil
		}
		return err
	}
	proc := c.registry.GetOrCreateProcess(r.PID, r.Time)
	proc.attachModule(m)
	return nil
}

// handleSwitch implements §4.I's per-thread switch record handling: the
// sample ID trailer (always present on Switch records, spec.md §7)
// names which thread is switching.
func (c *Converter) handleSwitch(out bool, common *perffile.RecordCommon) error {
	t, ok := c.registry.LookupThread(common.TID)
	if !ok {
		return nil
	}
	if out {
		t.OffCPU.OnSwitchOut(common.Time)
		return nil
	}
	if group, ok := t.OffCPU.OnSwitchIn(common.Time, c.interp.OffCPUIntervalNs); ok {
		c.emitOffCPUGroup(t, group)
		t.SavedOffCPUStack = nil
	}
	return nil
}

// handleSwitchCPUWide implements §4.I's CPU-wide switch variant, which
// names the switching thread directly rather than via the common
// sample-ID trailer.
func (c *Converter) handleSwitchCPUWide(r *perffile.RecordSwitchCPUWide) error {
	t, ok := c.registry.LookupThread(r.SwitchTID)
	if !ok {
		return nil
	}
	if r.Out {
		t.OffCPU.OnSwitchOut(r.Time)
		return nil
	}
	if group, ok := t.OffCPU.OnSwitchIn(r.Time, c.interp.OffCPUIntervalNs); ok {
		c.emitOffCPUGroup(t, group)
		t.SavedOffCPUStack = nil
	}
	return nil
}
