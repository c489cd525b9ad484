package convert

import (
	"fmt"

	"github.com/perf-conv/perf-conv/internal/objfile"
	"github.com/perf-conv/perf-conv/internal/profile"
	"github.com/perf-conv/perf-conv/internal/unwind"
)

// Process is the Process/Thread Registry's per-pid record (spec.md §3,
// §4.F): a profile-side process handle plus the unwinder instance
// holding every module loaded into this address space. Adapted from
// perfsession.PIDInfo/Session, generalized from the teacher's mmap
// tracking to the richer Module/Lib/unwinder wiring this converter needs.
type Process struct {
	PID        int
	Handle     *profile.ProcessData
	Unwinder   *unwind.Unwinder
	namedOnce  bool // true once a real (non "<pid>") name has been set
	libRanges  ranges
	mainThread *Thread
}

// attachModule registers m as a library on this process: the profile
// document gets a Lib row, the unwinder gets the module for DWARF
// unwinding, and libRanges gets an AVMA range so the emitter can map
// frame addresses back to a library (spec.md §3 invariant 4).
func (p *Process) attachModule(m *objfile.Module) {
	lib := &profile.Lib{
		Name:      m.Name,
		Path:      m.Path,
		DebugName: m.Name,
		DebugID:   m.DebugID,
		CodeID:    m.CodeID,
		AVMAStart: m.AVMAStart,
		AVMAEnd:   m.AVMAEnd,
	}
	idx := p.Handle.AddLib(lib)
	p.Unwinder.AddModule(m)
	p.libRanges.add(m.AVMAStart, m.AVMAEnd, idx)
}

// libIndexFor returns the library-table index of the module covering
// addr in this process, or -1.
func (p *Process) libIndexFor(addr uint64) int {
	idx, ok := p.libRanges.get(addr)
	if !ok {
		return -1
	}
	return idx
}

// Thread is the Process/Thread Registry's per-tid record (spec.md §3):
// a profile-side thread handle, this thread's off-CPU/context-switch
// state, the timestamp of its last emitted sample (duplicate
// suppression, invariant 3), and the user stack saved at the last
// sched-switch-out (consumed by an off-CPU sample group's frames).
type Thread struct {
	TID     int
	Process *Process
	Handle  *profile.ThreadData

	OffCPU OffCPUTracker

	HasLastSample bool
	LastSampleMs  float64
	LastSampleNs  uint64

	SavedOffCPUStack []StackFrame
}

// Registry is the Process/Thread Registry (spec.md §4.F): the evolving
// process and thread tables keyed by kernel pid/tid, plus the global
// Kernel Modules List every new process inherits (invariant 6/testable
// property 6). Grounded on perfsession.Session's get-or-create-by-pid
// pattern, generalized to also own per-process unwinders and the
// process/thread's profile.Document handles.
type Registry struct {
	doc    *profile.Document
	epoch  Epoch
	logger Logger

	processes map[int]*Process
	threads   map[int]*Thread

	kernelModules []*objfile.Module
}

// NewRegistry creates an empty registry bound to doc.
func NewRegistry(doc *profile.Document, epoch Epoch, logger Logger) *Registry {
	return &Registry{
		doc:       doc,
		epoch:     epoch,
		logger:    logger,
		processes: make(map[int]*Process),
		threads:   make(map[int]*Thread),
	}
}

// AddKernelModule appends m to the shared Kernel Modules List and
// attaches it to every process that already exists (new processes pick
// it up in GetOrCreateProcess).
func (r *Registry) AddKernelModule(m *objfile.Module) {
	r.kernelModules = append(r.kernelModules, m)
	for _, p := range r.processes {
		p.attachModule(m)
	}
}

// GetOrCreateProcess returns the process for pid, creating it (and
// attaching a copy of every kernel module) on first reference.
func (r *Registry) GetOrCreateProcess(pid int, nowNs uint64) *Process {
	if p, ok := r.processes[pid]; ok {
		return p
	}
	handle := r.doc.AddProcess(pid, fmt.Sprintf("%d", pid), r.epoch.Convert(nowNs))
	p := &Process{PID: pid, Handle: handle, Unwinder: unwind.NewUnwinder()}
	for _, m := range r.kernelModules {
		p.attachModule(m)
	}
	r.processes[pid] = p
	return p
}

// EndProcess marks a process as exited and forgets it, per spec.md
// §4.I's Exit handling.
func (r *Registry) EndProcess(pid int, tsMs float64) {
	if p, ok := r.processes[pid]; ok {
		p.Handle.End(tsMs)
		delete(r.processes, pid)
	}
}

// GetOrCreateThread returns the thread for tid, creating it on first
// reference per spec.md §4.F.
func (r *Registry) GetOrCreateThread(tid int, proc *Process, isMain bool, nowNs uint64) *Thread {
	if t, ok := r.threads[tid]; ok {
		return t
	}
	handle := proc.Handle.AddThread(tid, isMain, r.epoch.Convert(nowNs))
	t := &Thread{TID: tid, Process: proc, Handle: handle}
	r.threads[tid] = t
	if isMain {
		proc.mainThread = t
	}
	return t
}

// LookupThread returns the thread for tid if it currently exists.
func (r *Registry) LookupThread(tid int) (*Thread, bool) {
	t, ok := r.threads[tid]
	return t, ok
}

// EndThread marks a thread as exited/exec'd-away and forgets it.
func (r *Registry) EndThread(tid int, tsMs float64) {
	if t, ok := r.threads[tid]; ok {
		t.Handle.End(tsMs)
		delete(r.threads, tid)
	}
}
