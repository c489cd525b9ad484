package unwind

import (
	"sort"

	"github.com/perf-conv/perf-conv/internal/objfile"
)

// StackReader reads the 8 bytes at addr from the sample's captured user
// stack buffer, reporting false if addr falls outside what was captured
// (spec.md §4.G: "bounds/underflow checks").
type StackReader func(addr uint64) (uint64, bool)

// stepStatus distinguishes "nothing more to unwind" (reached a module
// with no unwind data, or simply left all known modules — a normal,
// silent stop) from "the call-frame information itself was malformed or
// unsupported" (spec.md §7 UnwindError, which the caller surfaces as a
// KindTruncated marker).
type stepStatus int

const (
	stepEnd stepStatus = iota
	stepOK
	stepError
)

// Unwinder is the per-process DWARF call-frame-information capability
// spec.md §9's design notes describe as add_module/iter_frames: it holds
// every module mapped into one process and answers "what called this
// frame" queries against the module whose AVMA range contains the PC.
type Unwinder struct {
	modules []*objfile.Module
	tables  map[*objfile.Module]*cfiTable
}

// NewUnwinder returns an empty per-process Unwinder.
func NewUnwinder() *Unwinder {
	return &Unwinder{tables: map[*objfile.Module]*cfiTable{}}
}

// AddModule registers m, keeping modules sorted by AVMA start so PC
// lookups can binary search.
func (u *Unwinder) AddModule(m *objfile.Module) {
	i := sort.Search(len(u.modules), func(i int) bool {
		return u.modules[i].AVMAStart >= m.AVMAStart
	})
	u.modules = append(u.modules, nil)
	copy(u.modules[i+1:], u.modules[i:])
	u.modules[i] = m
}

// moduleFor returns the module whose AVMA range contains avma, or nil.
func (u *Unwinder) moduleFor(avma uint64) *objfile.Module {
	i := sort.Search(len(u.modules), func(i int) bool {
		return u.modules[i].AVMAStart > avma
	})
	if i == 0 {
		return nil
	}
	m := u.modules[i-1]
	if avma >= m.AVMAStart && avma < m.AVMAEnd {
		return m
	}
	return nil
}

func (u *Unwinder) tableFor(m *objfile.Module) *cfiTable {
	if t, ok := u.tables[m]; ok {
		return t
	}
	t := parseCFI(m.EhFrameBytes, m.EhFrame.Start)
	u.tables[m] = t
	return t
}

// step computes the caller's {pc, sp, fp} from cur, reading saved
// registers off the stack via read.
func (u *Unwinder) step(cur Regs, read StackReader) (Regs, stepStatus) {
	m := u.moduleFor(cur.PC)
	if m == nil || !m.HasUnwindData() {
		return Regs{}, stepEnd
	}
	svmaPC := cur.PC - m.Bias
	table := u.tableFor(m)
	fde := table.fdeForPC(svmaPC)
	if fde == nil {
		return Regs{}, stepEnd
	}
	state, err := fde.evaluate(svmaPC)
	if err != nil {
		return Regs{}, stepError
	}

	cfaBase, ok := regValue(cur, state.cfa.register)
	if !ok {
		return Regs{}, stepError
	}
	cfa := uint64(int64(cfaBase) + state.cfa.offset)
	if cfa == 0 || cfa <= cur.SP {
		return Regs{}, stepError
	}

	raRule, ok := state.regs[fde.cie.raRegister]
	if !ok {
		return Regs{}, stepEnd
	}
	raAddr := uint64(int64(cfa) + raRule.offset)
	ra, ok := read(raAddr)
	if !ok || ra == 0 {
		return Regs{}, stepError
	}

	next := Regs{Arch: cur.Arch, PC: ra, SP: cfa, valid: true}
	fpName := "bp"
	if cur.Arch == ArchAArch64 {
		fpName = "fp"
	}
	if rule, ok := state.regs[dwarfRegNumber(cur.Arch, fpName)]; ok {
		if v, ok := read(uint64(int64(cfa) + rule.offset)); ok {
			next.FP = v
		}
	}
	return next, stepOK
}

// regValue returns the current value of the DWARF register numbered reg,
// among the small set this package tracks (SP and FP/BP).
func regValue(r Regs, reg uint64) (uint64, bool) {
	if reg == dwarfRegNumber(r.Arch, "sp") {
		return r.SP, true
	}
	if reg == dwarfRegNumber(r.Arch, "fp") || reg == dwarfRegNumber(r.Arch, "bp") {
		return r.FP, true
	}
	return 0, false
}

// IterFrames repeatedly steps from leaf, returning every caller frame it
// can recover (bounded by maxFrames as a runaway guard) and whether the
// walk stopped because of a genuine unwind error (as opposed to simply
// running off the edge of known modules).
func (u *Unwinder) IterFrames(leaf Regs, read StackReader, maxFrames int) (frames []Frame, truncated bool) {
	cur := leaf
	for i := 0; i < maxFrames; i++ {
		next, status := u.step(cur, read)
		switch status {
		case stepOK:
			frames = append(frames, Frame{Kind: KindReturnAddress, Address: next.PC, Mode: ModeUser})
			cur = next
		case stepEnd:
			return frames, false
		case stepError:
			return frames, true
		}
	}
	return frames, false
}
