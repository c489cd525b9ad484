// Package profile implements the output document: a processed-profile
// JSON tree consumable by flamegraph/timeline viewers. It plays the role of
// the "output document serializer" that spec.md treats as an external
// collaborator — no such package exists in the retrieval pack, so it is
// modeled here the way marselester-diy-parca-agent's cmd/profiler3 builds a
// google/pprof profile.Profile: intern tables referencing each other by
// integer index, built incrementally as samples arrive.
package profile

import (
	"encoding/json"
	"os"
)

// Category names used throughout the converter. These are the two
// predeclared categories spec.md §6 requires.
const (
	CategoryUser   = "User"
	CategoryKernel = "Kernel"
)

// Document is the root of the output profile.
type Document struct {
	Meta      Meta           `json:"meta"`
	Processes []*ProcessData `json:"processes"`
}

// Meta carries profile-wide metadata.
type Meta struct {
	Product    string     `json:"product"`
	Categories []Category `json:"categories"`
	// StartTimeMs is always 0: all sample timestamps are already
	// relative to the reference epoch (spec.md §3, invariant 5).
	StartTimeMs float64 `json:"startTime"`
}

// Category is a predeclared sample category with a display color.
type Category struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Lib describes one registered executable mapping (spec.md §3, Library).
type Lib struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	DebugName string `json:"debugName"`
	DebugPath string `json:"debugPath"`
	DebugID   string `json:"debugId"`
	CodeID    string `json:"codeId"`
	AVMAStart uint64 `json:"avmaStart"`
	AVMAEnd   uint64 `json:"avmaEnd"`
}

// ProcessData is one observed pid.
type ProcessData struct {
	PID            int           `json:"pid"`
	Name           string        `json:"name"`
	RegisterTimeMs float64       `json:"registerTime"`
	UnregisterMs   *float64      `json:"unregisterTime"`
	Libs           []*Lib        `json:"libs"`
	Threads        []*ThreadData `json:"threads"`
}

// ThreadData is one observed tid's sample stream.
type ThreadData struct {
	TID            int      `json:"tid"`
	Name           string   `json:"name"`
	IsMainThread   bool     `json:"isMainThread"`
	RegisterTimeMs float64  `json:"registerTime"`
	UnregisterMs   *float64 `json:"unregisterTime"`

	FrameTable []Frame  `json:"frameTable"`
	StackTable []Stack  `json:"stackTable"`
	Samples    []Sample `json:"samples"`

	frameIndex map[frameKey]int
	stackIndex map[stackKey]int
}

// Frame is one interned (address, category, library) triple.
type Frame struct {
	Address  uint64 `json:"address"`
	LibIndex int    `json:"libIndex"` // -1 if not attributable to a library
	Category string `json:"category"`
}

// Stack is one interned (frame, parent stack) pair; Prefix is -1 at the
// root. Frames are linked leaf-to-root via Prefix, mirroring how the
// reconstructor (internal/unwind) builds stacks and how the emitter
// reverses them before interning.
type Stack struct {
	Frame  int `json:"frame"`
	Prefix int `json:"prefix"`
}

// Sample is one emitted sample (on-CPU or synthesized off-CPU).
type Sample struct {
	Stack      int     `json:"stack"` // -1 if the stack was empty
	TimeMs     float64 `json:"time"`
	Weight     int64   `json:"weight"`
	CPUDeltaMs float64 `json:"cpuDeltaMs"`
}

type frameKey struct {
	addr     uint64
	libIndex int
	category string
}

type stackKey struct {
	prefix int
	frame  int
}

// NewDocument creates an empty document with the two predeclared
// categories spec.md §6 names.
func NewDocument(product string) *Document {
	return &Document{
		Meta: Meta{
			Product: product,
			Categories: []Category{
				{Name: CategoryUser, Color: "yellow"},
				{Name: CategoryKernel, Color: "orange"},
			},
		},
	}
}

// SetProduct updates the product string, used once the real process name
// is known (spec.md §4.I, Comm handling).
func (d *Document) SetProduct(product string) {
	d.Meta.Product = product
}

// AddProcess registers a new process, created lazily on first reference
// per spec.md §3/§4.F.
func (d *Document) AddProcess(pid int, name string, registerTimeMs float64) *ProcessData {
	p := &ProcessData{PID: pid, Name: name, RegisterTimeMs: registerTimeMs}
	d.Processes = append(d.Processes, p)
	return p
}

// AddLib attaches a library descriptor to this process.
func (p *ProcessData) AddLib(l *Lib) int {
	p.Libs = append(p.Libs, l)
	return len(p.Libs) - 1
}

// End marks the process as having exited.
func (p *ProcessData) End(tsMs float64) {
	p.UnregisterMs = &tsMs
}

// SetName updates the process's display name, used once a comm record
// names the process that created it.
func (p *ProcessData) SetName(name string) {
	p.Name = name
}

// AddThread registers a new thread of this process.
func (p *ProcessData) AddThread(tid int, isMain bool, registerTimeMs float64) *ThreadData {
	t := &ThreadData{
		TID:            tid,
		IsMainThread:   isMain,
		RegisterTimeMs: registerTimeMs,
		frameIndex:     make(map[frameKey]int),
		stackIndex:     make(map[stackKey]int),
	}
	p.Threads = append(p.Threads, t)
	return t
}

// End marks the thread as having exited or exec'd away.
func (t *ThreadData) End(tsMs float64) {
	t.UnregisterMs = &tsMs
}

// SetName updates the thread's display name.
func (t *ThreadData) SetName(name string) {
	t.Name = name
}

// internFrame returns the index of an interned frame table row, creating
// one if this (address, lib, category) triple hasn't been seen on this
// thread before. Mirrors the locationIndices dedup idiom used by
// marselester-diy-parca-agent's fillProfile.
func (t *ThreadData) internFrame(addr uint64, libIndex int, category string) int {
	k := frameKey{addr, libIndex, category}
	if idx, ok := t.frameIndex[k]; ok {
		return idx
	}
	idx := len(t.FrameTable)
	t.FrameTable = append(t.FrameTable, Frame{Address: addr, LibIndex: libIndex, Category: category})
	t.frameIndex[k] = idx
	return idx
}

func (t *ThreadData) internStack(prefix, frame int) int {
	k := stackKey{prefix, frame}
	if idx, ok := t.stackIndex[k]; ok {
		return idx
	}
	idx := len(t.StackTable)
	t.StackTable = append(t.StackTable, Stack{Frame: frame, Prefix: prefix})
	t.stackIndex[k] = idx
	return idx
}

// StackFrame is the minimal shape AppendSample needs from a
// reconstructed call stack frame — kept decoupled from internal/unwind's
// Frame type so this package has no import-cycle-inducing dependency on
// it.
type StackFrame struct {
	Address  uint64
	LibIndex int // -1 if unknown
	Category string
}

// AppendSample interns frames (given root-to-leaf, as the emitter produces
// after reversing the reconstructed stack) into this thread's frame/stack
// tables and appends one sample row referencing the resulting leaf stack.
func (t *ThreadData) AppendSample(frames []StackFrame, timeMs float64, weight int64, cpuDeltaMs float64) {
	stackIdx := -1
	for _, f := range frames {
		frameIdx := t.internFrame(f.Address, f.LibIndex, f.Category)
		stackIdx = t.internStack(stackIdx, frameIdx)
	}
	t.Samples = append(t.Samples, Sample{
		Stack:      stackIdx,
		TimeMs:     timeMs,
		Weight:     weight,
		CPUDeltaMs: cpuDeltaMs,
	})
}

// FromNanos converts a nanosecond duration or timestamp to the
// milliseconds the output document's conventions use, matching spec.md
// §6's "nanosecond values pass through the document's from_nanos
// constructors".
func FromNanos(ns int64) float64 {
	return float64(ns) / 1e6
}

// WriteFile serializes the document as indented JSON to path.
func (d *Document) WriteFile(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
