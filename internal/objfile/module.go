package objfile

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors from the module loader (spec.md §7).
var (
	// ErrPseudoPath is returned when path is a synthetic mapping (such as
	// "[heap]" or "[vdso]") with no backing file to open; the caller
	// should skip it without registering a module.
	ErrPseudoPath = errors.New("objfile: pseudo-path mapping, nothing to load")
	// ErrBuildIDMismatch indicates the file's build-ID differs from the
	// one the caller expected.
	ErrBuildIDMismatch = errors.New("objfile: build ID mismatch")
	// ErrBuildIDMissing indicates the caller expected a build-ID but the
	// file carries none.
	ErrBuildIDMissing = errors.New("objfile: build ID missing")
	// ErrBiasUndetermined indicates ComputeBias could not place this
	// mapping (spec.md §4.C step 3).
	ErrBiasUndetermined = errors.New("objfile: load bias could not be determined")
)

// SectionRange is a section's extent in SVMA space, as registered on a
// Module (spec.md §3, "per-section SVMA ranges").
type SectionRange struct {
	Start, End uint64
}

// Module is the Library/Module record described by spec.md §3.
type Module struct {
	AVMAStart, AVMAEnd uint64
	Bias               uint64
	BuildID            []byte
	DebugID            string
	CodeID             string
	Path               string
	Name               string

	Text       SectionRange
	EhFrame    SectionRange
	EhFrameHdr SectionRange
	Got        SectionRange
	TextEnv    SectionRange

	TextBytes       []byte
	EhFrameBytes    []byte
	EhFrameHdrBytes []byte
}

// Load implements spec.md §4.D: open (with fallback-directory retry),
// validate the build-ID if one was expected, compute the load bias, and
// collect the unwind-relevant section bytes.
func Load(path string, fileOffset, avma, size uint64, expectBuildID []byte, fallbackDir string) (*Module, error) {
	name := filepath.Base(path)

	f, openErr := os.Open(path)
	if openErr != nil && fallbackDir != "" {
		f, openErr = os.Open(filepath.Join(fallbackDir, name))
	}
	if openErr != nil {
		if strings.HasPrefix(path, "[") {
			return nil, ErrPseudoPath
		}
		return minimalModule(path, name, fileOffset, avma, size, expectBuildID), nil
	}
	f.Close()

	realPath := f.Name()
	obj, err := Open(realPath)
	if err != nil {
		return minimalModule(path, name, fileOffset, avma, size, expectBuildID), nil
	}

	if len(expectBuildID) > 0 {
		if len(obj.BuildID) == 0 {
			return nil, ErrBuildIDMissing
		}
		if !bytesEqual(obj.BuildID, expectBuildID) {
			return nil, ErrBuildIDMismatch
		}
	}

	bias, ok := ComputeBias(obj, fileOffset, avma, size)
	if !ok {
		return nil, ErrBiasUndetermined
	}

	m := &Module{
		AVMAStart: avma,
		AVMAEnd:   avma + size,
		Bias:      bias,
		BuildID:   obj.BuildID,
		Path:      path,
		Name:      name,
	}
	if len(obj.BuildID) > 0 {
		m.CodeID = strings.ToUpper(hex.EncodeToString(obj.BuildID))
		m.DebugID = DeriveDebugID(obj.BuildID)
	}

	m.EhFrameBytes = obj.SectionData(".eh_frame")
	m.EhFrameHdrBytes = obj.SectionData(".eh_frame_hdr")
	m.TextBytes = obj.TextSegmentData()
	if m.TextBytes == nil {
		m.TextBytes = obj.SectionData(".text")
	}
	setRange(&m.Text, obj, ".text")
	setRange(&m.EhFrame, obj, ".eh_frame")
	setRange(&m.EhFrameHdr, obj, ".eh_frame_hdr")
	setRange(&m.Got, obj, ".got")
	setRange(&m.TextEnv, obj, "text_env")

	return m, nil
}

// HasUnwindData reports whether the module has enough eh_frame data for
// the DWARF unwinder, per spec.md §4.D step 7.
func (m *Module) HasUnwindData() bool {
	return len(m.EhFrameBytes) > 0
}

func minimalModule(path, name string, fileOffset, avma, size uint64, expectBuildID []byte) *Module {
	m := &Module{
		AVMAStart: avma,
		AVMAEnd:   avma + size,
		Bias:      avma - fileOffset,
		BuildID:   expectBuildID,
		Path:      path,
		Name:      name,
	}
	if len(expectBuildID) > 0 {
		m.CodeID = strings.ToUpper(hex.EncodeToString(expectBuildID))
		m.DebugID = DeriveDebugID(expectBuildID)
	}
	return m
}

func setRange(r *SectionRange, obj *Object, name string) {
	for _, s := range obj.Sections {
		if s.Name == name {
			r.Start = s.SVMA
			r.End = s.SVMA + s.FileSize
			return
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DebugPathGuess implements spec.md §4.I's kernel mmap handling: when the
// mmap'd path is the synthetic kallsyms placeholder, guess the debug path
// conventionally used for a matching vmlinux.
func DebugPathGuess(path, release string) string {
	if path == "[kernel.kallsyms]" || path == "[kernel.kallsyms]_text" {
		return fmt.Sprintf("/usr/lib/debug/boot/vmlinux-%s", release)
	}
	return ""
}
