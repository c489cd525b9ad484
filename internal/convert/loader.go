package convert

import (
	"path/filepath"

	"github.com/perf-conv/perf-conv/internal/objfile"
	"github.com/perf-conv/perf-conv/perffile"
)

// ModuleLoader is the Module Loader (spec.md §4.D) wired to a single
// conversion run: the directory the input file lives in, used as the
// fallback search directory for mappings whose original path no longer
// resolves, and the kernel release string mmap handling needs to guess a
// vmlinux debug path.
type ModuleLoader struct {
	fallbackDir string
	release     string
}

// NewModuleLoader returns a loader for converting inputPath, which
// falls back to searching inputPath's directory for a library when its
// recorded path can't be opened (spec.md §4.D step 1).
func NewModuleLoader(inputPath, release string) *ModuleLoader {
	return &ModuleLoader{fallbackDir: filepath.Dir(inputPath), release: release}
}

// LoadUser loads the module backing a userspace mmap record. Returns
// objfile.ErrPseudoPath for synthetic mappings ("[heap]", "[vdso]",
// anonymous), which the caller should skip without error.
func (l *ModuleLoader) LoadUser(rec *perffile.RecordMmap) (*objfile.Module, error) {
	return objfile.Load(rec.Filename, rec.FileOffset, rec.Addr, rec.Len, rec.BuildID, l.fallbackDir)
}

// LoadKernel loads the module backing a kernel mmap record, substituting
// the conventional vmlinux debug path when the recorded path is the
// "[kernel.kallsyms]" placeholder (spec.md §4.I).
func (l *ModuleLoader) LoadKernel(rec *perffile.RecordMmap) (*objfile.Module, error) {
	path := rec.Filename
	if guess := objfile.DebugPathGuess(path, l.release); guess != "" {
		path = guess
	}
	return objfile.Load(path, rec.FileOffset, rec.Addr, rec.Len, rec.BuildID, l.fallbackDir)
}
