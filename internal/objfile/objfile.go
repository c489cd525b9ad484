// Package objfile opens and parses the ELF or Mach-O executable images
// named by mmap records, computes the load bias described in spec.md
// §4.C, and assembles the per-mapping library descriptor spec.md §4.D
// describes. It plays the role of the "ELF object parser" spec.md treats
// as an external collaborator: the teacher (perfsession/symbolize.go)
// already parses ELF directly with debug/elf rather than a third-party
// library, and this package follows that precedent, adding debug/macho
// for the Mach-O fallback spec.md names.
package objfile

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Kind identifies the object file format backing an Object.
type Kind int

const (
	KindELF Kind = iota
	KindMachO
)

// Section is a section-like region of an object file, used uniformly for
// ELF sections and Mach-O sections.
type Section struct {
	Name       string
	FileOffset uint64
	FileSize   uint64
	SVMA       uint64
	Executable bool
}

// Segment is a loadable segment, used for the program-header bias
// fallback in spec.md §4.C step 2.
type Segment struct {
	FileOffset uint64
	FileSize   uint64
	SVMA       uint64
	Executable bool
}

// Object is a parsed ELF or Mach-O executable image. It owns no external
// resources — by the time one is returned from Open, the backing mmap has
// already been released and every byte slice it returns is a copy, per
// spec.md §5's resource discipline.
type Object struct {
	Kind     Kind
	Sections []Section
	Segments []Segment
	BuildID  []byte // nil if absent or not ELF

	data []byte // owned copy of the whole file, for section data access
	elf  *elf.File
}

// Open reads path, maps it read-only, parses it as ELF or Mach-O, copies
// out everything this package needs, and unmaps it before returning.
func Open(path string) (*Object, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size == 0 {
		return nil, fmt.Errorf("objfile: %s is empty", path)
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("objfile: mmap %s: %w", path, err)
	}
	// Copy into an owned buffer immediately; the mapping is released
	// before this function returns so nothing downstream can outlive it.
	owned := make([]byte, len(mapped))
	copy(owned, mapped)
	if err := unix.Munmap(mapped); err != nil {
		return nil, fmt.Errorf("objfile: munmap %s: %w", path, err)
	}

	return parse(owned)
}

func parse(data []byte) (*Object, error) {
	r := bytes.NewReader(data)

	if ef, err := elf.NewFile(r); err == nil {
		return parseELF(data, ef)
	}
	if mf, err := macho.NewFile(r); err == nil {
		return parseMachO(data, mf)
	}
	return nil, fmt.Errorf("objfile: unrecognized object format (not ELF or Mach-O)")
}

func parseELF(data []byte, ef *elf.File) (*Object, error) {
	obj := &Object{Kind: KindELF, data: data, elf: ef}
	for _, s := range ef.Sections {
		if s.Type == elf.SHT_NOBITS {
			continue // no file backing (e.g. .bss)
		}
		obj.Sections = append(obj.Sections, Section{
			Name:       s.Name,
			FileOffset: s.Offset,
			FileSize:   s.Size,
			SVMA:       s.Addr,
			Executable: s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		obj.Segments = append(obj.Segments, Segment{
			FileOffset: p.Off,
			FileSize:   p.Filesz,
			SVMA:       p.Vaddr,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}

	buildID, err := elfBuildID(ef)
	if err == nil {
		obj.BuildID = buildID
	}
	return obj, nil
}

func parseMachO(data []byte, mf *macho.File) (*Object, error) {
	obj := &Object{Kind: KindMachO, data: data}
	for _, s := range mf.Sections {
		obj.Sections = append(obj.Sections, Section{
			Name:       s.Name,
			FileOffset: uint64(s.Offset),
			FileSize:   s.Size,
			SVMA:       s.Addr,
			Executable: true, // Mach-O's __TEXT sections are always executable in practice here
		})
	}
	for _, l := range mf.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok {
			continue
		}
		obj.Segments = append(obj.Segments, Segment{
			FileOffset: seg.Offset,
			FileSize:   seg.Filesz,
			SVMA:       seg.Addr,
			Executable: seg.Name == "__TEXT",
		})
	}
	return obj, nil
}

// SectionData returns an owned copy of the named section's bytes, or nil
// if the section doesn't exist.
func (o *Object) SectionData(name string) []byte {
	for _, s := range o.Sections {
		if s.Name == name {
			if s.FileOffset+s.FileSize > uint64(len(o.data)) {
				return nil
			}
			out := make([]byte, s.FileSize)
			copy(out, o.data[s.FileOffset:s.FileOffset+s.FileSize])
			return out
		}
	}
	return nil
}

// TextSegmentData returns the bytes of the Mach-O __TEXT segment when
// present, per spec.md §4.D step 6 ("prefer a Mach-O __TEXT segment if
// present when sourcing text bytes").
func (o *Object) TextSegmentData() []byte {
	if o.Kind != KindMachO {
		return nil
	}
	for _, s := range o.Segments {
		if s.Executable {
			if s.FileOffset+s.FileSize > uint64(len(o.data)) {
				return nil
			}
			out := make([]byte, s.FileSize)
			copy(out, o.data[s.FileOffset:s.FileOffset+s.FileSize])
			return out
		}
	}
	return nil
}
