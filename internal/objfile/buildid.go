package objfile

// GNU build-ID note parsing. Grounded on the technique shown by
// google/pprof's internal/elfexec package (retrieved reference material):
// a build ID is the desc field of a PT_NOTE/SHT_NOTE entry named "GNU"
// with note type NT_GNU_BUILD_ID. Rewritten here against debug/elf's
// higher-level Section/Prog API rather than a bespoke note-stream parser,
// since debug/elf already exposes section/segment Open() readers.

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	noteTypeGNUBuildID = 3
	maxNoteSize        = 1 << 20
)

type elfNote struct {
	name string
	desc []byte
	typ  uint32
}

func elfBuildID(f *elf.File) ([]byte, error) {
	for _, p := range f.Progs {
		if p.Type != elf.PT_NOTE {
			continue
		}
		align := p.Align
		if align == 0 {
			align = 4
		}
		notes, err := parseNotes(p.Open(), int(align), f.ByteOrder)
		if err != nil {
			continue
		}
		if id := findGNUBuildID(notes); id != nil {
			return id, nil
		}
	}
	for _, s := range f.Sections {
		if s.Type != elf.SHT_NOTE {
			continue
		}
		align := s.Addralign
		if align == 0 {
			align = 4
		}
		notes, err := parseNotes(s.Open(), int(align), f.ByteOrder)
		if err != nil {
			continue
		}
		if id := findGNUBuildID(notes); id != nil {
			return id, nil
		}
	}
	return nil, fmt.Errorf("objfile: no build ID note found")
}

func findGNUBuildID(notes []elfNote) []byte {
	for _, n := range notes {
		if n.name == "GNU" && n.typ == noteTypeGNUBuildID {
			return n.desc
		}
	}
	return nil
}

func parseNotes(r io.Reader, alignment int, order binary.ByteOrder) ([]elfNote, error) {
	br := bufio.NewReader(r)
	pad := func(n int) int {
		return ((n + (alignment - 1)) &^ (alignment - 1)) - n
	}

	var notes []elfNote
	for {
		hdr := make([]byte, 12)
		if _, err := io.ReadFull(br, hdr); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		namesz := order.Uint32(hdr[0:4])
		descsz := order.Uint32(hdr[4:8])
		typ := order.Uint32(hdr[8:12])
		if namesz > maxNoteSize || descsz > maxNoteSize {
			return nil, fmt.Errorf("objfile: note too large")
		}

		var name string
		if namesz > 0 {
			raw, err := br.ReadString('\x00')
			if err != nil {
				return nil, err
			}
			name = raw[:len(raw)-1]
			namesz = uint32(len(raw))
		}
		if err := skipBytes(br, pad(12+int(namesz))); err != nil {
			return nil, err
		}

		desc := make([]byte, descsz)
		if _, err := io.ReadFull(br, desc); err != nil {
			return nil, err
		}
		notes = append(notes, elfNote{name: name, desc: desc, typ: typ})

		if err := skipBytes(br, pad(int(descsz))); err != nil {
			break // trailing padding may be truncated at EOF; that's fine
		}
	}
	return notes, nil
}

func skipBytes(r *bufio.Reader, n int) error {
	for ; n > 0; n-- {
		if _, err := r.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}
