package objfile

// ComputeBias implements spec.md §4.C: given a parsed object and the
// (file_offset, avma, size) triple of the mapping that loaded it, return
// the AVMA corresponding to SVMA 0 (the "load bias"), or ok=false if it
// cannot be determined.
func ComputeBias(obj *Object, fileOffset, avma, size uint64) (bias uint64, ok bool) {
	mappingEnd := fileOffset + size

	// Step 1: an executable section fully contained in the mapping's
	// file range.
	for _, s := range obj.Sections {
		if !s.Executable {
			continue
		}
		if s.FileOffset >= fileOffset && s.FileOffset+s.FileSize <= mappingEnd {
			return avma + (s.FileOffset - fileOffset) - s.SVMA, true
		}
	}

	// Step 2: fall back to loadable, executable segments (program
	// headers). Only ELF objects have these in the sense spec.md means.
	if obj.Kind != KindELF {
		return 0, false
	}
	for _, seg := range obj.Segments {
		if !seg.Executable {
			continue
		}
		segEnd := seg.FileOffset + seg.FileSize
		if seg.FileOffset == fileOffset {
			return avma - seg.SVMA, true
		}
		if fileOffset >= seg.FileOffset && fileOffset < segEnd {
			return avma - (seg.SVMA + (fileOffset - seg.FileOffset)), true
		}
	}

	return 0, false
}
