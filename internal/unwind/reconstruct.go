package unwind

// MaxUnwindFrames bounds how many DWARF-unwound frames Reconstruct will
// append beyond the kernel-supplied callchain, as a runaway guard against
// malformed call-frame information looping on itself.
const MaxUnwindFrames = 256

// Reconstruct implements the Stack Reconstructor (spec.md §4.G): it
// merges the kernel-provided callchain with DWARF call-frame unwinding
// over a captured user stack into one leaf-to-root frame list.
//
//  1. mode starts at sampleMode (the CPU mode the sample itself was taken
//     in).
//  2. Each callchain word is either a PERF_CONTEXT_* marker, which
//     updates mode and is never itself appended as a frame, or an
//     address, appended as InstructionPointer for the very first address
//     seen and ReturnAddress afterward.
//  3. If the callchain's last frame was captured in user mode and a
//     usable register bank plus stack reader are available, DWARF-unwind
//     further starting from that register state, appending ReturnAddress
//     frames until the unwinder can't continue. A genuine unwind error
//     (as opposed to simply running off the edge of known modules) is
//     marked with a trailing Truncated frame.
//  4. If the callchain was empty but a register bank is available,
//     unwinding starts from the register bank's PC as the leaf frame.
func Reconstruct(sampleMode Mode, callchain []uint64, regs Regs, read StackReader, unwinder *Unwinder) []Frame {
	var frames []Frame
	mode := sampleMode

	for _, word := range callchain {
		if newMode, known, isMarker := modeForContext(word); isMarker {
			if known {
				mode = newMode
			}
			continue
		}
		if isContextMarker(word) {
			continue // unrecognized sentinel; skip rather than misreport an address
		}
		kind := KindReturnAddress
		if len(frames) == 0 {
			kind = KindInstructionPointer
		}
		frames = append(frames, Frame{Kind: kind, Address: word, Mode: mode})
	}

	if len(frames) == 0 {
		if !regs.Valid() {
			return frames
		}
		frames = append(frames, Frame{Kind: KindInstructionPointer, Address: regs.PC, Mode: ModeUser})
		mode = ModeUser
	}

	if mode != ModeUser || !regs.Valid() || read == nil || unwinder == nil {
		return frames
	}

	leaf := regs
	leaf.PC = frames[len(frames)-1].Address
	more, truncated := unwinder.IterFrames(leaf, read, MaxUnwindFrames)
	frames = append(frames, more...)
	if truncated {
		frames = append(frames, Frame{Kind: KindTruncated})
	}
	return frames
}
