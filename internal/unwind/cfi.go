package unwind

import (
	"encoding/binary"
	"errors"
)

// ErrUnwind is the sentinel §7 "UnwindError" condition: the call-frame
// information for a PC could not be found or evaluated. Reconstruct
// treats it as "append a truncation marker and stop" (spec.md §4.G step 3).
var ErrUnwind = errors.New("unwind: call frame information exhausted")

// cie is a parsed Common Information Entry.
type cie struct {
	codeAlign    uint64
	dataAlign    int64
	raRegister   uint64
	fdeEncoding  byte // pointer encoding for FDE initial_location/range
	hasAug       bool
	instructions []byte
}

// fde is a parsed Frame Description Entry covering [pcStart, pcStart+pcRange).
type fde struct {
	pcStart, pcRange uint64
	cie              *cie
	instructions     []byte
}

// cfiTable is a parsed .eh_frame section, ready to answer CFA/register
// queries for a given PC.
type cfiTable struct {
	fdes []fde
}

const (
	dwEHPEAbsptr  = 0x00
	dwEHPEOmit    = 0xff
	dwEHPEFormat  = 0x0f
	dwEHPEAppMask = 0xf0
	dwEHPEPCRel   = 0x10
)

// parseCFI parses a raw .eh_frame section into a lookup table. The
// sectionSVMA is the SVMA of byte 0 of data, needed to resolve pc-relative
// pointer encodings (the common case GCC emits on Linux).
func parseCFI(data []byte, sectionSVMA uint64) *cfiTable {
	t := &cfiTable{}
	cies := map[int]*cie{}

	off := 0
	for off+4 <= len(data) {
		start := off
		length := binary.LittleEndian.Uint32(data[off:])
		off += 4
		if length == 0 {
			break // terminator
		}
		if length == 0xffffffff || off+int(length) > len(data) {
			break // 64-bit DWARF format or truncated record: not supported
		}
		recEnd := off + int(length)
		idOff := off
		id := binary.LittleEndian.Uint32(data[off:])
		off += 4

		if id == 0 {
			c := parseCIE(data[off:recEnd])
			if c != nil {
				cies[start] = c
			}
		} else {
			cieStart := idOff - int(id)
			c, ok := cies[cieStart]
			if !ok {
				off = recEnd
				continue
			}
			f := parseFDE(data[off:recEnd], c, sectionSVMA+uint64(off))
			if f != nil {
				t.fdes = append(t.fdes, *f)
			}
		}
		off = recEnd
	}
	return t
}

func parseCIE(b []byte) *cie {
	if len(b) < 1 {
		return nil
	}
	version := b[0]
	b = b[1:]

	nul := indexByte(b, 0)
	if nul < 0 {
		return nil
	}
	aug := string(b[:nul])
	b = b[nul+1:]

	if version >= 4 {
		// address_size, segment_selector_size
		if len(b) < 2 {
			return nil
		}
		b = b[2:]
	}

	codeAlign, n := uleb128(b)
	b = b[n:]
	dataAlign, n := sleb128(b)
	b = b[n:]

	var raReg uint64
	if version == 1 {
		if len(b) < 1 {
			return nil
		}
		raReg = uint64(b[0])
		b = b[1:]
	} else {
		raReg, n = uleb128(b)
		b = b[n:]
	}

	c := &cie{codeAlign: codeAlign, dataAlign: dataAlign, raRegister: raReg, fdeEncoding: dwEHPEAbsptr}

	if len(aug) > 0 && aug[0] == 'z' {
		c.hasAug = true
		augLen, n := uleb128(b)
		b = b[n:]
		if uint64(len(b)) < augLen {
			return nil
		}
		augData := b[:augLen]
		b = b[augLen:]

		for _, ch := range aug[1:] {
			switch ch {
			case 'R':
				if len(augData) < 1 {
					return nil
				}
				c.fdeEncoding = augData[0]
				augData = augData[1:]
			case 'L':
				if len(augData) < 1 {
					return nil
				}
				augData = augData[1:]
			case 'P':
				if len(augData) < 1 {
					return nil
				}
				enc := augData[0]
				augData = augData[1:]
				sz := encodedSize(enc)
				if sz < 0 || len(augData) < sz {
					return nil
				}
				augData = augData[sz:]
			case 'S':
				// signal frame, no payload
			}
		}
	}

	c.instructions = b
	return c
}

func parseFDE(b []byte, c *cie, fieldSVMA uint64) *fde {
	pcStart, n, ok := readEncodedPointer(b, c.fdeEncoding, fieldSVMA)
	if !ok {
		return nil
	}
	b = b[n:]
	fieldSVMA += uint64(n)

	// address_range uses the same encoding's size, but is never
	// pc-relative (it's a length).
	rangeEnc := c.fdeEncoding &^ dwEHPEAppMask
	pcRange, n, ok := readEncodedPointer(b, rangeEnc, 0)
	if !ok {
		return nil
	}
	b = b[n:]

	if c.hasAug {
		augLen, n := uleb128(b)
		b = b[n:]
		if uint64(len(b)) < augLen {
			return nil
		}
		b = b[augLen:]
	}

	return &fde{pcStart: pcStart, pcRange: pcRange, cie: c, instructions: b}
}

func encodedSize(enc byte) int {
	switch enc & dwEHPEFormat {
	case 0x00, 0x08: // absptr / udata8... 0x00 is pointer-size, treat as 8
		return 8
	case 0x01, 0x09: // uleb128 -- variable, not supported here
		return -1
	case 0x02: // udata2
		return 2
	case 0x03: // udata4
		return 4
	case 0x04: // udata8
		return 8
	case 0x0a: // sleb128 -- variable, not supported here
		return -1
	case 0x0b: // sdata2
		return 2
	case 0x0c: // sdata4
		return 4
	case 0x0d: // sdata8
		return 8
	default:
		return -1
	}
}

func readEncodedPointer(b []byte, enc byte, fieldSVMA uint64) (val uint64, n int, ok bool) {
	if enc == dwEHPEOmit {
		return 0, 0, false
	}
	size := encodedSize(enc)
	if size < 0 || len(b) < size {
		return 0, 0, false
	}
	switch size {
	case 2:
		val = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		val = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		val = binary.LittleEndian.Uint64(b)
	}
	if enc&dwEHPEAppMask == dwEHPEPCRel {
		val += fieldSVMA
	}
	return val, size, true
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// fdeForPC returns the FDE covering svmaPC, or nil.
func (t *cfiTable) fdeForPC(svmaPC uint64) *fde {
	for i := range t.fdes {
		f := &t.fdes[i]
		if svmaPC >= f.pcStart && svmaPC < f.pcStart+f.pcRange {
			return f
		}
	}
	return nil
}

// cfaRule describes how to compute the CFA: register + offset. This
// package only supports register-relative CFA rules (DW_CFA_def_cfa and
// friends); expression-based CFA rules (DW_CFA_def_cfa_expression) are
// unsupported and yield ErrUnwind.
type cfaRule struct {
	register uint64
	offset   int64
}

// regRule says where a register's caller-saved value lives: at
// CFA+offset in memory (the common case) or "unset" (same as caller's,
// not tracked here).
type regRule struct {
	set    bool
	offset int64
}

// evalState is the outcome of running a FDE's instruction stream up to
// a target PC.
type evalState struct {
	cfa  cfaRule
	regs map[uint64]regRule
}

// evaluate runs the CIE's initial instructions followed by the FDE's
// instructions up to (and including) the row covering targetPC, per the
// DWARF CFI bytecode (a small, commonly-emitted subset: advance_loc*,
// def_cfa*, offset, same_value, restore, nop). Anything else aborts with
// ErrUnwind rather than risk silently wrong unwinding.
func (f *fde) evaluate(targetPC uint64) (evalState, error) {
	st := evalState{regs: map[uint64]regRule{}}
	pc := f.pcStart

	run := func(instrs []byte) error {
		i := 0
		for i < len(instrs) {
			op := instrs[i]
			i++
			primary := op & 0xc0
			arg := op & 0x3f

			switch primary {
			case 0x40: // DW_CFA_advance_loc
				pc += uint64(arg) * f.cie.codeAlign
				continue
			case 0x80: // DW_CFA_offset
				reg := uint64(arg)
				off, n := uleb128(instrs[i:])
				i += n
				if pc > targetPC {
					return nil
				}
				st.regs[reg] = regRule{set: true, offset: int64(off) * f.cie.dataAlign}
				continue
			case 0xc0: // DW_CFA_restore
				if pc <= targetPC {
					delete(st.regs, uint64(arg))
				}
				continue
			}

			switch op {
			case 0x00: // DW_CFA_nop
			case 0x01: // DW_CFA_set_loc
				if len(instrs[i:]) < 8 {
					return ErrUnwind
				}
				pc = binary.LittleEndian.Uint64(instrs[i:])
				i += 8
			case 0x02: // DW_CFA_advance_loc1
				if len(instrs[i:]) < 1 {
					return ErrUnwind
				}
				pc += uint64(instrs[i]) * f.cie.codeAlign
				i++
			case 0x03: // DW_CFA_advance_loc2
				if len(instrs[i:]) < 2 {
					return ErrUnwind
				}
				pc += uint64(binary.LittleEndian.Uint16(instrs[i:])) * f.cie.codeAlign
				i += 2
			case 0x04: // DW_CFA_advance_loc4
				if len(instrs[i:]) < 4 {
					return ErrUnwind
				}
				pc += uint64(binary.LittleEndian.Uint32(instrs[i:])) * f.cie.codeAlign
				i += 4
			case 0x0c: // DW_CFA_def_cfa
				reg, n := uleb128(instrs[i:])
				i += n
				off, n := uleb128(instrs[i:])
				i += n
				if pc <= targetPC {
					st.cfa = cfaRule{register: reg, offset: int64(off)}
				}
			case 0x0d: // DW_CFA_def_cfa_register
				reg, n := uleb128(instrs[i:])
				i += n
				if pc <= targetPC {
					st.cfa.register = reg
				}
			case 0x0e: // DW_CFA_def_cfa_offset
				off, n := uleb128(instrs[i:])
				i += n
				if pc <= targetPC {
					st.cfa.offset = int64(off)
				}
			case 0x08: // DW_CFA_same_value
				reg, n := uleb128(instrs[i:])
				i += n
				if pc <= targetPC {
					delete(st.regs, reg)
				}
			default:
				// DW_CFA_def_cfa_expression, DW_CFA_expression,
				// val_offset, register-to-register copies, and other
				// rarely-emitted opcodes are out of scope; bail out
				// rather than guess.
				return ErrUnwind
			}
			if pc > targetPC {
				return nil
			}
		}
		return nil
	}

	if err := run(f.cie.instructions); err != nil {
		return st, err
	}
	if err := run(f.instructions); err != nil {
		return st, err
	}
	return st, nil
}
