package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArchFromString(t *testing.T) {
	assert.Equal(t, ArchX86_64, ArchFromString("x86_64"))
	assert.Equal(t, ArchAArch64, ArchFromString("aarch64"))
	assert.Equal(t, ArchAArch64, ArchFromString("arm64"))
	assert.Equal(t, ArchX86_64, ArchFromString("mips"))
	assert.Equal(t, ArchX86_64, ArchFromString(""))
}

func TestDecodeRegsX86_64(t *testing.T) {
	// mask requests bits 6 (bp), 7 (sp), 8 (ip), in ascending order the
	// dense array holds bp, sp, ip.
	mask := uint64(1<<regX86BP | 1<<regX86SP | 1<<regX86IP)
	dense := []uint64{0xbbbb, 0x5555, 0xcccc}

	r := DecodeRegs(ArchX86_64, mask, dense)
	assert.True(t, r.Valid())
	assert.Equal(t, uint64(0xcccc), r.PC)
	assert.Equal(t, uint64(0x5555), r.SP)
	assert.Equal(t, uint64(0xbbbb), r.FP)
}

func TestDecodeRegsMissingSPIsInvalid(t *testing.T) {
	mask := uint64(1 << regX86IP)
	dense := []uint64{0xcccc}

	r := DecodeRegs(ArchX86_64, mask, dense)
	assert.False(t, r.Valid())
}

func TestDecodeRegsAArch64(t *testing.T) {
	mask := uint64(1<<regARM64SP | 1<<regARM64PC)
	dense := []uint64{0x1000, 0x2000}

	r := DecodeRegs(ArchAArch64, mask, dense)
	assert.True(t, r.Valid())
	assert.Equal(t, uint64(0x1000), r.SP)
	assert.Equal(t, uint64(0x2000), r.PC)
}
