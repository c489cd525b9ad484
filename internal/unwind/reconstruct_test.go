package unwind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructCallchainOnly(t *testing.T) {
	callchain := []uint64{ContextUser, 0x1000, 0x2000, 0x3000}
	frames := Reconstruct(ModeKernel, callchain, Regs{}, nil, nil)

	require.Len(t, frames, 3)
	assert.Equal(t, KindInstructionPointer, frames[0].Kind)
	assert.Equal(t, uint64(0x1000), frames[0].Address)
	assert.Equal(t, ModeUser, frames[0].Mode)
	assert.Equal(t, KindReturnAddress, frames[1].Kind)
	assert.Equal(t, KindReturnAddress, frames[2].Kind)
}

func TestReconstructMixedKernelUser(t *testing.T) {
	callchain := []uint64{ContextKernel, 0xff00, ContextUser, 0x1000}
	frames := Reconstruct(ModeKernel, callchain, Regs{}, nil, nil)

	require.Len(t, frames, 2)
	assert.Equal(t, ModeKernel, frames[0].Mode)
	assert.Equal(t, ModeUser, frames[1].Mode)
}

func TestReconstructEmptyCallchainSeedsFromRegs(t *testing.T) {
	regs := DecodeRegs(ArchX86_64, 1<<regX86IP|1<<regX86SP, []uint64{0x7fff0000, 0xdead})

	frames := Reconstruct(ModeUser, nil, regs, nil, nil)
	require.Len(t, frames, 1)
	assert.Equal(t, KindInstructionPointer, frames[0].Kind)
	assert.Equal(t, uint64(0xdead), frames[0].Address)
}

func TestReconstructNoRegsNoCallchainIsEmpty(t *testing.T) {
	frames := Reconstruct(ModeUser, nil, Regs{}, nil, nil)
	assert.Empty(t, frames)
}

func TestReconstructUnrecognizedSentinelSkipped(t *testing.T) {
	callchain := []uint64{ContextHV, 0x1000}
	frames := Reconstruct(ModeUser, callchain, Regs{}, nil, nil)
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(0x1000), frames[0].Address)
}

func TestReconstructNoUnwinderStopsAfterCallchain(t *testing.T) {
	// Without an unwinder/reader, a trailing user-mode frame does not
	// attempt to continue unwinding even if regs happen to be valid,
	// since unwinder is nil.
	regs := DecodeRegs(ArchX86_64, 1<<regX86IP|1<<regX86SP, []uint64{0x7000, 0x1000})
	callchain := []uint64{ContextUser, 0x1000}
	frames := Reconstruct(ModeKernel, callchain, regs, nil, nil)
	require.Len(t, frames, 1)
}
