package objfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeBiasFromSection(t *testing.T) {
	obj := &Object{
		Kind: KindELF,
		Sections: []Section{
			{Name: ".text", FileOffset: 0x1000, FileSize: 0x500, SVMA: 0x400000, Executable: true},
		},
	}
	// mapping covers file range [0x1000, 0x2000) at avma 0x7f0000000000
	bias, ok := ComputeBias(obj, 0x1000, 0x7f0000000000, 0x1000)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x7f0000000000-0x400000), bias)
}

func TestComputeBiasFallsBackToSegment(t *testing.T) {
	obj := &Object{
		Kind: KindELF,
		Segments: []Segment{
			{FileOffset: 0x0, FileSize: 0x2000, SVMA: 0x0, Executable: true},
		},
	}
	bias, ok := ComputeBias(obj, 0x0, 0x555000000000, 0x2000)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x555000000000), bias)
}

func TestComputeBiasUndeterminedForMachO(t *testing.T) {
	obj := &Object{Kind: KindMachO}
	_, ok := ComputeBias(obj, 0x1000, 0x7f0000000000, 0x1000)
	assert.False(t, ok)
}

func TestComputeBiasSegmentMidwayOffset(t *testing.T) {
	obj := &Object{
		Kind: KindELF,
		Segments: []Segment{
			{FileOffset: 0x0, FileSize: 0x3000, SVMA: 0x1000, Executable: true},
		},
	}
	// mapping starts mid-segment, at file offset 0x2000
	bias, ok := ComputeBias(obj, 0x2000, 0x7f0000001000, 0x1000)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x7f0000001000-0x3000), bias)
}
