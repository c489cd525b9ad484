package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangesGet(t *testing.T) {
	var r ranges
	r.add(0x1000, 0x2000, 0)
	r.add(0x3000, 0x4000, 1)

	idx, ok := r.get(0x1500)
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, ok = r.get(0x3abc)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = r.get(0x2500)
	assert.False(t, ok)

	// half-open: hi is excluded
	_, ok = r.get(0x2000)
	assert.False(t, ok)
}

func TestRangesEmpty(t *testing.T) {
	var r ranges
	_, ok := r.get(0x1234)
	assert.False(t, ok)
}
