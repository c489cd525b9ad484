package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpochConvert(t *testing.T) {
	e := NewEpoch(1_000_000)
	assert.Equal(t, 0.0, e.Convert(500_000))
	assert.Equal(t, 0.0, e.Convert(1_000_000))
	assert.InDelta(t, 1.0, e.Convert(2_000_000), 1e-9)
}

func TestEpochZeroReference(t *testing.T) {
	e := NewEpoch(0)
	assert.InDelta(t, 5.0, e.Convert(5_000_000), 1e-9)
}
