package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffCPUTrackerOnSampleWhileOn(t *testing.T) {
	var o OffCPUTracker
	_, got := o.OnSample(1000, 100)
	assert.False(t, got)

	_, got = o.OnSample(2000, 100)
	assert.False(t, got)
	assert.Equal(t, uint64(1000), o.ConsumeCPUDelta())
}

func TestOffCPUTrackerSwitchOutThenSample(t *testing.T) {
	var o OffCPUTracker
	o.OnSample(0, 1000)
	o.OnSwitchOut(1000)

	group, got := o.OnSample(5000, 1000)
	assert.True(t, got)
	assert.Equal(t, uint64(1000), group.beginNs)
	assert.Equal(t, uint64(5000), group.endNs)
	assert.Equal(t, 4, group.count)
}

func TestOffCPUTrackerSwitchInMatchesOnSample(t *testing.T) {
	var o OffCPUTracker
	o.OnSample(0, 1000)
	o.OnSwitchOut(2000)

	group, got := o.OnSwitchIn(4000, 1000)
	assert.True(t, got)
	assert.Equal(t, 2, group.count)
}

func TestOffCPUTrackerConsumeResets(t *testing.T) {
	var o OffCPUTracker
	o.OnSample(0, 1000)
	o.OnSample(500, 1000)
	assert.Equal(t, uint64(500), o.ConsumeCPUDelta())
	assert.Equal(t, uint64(0), o.ConsumeCPUDelta())
}
