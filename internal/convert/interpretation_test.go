package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-conv/perf-conv/perffile"
)

func TestNewInterpretationFrequencyBased(t *testing.T) {
	ev := &perffile.EventAttr{
		Event: perffile.EventHardware(0),
		Flags: perffile.EventFlagFreq,
	}
	ev.SampleFreq = 100

	in, err := NewInterpretation([]*perffile.EventAttr{ev})
	require.NoError(t, err)
	assert.True(t, in.IsTimeBased)
	assert.Equal(t, uint64(10_000_000), in.PeriodNs)
	assert.Equal(t, int64(1), in.OffCPUWeight)
	assert.Equal(t, in.PeriodNs, in.OffCPUIntervalNs)
}

func TestNewInterpretationTaskClockIsTimeBased(t *testing.T) {
	ev := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareTaskClock)}
	ev.SamplePeriod = 1_000_000

	in, err := NewInterpretation([]*perffile.EventAttr{ev})
	require.NoError(t, err)
	assert.True(t, in.IsTimeBased)
	assert.Equal(t, uint64(1_000_000), in.PeriodNs)
}

func TestNewInterpretationCountBasedIsNotTimeBased(t *testing.T) {
	ev := &perffile.EventAttr{Event: perffile.EventHardware(perffile.EventHardwareCPUCycles)}
	ev.SamplePeriod = 4_000_000

	in, err := NewInterpretation([]*perffile.EventAttr{ev})
	require.NoError(t, err)
	assert.False(t, in.IsTimeBased)
	assert.Equal(t, int64(0), in.OffCPUWeight)
	assert.Equal(t, uint64(defaultOffCPUIntervalNs), in.OffCPUIntervalNs)
}

func TestNewInterpretationNoSamplingIsUnsupported(t *testing.T) {
	ev := &perffile.EventAttr{Event: perffile.EventHardware(perffile.EventHardwareCPUCycles)}
	_, err := NewInterpretation([]*perffile.EventAttr{ev})
	assert.ErrorIs(t, err, ErrSamplingUnsupported)
}

func TestNewInterpretationNoEventsIsUnsupported(t *testing.T) {
	_, err := NewInterpretation(nil)
	assert.ErrorIs(t, err, ErrSamplingUnsupported)
}

func TestNewInterpretationPicksSchedSwitchOutOfMainEvent(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventHardware(perffile.EventHardwareCPUCycles)}
	main.SamplePeriod = 1000
	sched := &perffile.EventAttr{Event: perffile.EventTracepoint(42)}

	in, err := NewInterpretation([]*perffile.EventAttr{sched, main})
	require.NoError(t, err)
	assert.Same(t, main, in.MainEvent)
	assert.Same(t, sched, in.SchedSwitchEvent)
}
