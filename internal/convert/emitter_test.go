package convert

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-conv/perf-conv/internal/profile"
	"github.com/perf-conv/perf-conv/internal/unwind"
	"github.com/perf-conv/perf-conv/perffile"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestConverter builds a Converter without going through Convert/a
// real perf.data file, for testing the record handlers directly against
// hand-built records.
func newTestConverter(mainEvent, schedEvent *perffile.EventAttr) *Converter {
	doc := profile.NewDocument("perf-conv")
	epoch := NewEpoch(0)
	return &Converter{
		doc:      doc,
		registry: NewRegistry(doc, epoch, discardLogger()),
		interp: &Interpretation{
			MainEvent:        mainEvent,
			SchedSwitchEvent: schedEvent,
			OffCPUIntervalNs: 1_000_000,
			OffCPUWeight:     1,
		},
		epoch:       epoch,
		arch:        unwind.ArchX86_64,
		logger:      discardLogger(),
		hostname:    "host",
		perfVersion: "5.4",
	}
}

func sampleFmt() perffile.SampleFormat {
	return perffile.SampleFormatTID | perffile.SampleFormatTime |
		perffile.SampleFormatIP | perffile.SampleFormatCallchain | perffile.SampleFormatPeriod
}

func firstStackFrames(t *testing.T, thr *profile.ThreadData, sampleIdx int) []profile.Frame {
	t.Helper()
	require.Greater(t, len(thr.Samples), sampleIdx)
	stackIdx := thr.Samples[sampleIdx].Stack
	var frames []profile.Frame
	for stackIdx != -1 {
		row := thr.StackTable[stackIdx]
		frames = append([]profile.Frame{thr.FrameTable[row.Frame]}, frames...)
		stackIdx = row.Prefix
	}
	return frames
}

// S1 — single-thread time-based sampling.
func TestHandleSampleTimeBased(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	c := newTestConverter(main, nil)

	first := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 7, TID: 7, Time: 1_000_000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0xA,
		Callchain:    []uint64{0xA, 0xB},
		Period:       1_000_000,
	}
	second := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 7, TID: 7, Time: 2_000_000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0xC,
		Callchain:    []uint64{0xC},
		Period:       1_000_000,
	}

	require.NoError(t, c.dispatchSample(first))
	require.NoError(t, c.dispatchSample(second))

	proc := c.doc.Processes[0]
	thr := proc.Threads[0]
	require.Len(t, thr.Samples, 2)

	frames0 := firstStackFrames(t, thr, 0)
	require.Len(t, frames0, 2)
	assert.Equal(t, uint64(0xB), frames0[0].Address)
	assert.Equal(t, uint64(0xA), frames0[1].Address)

	frames1 := firstStackFrames(t, thr, 1)
	require.Len(t, frames1, 1)
	assert.Equal(t, uint64(0xC), frames1[0].Address)
	assert.Equal(t, 1.0, thr.Samples[1].CPUDeltaMs)
}

// S2 — kernel/user transition in callchain.
func TestHandleSampleKernelUserTransition(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	c := newTestConverter(main, nil)

	rec := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 1, TID: 1, Time: 1000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0x1000,
		Callchain:    []uint64{0x1000, unwind.ContextKernel, 0xFFFF0001, unwind.ContextUser, 0x2000},
		Period:       1000,
	}
	require.NoError(t, c.dispatchSample(rec))

	thr := c.doc.Processes[0].Threads[0]
	frames := firstStackFrames(t, thr, 0)
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(0x2000), frames[0].Address)
	assert.Equal(t, profile.CategoryUser, frames[0].Category)
	assert.Equal(t, uint64(0xFFFF0001), frames[1].Address)
	assert.Equal(t, profile.CategoryKernel, frames[1].Category)
	assert.Equal(t, uint64(0x1000), frames[2].Address)
	assert.Equal(t, profile.CategoryUser, frames[2].Category)
}

// S3 — duplicate sample.
func TestHandleSampleDuplicateSuppressed(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	c := newTestConverter(main, nil)

	rec := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 7, TID: 7, Time: 1_000_000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0xA,
	}
	require.NoError(t, c.dispatchSample(rec))
	require.NoError(t, c.dispatchSample(rec))

	thr := c.doc.Processes[0].Threads[0]
	assert.Len(t, thr.Samples, 1)
}

// S4 — off-CPU interval.
func TestHandleSwitchThenSampleEmitsOffCPUGroup(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	c := newTestConverter(main, nil)
	c.interp.OffCPUIntervalNs = 1_000_000

	// establish the thread with an on-CPU sample so a saved stack exists.
	seed := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 7, TID: 7, Time: 1},
		CPUMode:      perffile.CPUModeUser,
		IP:           0xA,
	}
	require.NoError(t, c.dispatchSample(seed))

	require.NoError(t, c.handleSwitch(true, &perffile.RecordCommon{TID: 7, Time: 10_000_000}))

	sample := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 7, TID: 7, Time: 13_500_000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0xB,
	}
	require.NoError(t, c.dispatchSample(sample))

	thr := c.doc.Processes[0].Threads[0]
	// seed sample, two off-CPU emissions (begin + end), then the on-CPU sample.
	require.Len(t, thr.Samples, 4)
	assert.Equal(t, int64(1), thr.Samples[1].Weight)
	assert.Equal(t, int64(2), thr.Samples[2].Weight)
	assert.Equal(t, 0.0, thr.Samples[2].CPUDeltaMs)
}

// Finding 3 — a sample attributed to the sched-switch event only updates
// the saved off-CPU stack and never reaches the on-CPU sample stream.
func TestDispatchSampleRoutesSchedSwitchToStackCaptureOnly(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	sched := &perffile.EventAttr{Event: perffile.EventTracepoint(1)}
	c := newTestConverter(main, sched)

	rec := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: sched, PID: 9, TID: 9, Time: 5000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0x42,
		Callchain:    []uint64{0x42},
	}
	require.NoError(t, c.dispatchSample(rec))

	thr, ok := c.registry.LookupThread(9)
	require.True(t, ok)
	assert.Empty(t, thr.Handle.Samples)
	require.Len(t, thr.SavedOffCPUStack, 1)
	assert.Equal(t, uint64(0x42), thr.SavedOffCPUStack[0].Address)
}

// A sample attributed to neither the main nor the sched-switch event is
// dropped without touching the registry.
func TestDispatchSampleDropsUnknownAttr(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	other := &perffile.EventAttr{Event: perffile.EventTracepoint(2)}
	c := newTestConverter(main, nil)

	rec := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: other, PID: 3, TID: 3, Time: 1},
	}
	require.NoError(t, c.dispatchSample(rec))
	assert.Empty(t, c.doc.Processes)
}
