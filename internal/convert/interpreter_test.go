package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perf-conv/perf-conv/perffile"
)

func TestMmapIsExecutableMmap2UsesProt(t *testing.T) {
	exec := &perffile.RecordMmap{Prot: 0x5} // PROT_READ|PROT_EXEC
	assert.True(t, mmapIsExecutable(exec))

	data := &perffile.RecordMmap{Prot: 0x3} // PROT_READ|PROT_WRITE, no exec
	assert.False(t, mmapIsExecutable(data))
}

func TestMmapIsExecutableV1FallsBackToDataFlag(t *testing.T) {
	// v1 PERF_RECORD_MMAP never carries protection bits; Prot stays zero.
	code := &perffile.RecordMmap{Prot: 0, Data: false}
	assert.True(t, mmapIsExecutable(code))

	data := &perffile.RecordMmap{Prot: 0, Data: true}
	assert.False(t, mmapIsExecutable(data))
}

// S5 — exec rename: the first "perf-exec" comm never sets the product
// string; the real name that follows ends the prior process/thread,
// recreates them, and sets the product string exactly once.
func TestHandleCommExecEndsRecreatesAndSetsProductOnce(t *testing.T) {
	c := newTestConverter(&perffile.EventAttr{}, nil)

	placeholder := &perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 4, TID: 4, Time: 0},
		Exec:         true,
		Comm:         "perf-exec",
	}
	require.NoError(t, c.handleComm(placeholder))
	assert.False(t, c.haveProduct)
	assert.Equal(t, "perf-conv", c.doc.Meta.Product)

	real := &perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 4, TID: 4, Time: 5},
		Exec:         true,
		Comm:         "ls",
	}
	require.NoError(t, c.handleComm(real))

	assert.True(t, c.haveProduct)
	assert.Equal(t, "ls on host (perf version 5.4)", c.doc.Meta.Product)

	require.Len(t, c.doc.Processes, 2)
	assert.Equal(t, "perf-exec", c.doc.Processes[0].Name)
	require.NotNil(t, c.doc.Processes[0].UnregisterMs)

	assert.Equal(t, "ls", c.doc.Processes[1].Name)
	assert.Nil(t, c.doc.Processes[1].UnregisterMs)
	require.Len(t, c.doc.Processes[1].Threads, 1)
	assert.Equal(t, "ls", c.doc.Processes[1].Threads[0].Name)

	// a later, non-exec rename only renames in place; no new process.
	rename := &perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 4, TID: 4, Time: 9},
		Comm:         "ls-renamed",
	}
	require.NoError(t, c.handleComm(rename))
	require.Len(t, c.doc.Processes, 2)
	assert.Equal(t, "ls-renamed", c.doc.Processes[1].Name)
}

// An exec'd Comm record with no timestamp of its own falls back to the
// last seen sample timestamp.
func TestHandleCommExecFallsBackToLastSampleTime(t *testing.T) {
	main := &perffile.EventAttr{Event: perffile.EventSoftware(perffile.EventSoftwareCPUClock)}
	c := newTestConverter(main, nil)

	start := &perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 4, TID: 4, Time: 1},
		Exec:         true,
		Comm:         "perf-exec",
	}
	require.NoError(t, c.handleComm(start))

	sample := &perffile.RecordSample{
		RecordCommon: perffile.RecordCommon{Format: sampleFmt(), EventAttr: main, PID: 4, TID: 4, Time: 7_000_000},
		CPUMode:      perffile.CPUModeUser,
		IP:           0x1,
	}
	require.NoError(t, c.dispatchSample(sample))

	noTimestamp := &perffile.RecordComm{
		RecordCommon: perffile.RecordCommon{PID: 4, TID: 4, Time: 0},
		Exec:         true,
		Comm:         "ls",
	}
	require.NoError(t, c.handleComm(noTimestamp))

	require.Len(t, c.doc.Processes, 2)
	require.NotNil(t, c.doc.Processes[0].UnregisterMs)
	assert.Equal(t, 7.0, *c.doc.Processes[0].UnregisterMs)
}

// A plain (non-execve) Comm for a non-leader tid only renames the
// thread, leaving the owning process's name untouched.
func TestHandleCommNonMainThreadDoesNotRenameProcess(t *testing.T) {
	c := newTestConverter(&perffile.EventAttr{}, nil)

	leader := &perffile.RecordComm{RecordCommon: perffile.RecordCommon{PID: 1, TID: 1, Time: 0}, Comm: "proc"}
	require.NoError(t, c.handleComm(leader))

	worker := &perffile.RecordComm{RecordCommon: perffile.RecordCommon{PID: 1, TID: 2, Time: 0}, Comm: "worker"}
	require.NoError(t, c.handleComm(worker))

	proc := c.doc.Processes[0]
	assert.Equal(t, "proc", proc.Name)
	require.Len(t, proc.Threads, 2)
	assert.Equal(t, "worker", proc.Threads[1].Name)
}
