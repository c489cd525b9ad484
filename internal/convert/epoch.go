package convert

import "github.com/perf-conv/perf-conv/internal/profile"

// Epoch is the Timestamp Converter (spec.md §4.A): a fixed reference
// captured at construction, against which every later kernel timestamp
// is saturating-subtracted and converted to milliseconds.
type Epoch struct {
	reference uint64
}

// NewEpoch returns an Epoch with the given reference nanosecond
// timestamp (spec.md invariant 5: the first record's timestamp, or 0 if
// unknown).
func NewEpoch(reference uint64) Epoch {
	return Epoch{reference: reference}
}

// Convert maps a kernel monotonic nanosecond timestamp to a
// profile-relative millisecond timestamp: max(0, ktime - reference).
func (e Epoch) Convert(ktimeNs uint64) float64 {
	if ktimeNs <= e.reference {
		return 0
	}
	return profile.FromNanos(int64(ktimeNs - e.reference))
}
