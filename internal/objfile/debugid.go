package objfile

import (
	"encoding/hex"
	"strings"
)

// DeriveDebugID derives a debug-ID from a build-ID using the scheme the
// Breakpad/Firefox Profiler ecosystem uses: the first 16 bytes of the
// build-ID, with the first three fields byte-swapped to big-endian, hex
// encoded, upper-cased, and suffixed with a generation digit. Matches the
// behavior of the original Rust tool this spec was distilled from
// (original_source/src/main.rs) for any mapping carrying a build-ID.
func DeriveDebugID(buildID []byte) string {
	if len(buildID) == 0 {
		return ""
	}
	b := make([]byte, 16)
	copy(b, buildID)

	// Swap endianness of the first three fields (4+2+2 bytes), matching
	// the Windows-style GUID ordering Breakpad debug IDs use.
	swap := func(lo, hi int) {
		for lo < hi {
			b[lo], b[hi] = b[hi], b[lo]
			lo++
			hi--
		}
	}
	swap(0, 3)
	swap(4, 5)
	swap(6, 7)

	return strings.ToUpper(hex.EncodeToString(b)) + "0"
}
