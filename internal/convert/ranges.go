package convert

import "sort"

// ranges maps AVMA addresses to library-table indices. It is a
// specialization of perfsession.Ranges (sort-on-demand binary search over
// half-open [lo,hi) intervals) to the one payload this converter ever
// needs: which of a process's profile.Lib rows an address falls under.
type ranges struct {
	rs     []rangeEnt
	sorted bool
}

type rangeEnt struct {
	lo, hi   uint64
	libIndex int
}

func (r *ranges) add(lo, hi uint64, libIndex int) {
	r.rs = append(r.rs, rangeEnt{lo, hi, libIndex})
	r.sorted = false
}

func (r *ranges) get(addr uint64) (libIndex int, ok bool) {
	if r == nil || len(r.rs) == 0 {
		return -1, false
	}
	if !r.sorted {
		sort.Slice(r.rs, func(i, j int) bool { return r.rs[i].lo < r.rs[j].lo })
		r.sorted = true
	}
	i := sort.Search(len(r.rs), func(i int) bool { return addr < r.rs[i].hi })
	if i < len(r.rs) && r.rs[i].lo <= addr && addr < r.rs[i].hi {
		return r.rs[i].libIndex, true
	}
	return -1, false
}
