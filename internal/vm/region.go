package vm

import "sort"

// region_t is the sorted, non-overlapping list of Vminfo_t areas that
// make up one address space's mapped ranges, generalizing biscuit's
// Vmregion_t from an unordered slice scanned linearly on every lookup to
// one kept sorted by Pgn so Lookup/insert/overlap checks are binary
// searches.
type region_t struct {
	areas []*Vminfo_t
}

// lookup returns the area containing page pgn, if any.
func (r *region_t) lookup(pgn uint64) (*Vminfo_t, bool) {
	i := sort.Search(len(r.areas), func(i int) bool { return r.areas[i].end() > pgn })
	if i < len(r.areas) && r.areas[i].contains(pgn) {
		return r.areas[i], true
	}
	return nil, false
}

// overlaps reports whether [pgn, pgn+pglen) intersects any existing area.
func (r *region_t) overlaps(pgn, pglen uint64) (*Vminfo_t, bool) {
	end := pgn + pglen
	i := sort.Search(len(r.areas), func(i int) bool { return r.areas[i].end() > pgn })
	if i < len(r.areas) && r.areas[i].Pgn < end {
		return r.areas[i], true
	}
	return nil, false
}

// insert adds v in sorted position; callers must have already checked
// overlaps (spec §4.4's "push_area... fails unless fixed semantics
// request replacement").
func (r *region_t) insert(v *Vminfo_t) {
	i := sort.Search(len(r.areas), func(i int) bool { return r.areas[i].Pgn >= v.Pgn })
	r.areas = append(r.areas, nil)
	copy(r.areas[i+1:], r.areas[i:])
	r.areas[i] = v
}

// remove deletes the area at index i.
func (r *region_t) remove(i int) {
	r.areas = append(r.areas[:i], r.areas[i+1:]...)
}

// indexOf returns the slice index of v, or -1.
func (r *region_t) indexOf(v *Vminfo_t) int {
	for i, a := range r.areas {
		if a == v {
			return i
		}
	}
	return -1
}

// firstFit finds the lowest page number >= hint with pglen free pages
// before the next area (or the end of the user range at limit), the way
// spec §4.4's alloc_anon_area "via first-fit" wording describes.
func (r *region_t) firstFit(hint, pglen, limit uint64) (uint64, bool) {
	cand := hint
	for _, a := range r.areas {
		if a.Pgn < cand {
			if a.end() > cand {
				cand = a.end()
			}
			continue
		}
		if cand+pglen <= a.Pgn {
			return cand, true
		}
		cand = a.end()
	}
	if cand+pglen <= limit {
		return cand, true
	}
	return 0, false
}

// clone returns a deep copy of the area list: each Vminfo_t is copied by
// value into a new object. The page-table side (Clone's COW/shallow-clone
// policy, which differs per mtype_t) is left to the caller.
func (r *region_t) clone() *region_t {
	out := &region_t{areas: make([]*Vminfo_t, len(r.areas))}
	for i, a := range r.areas {
		cp := *a
		out.areas[i] = &cp
	}
	return out
}
