package mem

import (
	"sort"

	"github.com/pkg/errors"
)

// Segment maps a contiguous range of the target's virtual address space to
// an offset on the backing store.
type Segment struct {
	VA         uint64
	Length     uint64
	FileOffset uint64
}

// End returns the first address past the segment.
func (s Segment) End() uint64 {
	return s.VA + s.Length
}

func (s Segment) contains(va uint64) bool {
	return s.VA <= va && va-s.VA < s.Length
}

// SegmentMap is an immutable, ordered collection of disjoint segments.
// It is created once when a target is opened and never changes, so lookups
// need no locking.
type SegmentMap struct {
	segs []Segment
}

// NewSegmentMap sorts the given segments by start address and validates that
// they don't overlap. Zero-length segments are dropped.
func NewSegmentMap(segs []Segment) (*SegmentMap, error) {
	ss := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Length > 0 {
			ss = append(ss, s)
		}
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i].VA < ss[j].VA })
	for i := 1; i < len(ss); i++ {
		if ss[i].VA < ss[i-1].End() {
			return nil, errors.Errorf("segment 0x%x-0x%x overlaps 0x%x-0x%x",
				ss[i].VA, ss[i].End(), ss[i-1].VA, ss[i-1].End())
		}
	}
	return &SegmentMap{segs: ss}, nil
}

// Len returns the number of segments.
func (m *SegmentMap) Len() int {
	return len(m.segs)
}

// Segments returns a copy of the segment list in address order.
func (m *SegmentMap) Segments() []Segment {
	out := make([]Segment, len(m.segs))
	copy(out, m.segs)
	return out
}

// Find returns the segment containing va.
func (m *SegmentMap) Find(va uint64) (Segment, bool) {
	// Binary search for an upper-bound segment, then check
	// if the previous segment contains va.
	k := sort.Search(len(m.segs), func(k int) bool {
		return va < m.segs[k].VA
	})
	k--
	if k >= 0 && m.segs[k].contains(va) {
		return m.segs[k], true
	}
	return Segment{}, false
}

// FileOffset translates va to an offset on the backing store.
func (m *SegmentMap) FileOffset(va uint64) (uint64, bool) {
	s, ok := m.Find(va)
	if !ok {
		return 0, false
	}
	return s.FileOffset + (va - s.VA), true
}

// Visit calls fn for each (segment, sub-range) intersecting [va, va+length)
// in address order. Gaps between segments are skipped; a caller that needs
// contiguous bytes must stop at the first uncovered address itself.
// fn returning false stops the walk.
func (m *SegmentMap) Visit(va, length uint64, fn func(s Segment, va, length uint64) bool) {
	end := va + length
	k := sort.Search(len(m.segs), func(k int) bool {
		return va < m.segs[k].End()
	})
	for ; k < len(m.segs); k++ {
		s := m.segs[k]
		if s.VA >= end {
			return
		}
		lo, hi := s.VA, s.End()
		if va > lo {
			lo = va
		}
		if end < hi {
			hi = end
		}
		if lo < hi && !fn(s, lo, hi-lo) {
			return
		}
	}
}
