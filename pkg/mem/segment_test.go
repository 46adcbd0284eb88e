package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSegmentMapFind(t *testing.T) {
	m, err := NewSegmentMap([]Segment{
		{VA: 0x3000, Length: 0x1000, FileOffset: 0x1000},
		{VA: 0x1000, Length: 0x1000, FileOffset: 0},
		{VA: 0x8000, Length: 0, FileOffset: 0x9999}, // dropped
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	s, ok := m.Find(0x1000)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), s.VA)

	s, ok = m.Find(0x1fff)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000), s.VA)

	_, ok = m.Find(0x2000)
	require.False(t, ok)
	_, ok = m.Find(0xfff)
	require.False(t, ok)
	_, ok = m.Find(0x4000)
	require.False(t, ok)

	off, ok := m.FileOffset(0x3123)
	require.True(t, ok)
	require.Equal(t, uint64(0x1123), off)
}

func TestSegmentMapOverlap(t *testing.T) {
	_, err := NewSegmentMap([]Segment{
		{VA: 0x1000, Length: 0x2000},
		{VA: 0x2fff, Length: 0x1000},
	})
	require.Error(t, err)
}

func TestSegmentMapVisit(t *testing.T) {
	m, err := NewSegmentMap([]Segment{
		{VA: 0x1000, Length: 0x1000, FileOffset: 0},
		{VA: 0x3000, Length: 0x1000, FileOffset: 0x1000},
	})
	require.NoError(t, err)

	type span struct{ va, length uint64 }
	var got []span
	m.Visit(0x1800, 0x2000, func(s Segment, va, length uint64) bool {
		got = append(got, span{va, length})
		return true
	})
	// the gap between the segments is skipped
	require.Equal(t, []span{{0x1800, 0x800}, {0x3000, 0x800}}, got)

	got = nil
	m.Visit(0x4000, 0x1000, func(s Segment, va, length uint64) bool {
		got = append(got, span{va, length})
		return true
	})
	require.Empty(t, got)

	got = nil
	m.Visit(0x0, 0x10000, func(s Segment, va, length uint64) bool {
		got = append(got, span{va, length})
		return false
	})
	require.Equal(t, []span{{0x1000, 0x1000}}, got)
}
