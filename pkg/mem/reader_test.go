package mem

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leculver/clrmd/pkg/utils"
)

// fakeStore serves a fixed byte slice as the backing file.
type fakeStore struct {
	data       []byte
	threadSafe bool
}

func (f *fakeStore) ReadAt(off uint64, b []byte) int {
	if off >= uint64(len(f.data)) {
		return 0
	}
	return copy(b, f.data[off:])
}

func (f *fakeStore) ThreadSafe() bool { return f.threadSafe }
func (f *fakeStore) Close() error     { return nil }

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func newTestReader(t *testing.T, variant Variant, segs []Segment, data []byte) *Reader {
	t.Helper()
	m, err := NewSegmentMap(segs)
	require.NoError(t, err)
	r, err := NewReader(&fakeStore{data: data, threadSafe: true}, m, &Config{
		PageSize: 0x1000,
		Capacity: 16,
		MaxBytes: 16 << 20,
		Variant:  variant,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func variants(t *testing.T, fn func(t *testing.T, v Variant)) {
	t.Run("lru", func(t *testing.T) { fn(t, LRU) })
	t.Run("sized", func(t *testing.T) { fn(t, SegmentSized) })
}

func TestReadContained(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		r := newTestReader(t, v, []Segment{{VA: 0x1000, Length: 0x4000}}, pattern(0x4000))
		buf := make([]byte, 0x10)
		require.Equal(t, 0x10, r.ReadAt(0x1234, buf))
		require.Equal(t, pattern(0x4000)[0x234:0x244], buf)
		st := r.Stats()
		require.Equal(t, uint64(0), st.MultiPageReads)
		require.Equal(t, uint64(1), st.UnalignedReads)
	})
}

func TestReadCrossPage(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		r := newTestReader(t, v, []Segment{{VA: 0x1000, Length: 0x4000}}, pattern(0x4000))
		buf := make([]byte, 0x10)
		require.Equal(t, 0x10, r.ReadAt(0x1ff8, buf))
		want := []byte{0xf8, 0xf9, 0xfa, 0xfb, 0xfc, 0xfd, 0xfe, 0xff, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
		require.Equal(t, want, buf)
		st := r.Stats()
		require.Equal(t, uint64(1), st.MultiPageReads)
		require.Equal(t, uint64(1), st.UnalignedReads)
	})
}

func TestReadAcrossGap(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		r := newTestReader(t, v, []Segment{
			{VA: 0x1000, Length: 0x1000, FileOffset: 0},
			{VA: 0x3000, Length: 0x1000, FileOffset: 0x1000},
		}, pattern(0x2000))
		buf := make([]byte, 0x20)
		for i := range buf {
			buf[i] = 0xee
		}
		require.Equal(t, 0x10, r.ReadAt(0x1ff0, buf))
		require.Equal(t, pattern(0x2000)[0xff0:0x1000], buf[:0x10])
		// bytes past the returned count are untouched
		for _, b := range buf[0x10:] {
			require.Equal(t, byte(0xee), b)
		}
	})
}

func TestShortBackingStore(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		// the segment claims 0x2000 bytes but the file ends at 0x1800
		r := newTestReader(t, v, []Segment{{VA: 0x1000, Length: 0x2000}}, pattern(0x1800))
		buf := make([]byte, 0x200)
		require.Equal(t, 0x100, r.ReadAt(0x2700, buf))
		require.Equal(t, pattern(0x1800)[0x1700:0x1800], buf[:0x100])

		// short-read stability: larger requests see the same count
		require.Equal(t, 0x100, r.ReadAt(0x2700, make([]byte, 0x1000)))
	})
}

func TestUnmappedAndZero(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		r := newTestReader(t, v, []Segment{{VA: 0x1000, Length: 0x1000}}, pattern(0x1000))
		require.Equal(t, 0, r.ReadAt(0, make([]byte, 8)))
		require.Equal(t, 0, r.ReadAt(0x9000, make([]byte, 8)))
		require.Equal(t, 0, r.ReadAt(0x1010, nil))
	})
}

func TestPermanentEmptyPage(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		// the second page has no backing bytes at all
		r := newTestReader(t, v, []Segment{{VA: 0x1000, Length: 0x2000}}, pattern(0x1000))
		require.Equal(t, 0, r.ReadAt(0x2800, make([]byte, 8)))
		require.Equal(t, 0, r.ReadAt(0x2800, make([]byte, 8)))
		require.Equal(t, 0x10, r.ReadAt(0x1000, make([]byte, 0x10)))
	})
}

func TestIdempotence(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		r := newTestReader(t, v, []Segment{{VA: 0x1000, Length: 0x4000}}, pattern(0x4000))
		a := make([]byte, 0x123)
		b := make([]byte, 0x123)
		require.Equal(t, r.ReadAt(0x1777, a), r.ReadAt(0x1777, b))
		require.Equal(t, a, b)
		r.Flush(false)
		c := make([]byte, 0x123)
		require.Equal(t, 0x123, r.ReadAt(0x1777, c))
		require.Equal(t, a, c)
	})
}

func TestBytewiseEquivalence(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		r := newTestReader(t, v, []Segment{
			{VA: 0x1000, Length: 0x1800, FileOffset: 0},
			{VA: 0x3000, Length: 0x1000, FileOffset: 0x1800},
		}, pattern(0x2800))
		whole := make([]byte, 0x30)
		n := r.ReadAt(0x2750, whole)
		for i := 0; i < n; i++ {
			var one [1]byte
			require.Equal(t, 1, r.ReadAt(0x2750+uint64(i), one[:]))
			require.Equal(t, whole[i], one[0])
		}
	})
}

func TestTypedReaders(t *testing.T) {
	data := pattern(0x1000)
	r := newTestReader(t, LRU, []Segment{{VA: 0x1000, Length: 0x1000}}, data)

	v8, ok := r.ReadUint8(0x1012)
	require.True(t, ok)
	require.Equal(t, uint8(0x12), v8)

	v16, ok := r.ReadUint16(0x1010)
	require.True(t, ok)
	require.Equal(t, uint16(0x1110), v16)

	v32, ok := r.ReadUint32(0x1010)
	require.True(t, ok)
	require.Equal(t, uint32(0x13121110), v32)

	v64, ok := r.ReadUint64(0x1010)
	require.True(t, ok)
	require.Equal(t, uint64(0x1716151413121110), v64)

	require.Equal(t, 8, r.PointerSize())
	p, ok := r.ReadPointer(0x1010)
	require.True(t, ok)
	require.Equal(t, uint64(0x1716151413121110), p)

	// pointer reads fail on the missing word at the end of the space
	_, ok = r.ReadUint64(0x1ffc)
	require.False(t, ok)
	_, ok = r.ReadPointer(0)
	require.False(t, ok)
}

func TestPointerSize4(t *testing.T) {
	m, err := NewSegmentMap([]Segment{{VA: 0x1000, Length: 0x1000}})
	require.NoError(t, err)
	r, err := NewReader(&fakeStore{data: pattern(0x1000), threadSafe: true}, m, &Config{PointerSize: 4})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 4, r.PointerSize())
	p, ok := r.ReadPointer(0x1010)
	require.True(t, ok)
	require.Equal(t, uint64(0x13121110), p)
}

func TestNoBufferLeak(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		before := utils.AllocMemory()
		m, err := NewSegmentMap([]Segment{{VA: 0x1000, Length: 0x8000}})
		require.NoError(t, err)
		r, err := NewReader(&fakeStore{data: pattern(0x8000), threadSafe: true}, m, &Config{
			PageSize: 0x1000,
			Capacity: 4,
			Variant:  v,
		})
		require.NoError(t, err)
		buf := make([]byte, 0x100)
		for va := uint64(0x1000); va < 0x9000; va += 0x700 {
			r.ReadAt(va, buf)
		}
		r.Flush(false)
		r.ReadAt(0x1000, buf)
		r.Close()
		require.Equal(t, before, utils.AllocMemory())
	})
}

func TestOffHeapBuffers(t *testing.T) {
	m, err := NewSegmentMap([]Segment{{VA: 0x1000, Length: 0x4000}})
	require.NoError(t, err)
	data := pattern(0x4000)
	r, err := NewReader(&fakeStore{data: data, threadSafe: true}, m, &Config{
		PageSize: 0x1000,
		Capacity: 2,
		OffHeap:  true,
	})
	require.NoError(t, err)
	buf := make([]byte, 0x20)
	for va := uint64(0x1000); va < 0x5000; va += 0x1000 {
		require.Equal(t, 0x20, r.ReadAt(va, buf))
		require.Equal(t, data[va-0x1000:va-0x1000+0x20], buf)
	}
	r.Close()
}

func TestConfigErrors(t *testing.T) {
	m, err := NewSegmentMap(nil)
	require.NoError(t, err)
	_, err = NewReader(&fakeStore{}, m, &Config{PageSize: 3000})
	require.Error(t, err)
	_, err = NewReader(&fakeStore{}, m, &Config{PointerSize: 2})
	require.Error(t, err)
}

func TestFlushResetsStats(t *testing.T) {
	r := newTestReader(t, LRU, []Segment{{VA: 0x1000, Length: 0x1000}}, pattern(0x1000))
	r.ReadAt(0x1000, make([]byte, 8))
	r.ReadAt(0x1000, make([]byte, 8))
	st := r.Stats()
	require.Equal(t, uint64(1), st.Hits)
	require.Equal(t, uint64(1), st.Misses)
	r.Flush(true)
	require.Equal(t, Stats{}, r.Stats())
	require.Equal(t, 8, r.ReadAt(0x1000, make([]byte, 8)))
	require.Equal(t, uint64(1), r.Stats().Misses)
}

func TestSerializedStore(t *testing.T) {
	// a store that is not thread-safe forces the reader to linearise
	m, err := NewSegmentMap([]Segment{{VA: 0x1000, Length: 0x100000}})
	require.NoError(t, err)
	data := pattern(0x100000)
	r, err := NewReader(&fakeStore{data: data, threadSafe: false}, m, &Config{PageSize: 0x1000, Capacity: 8})
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			buf := make([]byte, 32)
			for j := uint64(0); j < 2000; j++ {
				va := 0x1000 + (seed*7919+j*4099)%(0x100000-32)
				n := r.ReadAt(va, buf)
				if n != 32 {
					t.Errorf("read at 0x%x: %d bytes", va, n)
					return
				}
				for k := 0; k < n; k++ {
					if buf[k] != data[va-0x1000+uint64(k)] {
						t.Errorf("byte %d at 0x%x mismatch", k, va)
						return
					}
				}
			}
		}(uint64(i))
	}
	wg.Wait()
}

func TestConcurrentReaders(t *testing.T) {
	variants(t, func(t *testing.T, v Variant) {
		const space = 16 << 20
		m, err := NewSegmentMap([]Segment{{VA: 0x100000, Length: space}})
		require.NoError(t, err)
		data := pattern(space)
		r, err := NewReader(&fakeStore{data: data, threadSafe: true}, m, &Config{
			PageSize: 0x1000,
			Capacity: space / 0x1000,
			MaxBytes: space * 2,
			Variant:  v,
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(seed uint64) {
				defer wg.Done()
				buf := make([]byte, 32)
				for j := uint64(0); j < 10000; j++ {
					va := 0x100000 + (seed*104729+j*31337)%(space-32)
					n := r.ReadAt(va, buf)
					if n != 32 {
						t.Errorf("read at 0x%x: %d bytes", va, n)
						return
					}
					for k := 0; k < n; k++ {
						if buf[k] != data[va-0x100000+uint64(k)] {
							t.Errorf("byte %d at 0x%x mismatch", k, va)
							return
						}
					}
				}
			}(uint64(i))
		}
		wg.Wait()

		st := r.Stats()
		require.Equal(t, uint64(80000)+st.MultiPageReads, st.Hits+st.Misses)
		r.Close()
	})
}
