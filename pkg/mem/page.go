package mem

import (
	"sync"
	"sync/atomic"

	"github.com/leculver/clrmd/pkg/store"
	"github.com/leculver/clrmd/pkg/utils"
)

// pageSource hands page buffers their bytes and their storage.
type pageSource struct {
	store   store.Store
	offHeap bool
}

func (s *pageSource) alloc(n int) []byte {
	if s.offHeap {
		return utils.OffAlloc(n)
	}
	return utils.Alloc(n)
}

func (s *pageSource) free(b []byte) {
	if s.offHeap {
		utils.OffFree(b)
	} else {
		utils.Free(b)
	}
}

// page is a single cached page of target memory. The descriptor itself is
// cheap; the buffer is materialised lazily on first read and may be paged
// out again by its cache.
type page struct {
	base  uint64 // page-aligned VA, the cache key
	start uint64 // first mapped VA within the page (== base unless the segment starts mid-page)
	foff  uint64 // backing store offset of start
	size  int    // logical bytes from start; shrinks permanently on a short fill

	mu       sync.RWMutex
	buf      []byte // nil when not resident; len(buf) == size when present
	filled   bool   // a fill ran this residency; size 0 with filled set is a permanent empty
	resident int32  // atomic mirror of buf != nil, for lock-free scans
	atime    int64  // atomic access stamp, in the owning cache's clock

	// chain links the following page of the same segment (segment-sized
	// variant). It never crosses a segment boundary.
	chain *page

	// LRU list links (fixed-count variant).
	prev, next *page
}

// read copies bytes at va into out and returns the count, filling the buffer
// from the backing store first if needed. filled is the number of bytes
// materialised by this call, for the caller's budget accounting.
// va must be within [base, base+pageSize); reads outside the page's mapped
// extent return 0.
func (p *page) read(src *pageSource, va uint64, out []byte, stamp int64) (n, filled int) {
	p.mu.RLock()
	if p.buf != nil {
		n = p.copyOut(va, out)
		atomic.StoreInt64(&p.atime, stamp)
		p.mu.RUnlock()
		return n, 0
	}
	if p.filled {
		// permanent empty
		p.mu.RUnlock()
		return 0, 0
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil && !p.filled {
		buf := src.alloc(p.size)
		got := src.store.ReadAt(p.foff, buf[:p.size])
		if got < p.size {
			p.size = got
		}
		if got == 0 {
			src.free(buf)
		} else {
			p.buf = buf[:got]
			atomic.StoreInt32(&p.resident, 1)
			filled = got
		}
		p.filled = true
	}
	if p.buf != nil {
		n = p.copyOut(va, out)
	}
	atomic.StoreInt64(&p.atime, stamp)
	return n, filled
}

// copyOut requires p.mu held (shared or exclusive) and p.buf != nil.
func (p *page) copyOut(va uint64, out []byte) int {
	if va < p.start {
		return 0
	}
	off := va - p.start
	if off >= uint64(p.size) {
		return 0
	}
	return copy(out, p.buf[off:p.size])
}

// pageOut drops the buffer, if any, and returns the number of bytes freed.
// A permanently empty page is left alone; any other page may be refilled by
// a later read.
func (p *page) pageOut(src *pageSource) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil {
		return 0
	}
	n := len(p.buf)
	src.free(p.buf)
	p.buf = nil
	p.filled = false
	atomic.StoreInt32(&p.resident, 0)
	return n
}

func (p *page) isResident() bool {
	return atomic.LoadInt32(&p.resident) == 1
}

// pageExtent computes the descriptor geometry for the page containing va:
// the aligned base, the first mapped address within the page, its backing
// store offset and the mapped byte count. ok is false when no segment
// contains va.
func pageExtent(segs *SegmentMap, pageSize, va uint64) (base, start, foff uint64, size int, ok bool) {
	s, ok := segs.Find(va)
	if !ok {
		return 0, 0, 0, 0, false
	}
	base = va &^ (pageSize - 1)
	start = base
	if s.VA > start {
		start = s.VA
	}
	end := base + pageSize
	if s.End() < end {
		end = s.End()
	}
	return base, start, s.FileOffset + (start - s.VA), int(end - start), true
}
