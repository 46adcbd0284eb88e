package mem

import (
	"encoding/binary"
	"sync"

	"github.com/leculver/clrmd/pkg/store"
)

// Reader is the random-access view of a target's virtual address space.
// Every read resolves through the page cache; the backing store is only
// touched on page fills. A Reader is safe for concurrent use; when the
// backing store is not, the Reader linearises all reads itself.
type Reader struct {
	store store.Store
	segs  *SegmentMap
	cache pageCache
	conf  Config
	st    stats

	serial  sync.Mutex
	locking bool
}

// NewReader builds a Reader over the given store and segment map.
// conf may be nil for defaults. Only configuration errors fail; everything
// at read time surfaces as short byte counts.
func NewReader(st store.Store, segs *SegmentMap, conf *Config) (*Reader, error) {
	var c Config
	if conf != nil {
		c = *conf
	}
	if err := c.fill(); err != nil {
		return nil, err
	}
	r := &Reader{
		store:   st,
		segs:    segs,
		conf:    c,
		locking: !st.ThreadSafe(),
	}
	src := &pageSource{store: st, offHeap: c.OffHeap}
	switch c.Variant {
	case SegmentSized:
		r.cache = newSizedCache(src, segs, &c, &r.st)
	default:
		r.cache = newLRUCache(src, segs, &c, &r.st)
	}
	return r, nil
}

// SegmentMap returns the reader's address space map.
func (r *Reader) SegmentMap() *SegmentMap {
	return r.segs
}

// PointerSize returns the target's pointer width in bytes.
func (r *Reader) PointerSize() int {
	return r.conf.PointerSize
}

// ReadAt copies target memory at va into out and returns the byte count.
// The count is short when the range leaves the mapped segments, crosses a
// gap, or the backing store comes up short; none of these are errors here.
// Address zero never reads.
func (r *Reader) ReadAt(va uint64, out []byte) int {
	if va == 0 || len(out) == 0 {
		return 0
	}
	if r.locking {
		r.serial.Lock()
		defer r.serial.Unlock()
	}
	pageMask := uint64(r.conf.PageSize) - 1
	if va&pageMask != 0 {
		r.st.unaligned()
	}
	var (
		cursor  = va
		written = 0
		pages   = 0
		p       *page
	)
	for written < len(out) {
		if p == nil {
			p = r.cache.getOrCreate(cursor)
			if p == nil {
				break
			}
		}
		pages++
		n := r.cache.readPage(p, cursor, out[written:])
		if n == 0 {
			break
		}
		written += n
		cursor += uint64(n)
		if written < len(out) {
			p = r.cache.follow(p, cursor)
		}
	}
	if pages > 1 {
		r.st.multiPage()
	}
	return written
}

// ReadUint8 reads one byte of target memory.
func (r *Reader) ReadUint8(va uint64) (uint8, bool) {
	var b [1]byte
	if r.ReadAt(va, b[:]) != 1 {
		return 0, false
	}
	return b[0], true
}

// ReadUint16 reads a 16-bit value in target byte order.
func (r *Reader) ReadUint16(va uint64) (uint16, bool) {
	var b [2]byte
	if r.ReadAt(va, b[:]) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[:]), true
}

// ReadUint32 reads a 32-bit value in target byte order.
func (r *Reader) ReadUint32(va uint64) (uint32, bool) {
	var b [4]byte
	if r.ReadAt(va, b[:]) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:]), true
}

// ReadUint64 reads a 64-bit value in target byte order.
func (r *Reader) ReadUint64(va uint64) (uint64, bool) {
	var b [8]byte
	if r.ReadAt(va, b[:]) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b[:]), true
}

// ReadPointer reads a target pointer at va, widened to 64 bits.
func (r *Reader) ReadPointer(va uint64) (uint64, bool) {
	if r.conf.PointerSize == 4 {
		v, ok := r.ReadUint32(va)
		return uint64(v), ok
	}
	return r.ReadUint64(va)
}

// Stats returns a snapshot of the reader's counters.
func (r *Reader) Stats() Stats {
	return r.st.snapshot()
}

// Flush pages out everything resident, optionally resetting the counters.
func (r *Reader) Flush(resetStats bool) {
	r.cache.flush()
	if resetStats {
		r.st.reset()
	}
}

// Close releases all page buffers and stops the trimmer. The backing store
// stays open; it belongs to the caller. The Reader must not be used after
// Close.
func (r *Reader) Close() {
	r.cache.close()
}
