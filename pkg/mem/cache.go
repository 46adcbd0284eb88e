package mem

import (
	"github.com/pkg/errors"

	"github.com/leculver/clrmd/pkg/utils"
)

var logger = utils.GetLogger("clrmd")

// Variant selects the page cache implementation behind a Reader.
type Variant int

const (
	// LRU keeps at most Capacity pages, evicting the least recently used
	// page when a new one is needed.
	LRU Variant = iota
	// SegmentSized pre-creates a descriptor for every page of every segment
	// and keeps resident bytes under MaxBytes with a background trimmer.
	SegmentSized
)

const (
	DefaultPageSize = 4096
	DefaultCapacity = 4096
	DefaultMaxBytes = 256 << 20
)

// Config controls a Reader and its page cache.
type Config struct {
	// PageSize is the cache page size in bytes; must be a power of two.
	PageSize int
	// Capacity is the page count bound of the LRU variant.
	Capacity int
	// MaxBytes is the resident byte budget of the SegmentSized variant.
	MaxBytes int64
	Variant  Variant
	// PointerSize is the target's pointer width, 4 or 8.
	PointerSize int
	// OffHeap places resident buffers in anonymous mappings instead of the
	// pooled heap.
	OffHeap bool
}

func (c *Config) fill() error {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize < 0 || c.PageSize&(c.PageSize-1) != 0 {
		return errors.Errorf("page size %d is not a power of two", c.PageSize)
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	switch c.PointerSize {
	case 0:
		c.PointerSize = 8
	case 4, 8:
	default:
		return errors.Errorf("pointer size %d is not 4 or 8", c.PointerSize)
	}
	return nil
}

// pageCache is the capability shared by the two cache variants. The read
// facade is agnostic to which one it drives.
type pageCache interface {
	// getOrCreate returns the page descriptor covering va, or nil when no
	// segment maps it. Hit/miss counters are updated here.
	getOrCreate(va uint64) *page

	// readPage serves bytes at va from p, filling it first if needed, with
	// the variant's stamping and budget accounting applied.
	readPage(p *page, va uint64, out []byte) int

	// follow returns the page after p when cursor sits exactly on its first
	// mapped address and the variant can continue without a lookup.
	follow(p *page, cursor uint64) *page

	// flush pages out everything resident.
	flush()

	// close releases all buffers and stops any background work. The cache
	// must not be used afterwards.
	close()
}
