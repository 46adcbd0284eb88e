package mem

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/leculver/clrmd/pkg/utils"
)

const trimInterval = time.Second * 10

// sizedCache is the byte-budget variant: every page of every segment gets a
// descriptor at construction, so lookups never mutate the map and need no
// cache-wide lock. Resident bytes are kept under the budget by a background
// trimmer.
type sizedCache struct {
	src      *pageSource
	pageSize uint64
	maxBytes int64
	hiWater  int64 // wake the trimmer above this
	loWater  int64 // trim down to this
	pages    map[uint64]*page
	order    []*page // traversal order for the trimmer

	currentBytes int64
	age          int64
	st           *stats

	tmu   sync.Mutex
	tcond *utils.Cond
	done  bool
	wg    sync.WaitGroup
}

func newSizedCache(src *pageSource, segs *SegmentMap, conf *Config, st *stats) *sizedCache {
	c := &sizedCache{
		src:      src,
		pageSize: uint64(conf.PageSize),
		maxBytes: conf.MaxBytes,
		hiWater:  conf.MaxBytes / 100 * 95,
		loWater:  conf.MaxBytes / 100 * 60,
		pages:    make(map[uint64]*page),
		st:       st,
	}
	for _, s := range segs.Segments() {
		var prev *page
		for base := s.VA &^ (c.pageSize - 1); base < s.End(); base += c.pageSize {
			if _, ok := c.pages[base]; ok {
				// Two segments begin within the same page: the
				// first-inserted descriptor wins and the chain stops here.
				prev = nil
				continue
			}
			start := base
			if s.VA > start {
				start = s.VA
			}
			end := base + c.pageSize
			if s.End() < end {
				end = s.End()
			}
			p := &page{
				base:  base,
				start: start,
				foff:  s.FileOffset + (start - s.VA),
				size:  int(end - start),
			}
			c.pages[base] = p
			c.order = append(c.order, p)
			if prev != nil {
				prev.chain = p
			}
			prev = p
		}
	}
	c.tcond = utils.NewCond(&c.tmu)
	c.wg.Add(1)
	go c.trim()
	return c
}

func (c *sizedCache) getOrCreate(va uint64) *page {
	p, ok := c.pages[va&^(c.pageSize-1)]
	if !ok {
		return nil
	}
	c.touch(p)
	return p
}

func (c *sizedCache) touch(p *page) {
	if p.isResident() {
		c.st.hit()
	} else {
		c.st.miss()
	}
}

func (c *sizedCache) readPage(p *page, va uint64, out []byte) int {
	n, filled := p.read(c.src, va, out, atomic.LoadInt64(&c.age))
	if filled > 0 {
		if atomic.AddInt64(&c.currentBytes, int64(filled)) >= c.hiWater {
			c.tcond.Signal()
		}
	}
	return n
}

// follow continues a multi-page read to the next page of the same segment
// without re-hashing. The chain never stitches across a gap.
func (c *sizedCache) follow(p *page, cursor uint64) *page {
	q := p.chain
	if q == nil || q.start != cursor {
		return nil
	}
	c.touch(q)
	return q
}

func (c *sizedCache) flush() {
	for _, p := range c.order {
		c.pageOut(p)
	}
}

func (c *sizedCache) close() {
	c.tmu.Lock()
	c.done = true
	c.tmu.Unlock()
	c.tcond.Signal()
	c.wg.Wait()
	c.flush()
}

func (c *sizedCache) pageOut(p *page) {
	if n := p.pageOut(c.src); n > 0 {
		atomic.AddInt64(&c.currentBytes, -int64(n))
		c.st.pageOut()
	}
}

func (c *sizedCache) trim() {
	defer c.wg.Done()
	for {
		c.tmu.Lock()
		if !c.done {
			c.tcond.WaitWithTimeout(trimInterval)
		}
		if c.done {
			c.tmu.Unlock()
			return
		}
		c.tmu.Unlock()
		c.sweep()
	}
}

// sweep pages out in up to three passes: really-old pages first, then
// anything stamped before the age this sweep starts (every page not read
// since the increment), then whatever it takes to get back under the low
// watermark.
func (c *sizedCache) sweep() {
	before := atomic.LoadInt64(&c.currentBytes)
	age := atomic.AddInt64(&c.age, 1)
	for _, p := range c.order {
		if p.isResident() && atomic.LoadInt64(&p.atime) < age/2 {
			c.pageOut(p)
		}
	}
	if atomic.LoadInt64(&c.currentBytes) > c.loWater {
		for _, p := range c.order {
			if p.isResident() && atomic.LoadInt64(&p.atime) < age {
				c.pageOut(p)
			}
		}
	}
	for _, p := range c.order {
		if atomic.LoadInt64(&c.currentBytes) <= c.loWater {
			break
		}
		if p.isResident() {
			c.pageOut(p)
		}
	}
	after := atomic.LoadInt64(&c.currentBytes)
	if after < before {
		logger.Debugf("trimmed %d bytes, %d resident", before-after, after)
	}
}
