package mem

import (
	"sync"
	"sync/atomic"
)

// lruCache is the fixed-count variant: a map keyed on page base plus an
// intrusive doubly-linked list, most recently used at the head. The map and
// list are guarded by one mutex with O(1) critical sections.
type lruCache struct {
	mu       sync.Mutex
	src      *pageSource
	segs     *SegmentMap
	pageSize uint64
	capacity int
	pages    map[uint64]*page
	head     *page
	tail     *page
	clock    int64
	st       *stats
}

func newLRUCache(src *pageSource, segs *SegmentMap, conf *Config, st *stats) *lruCache {
	return &lruCache{
		src:      src,
		segs:     segs,
		pageSize: uint64(conf.PageSize),
		capacity: conf.Capacity,
		pages:    make(map[uint64]*page, conf.Capacity),
		st:       st,
	}
}

func (c *lruCache) getOrCreate(va uint64) *page {
	b := va &^ (c.pageSize - 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[b]; ok {
		c.st.hit()
		c.moveToFront(p)
		return p
	}
	base, start, foff, size, ok := pageExtent(c.segs, c.pageSize, va)
	if !ok {
		return nil
	}
	c.st.miss()
	var p *page
	if len(c.pages) < c.capacity {
		p = &page{}
	} else {
		// Evict the tail and reuse the node; the buffer is the only
		// per-page allocation worth pooling.
		p = c.tail
		c.unlink(p)
		delete(c.pages, p.base)
		if p.pageOut(c.src) > 0 {
			c.st.pageOut()
		}
	}
	p.mu.Lock()
	p.base, p.start, p.foff, p.size = base, start, foff, size
	p.filled = false
	p.mu.Unlock()
	c.pages[b] = p
	c.pushFront(p)
	return p
}

func (c *lruCache) readPage(p *page, va uint64, out []byte) int {
	n, _ := p.read(c.src, va, out, atomic.AddInt64(&c.clock, 1))
	return n
}

func (c *lruCache) follow(p *page, cursor uint64) *page {
	return nil
}

func (c *lruCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pages {
		if p.pageOut(c.src) > 0 {
			c.st.pageOut()
		}
	}
	c.pages = make(map[uint64]*page, c.capacity)
	c.head, c.tail = nil, nil
}

func (c *lruCache) close() {
	c.flush()
}

// list helpers; c.mu held.

func (c *lruCache) pushFront(p *page) {
	p.prev = nil
	p.next = c.head
	if c.head != nil {
		c.head.prev = p
	}
	c.head = p
	if c.tail == nil {
		c.tail = p
	}
}

func (c *lruCache) unlink(p *page) {
	if p.prev != nil {
		p.prev.next = p.next
	} else {
		c.head = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	} else {
		c.tail = p.prev
	}
	p.prev, p.next = nil, nil
}

func (c *lruCache) moveToFront(p *page) {
	if c.head == p {
		return
	}
	c.unlink(p)
	c.pushFront(p)
}
