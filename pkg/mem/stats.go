package mem

import "sync/atomic"

// Stats is a snapshot of a reader's counters. All counters are monotonic
// between resets.
type Stats struct {
	Hits           uint64
	Misses         uint64
	MultiPageReads uint64
	UnalignedReads uint64
	PageOuts       uint64
}

type stats struct {
	hits           uint64
	misses         uint64
	multiPageReads uint64
	unalignedReads uint64
	pageOuts       uint64
}

func (s *stats) hit()       { atomic.AddUint64(&s.hits, 1) }
func (s *stats) miss()      { atomic.AddUint64(&s.misses, 1) }
func (s *stats) multiPage() { atomic.AddUint64(&s.multiPageReads, 1) }
func (s *stats) unaligned() { atomic.AddUint64(&s.unalignedReads, 1) }
func (s *stats) pageOut()   { atomic.AddUint64(&s.pageOuts, 1) }

func (s *stats) snapshot() Stats {
	return Stats{
		Hits:           atomic.LoadUint64(&s.hits),
		Misses:         atomic.LoadUint64(&s.misses),
		MultiPageReads: atomic.LoadUint64(&s.multiPageReads),
		UnalignedReads: atomic.LoadUint64(&s.unalignedReads),
		PageOuts:       atomic.LoadUint64(&s.pageOuts),
	}
}

func (s *stats) reset() {
	atomic.StoreUint64(&s.hits, 0)
	atomic.StoreUint64(&s.misses, 0)
	atomic.StoreUint64(&s.multiPageReads, 0)
	atomic.StoreUint64(&s.unalignedReads, 0)
	atomic.StoreUint64(&s.pageOuts, 0)
}
