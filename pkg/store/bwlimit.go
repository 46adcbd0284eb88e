package store

import (
	"github.com/juju/ratelimit"
)

type bwlimit struct {
	Store
	downLimit *ratelimit.Bucket
}

// NewLimited throttles reads from a store to roughly down bytes per second.
// Useful in front of a remote store sharing a link with other traffic.
func NewLimited(s Store, down int64) Store {
	bw := &bwlimit{Store: s}
	if down > 0 {
		// there are overheads coming from SSH/TCP/IP
		bw.downLimit = ratelimit.NewBucketWithRate(float64(down)*0.85, down)
	}
	return bw
}

func (p *bwlimit) ReadAt(off uint64, b []byte) int {
	n := p.Store.ReadAt(off, b)
	if p.downLimit != nil {
		p.downLimit.Wait(int64(n))
	}
	return n
}
