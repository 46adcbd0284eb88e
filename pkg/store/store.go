package store

import (
	"github.com/leculver/clrmd/pkg/utils"
)

var logger = utils.GetLogger("clrmd")

// Store is a read-only random-access byte source, typically a memory dump.
// ReadAt copies up to len(b) bytes from the given file offset into b and
// returns the number of bytes copied. A read past the end of the store, or
// one that hits an I/O error, returns a short (possibly zero) count; errors
// never cross this boundary.
type Store interface {
	ReadAt(off uint64, b []byte) int

	// ThreadSafe reports whether ReadAt may be called concurrently.
	ThreadSafe() bool

	Close() error
}
