package utils

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var logger = GetLogger("clrmd")

var used int64
var offHeapUsed int64

var pools []*sync.Pool

func init() {
	pools = make([]*sync.Pool, 30)
	for i := 0; i < 30; i++ {
		func(bits int) {
			pools[bits] = &sync.Pool{
				New: func() interface{} {
					b := make([]byte, 1<<bits)
					return &b
				},
			}
		}(i)
	}
}

// PowerOf2 returns the number of bits needed to hold a buffer of `s` bytes,
// i.e. the size class index for the pool.
func PowerOf2(s int) int {
	var bits int
	var p = 1
	for p < s {
		bits++
		p <<= 1
	}
	return bits
}

// Alloc returns a buffer of `size` bytes from the size-class pools.
// The content of the buffer is undefined.
func Alloc(size int) []byte {
	zeros := PowerOf2(size)
	b := *pools[zeros].Get().(*[]byte)
	if cap(b) < size {
		panic(fmt.Sprintf("%d < %d", cap(b), size))
	}
	atomic.AddInt64(&used, int64(cap(b)))
	return b[:size]
}

// Free returns a buffer to its size-class pool. Buffers whose capacity is
// not a power of two did not come from Alloc and are discarded.
func Free(b []byte) {
	c := cap(b)
	if c == 0 {
		return
	}
	if c&(c-1) != 0 {
		return
	}
	atomic.AddInt64(&used, -int64(c))
	b = b[:c]
	pools[PowerOf2(c)].Put(&b)
}

// AllocMemory returns the number of bytes currently rented from the pools.
func AllocMemory() int64 {
	return atomic.LoadInt64(&used)
}

// OffAlloc allocates a buffer outside the Go heap with an anonymous mapping.
func OffAlloc(size int) []byte {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		panic(fmt.Sprintf("mmap %d bytes: %s", size, err))
	}
	atomic.AddInt64(&offHeapUsed, int64(size))
	return b
}

// OffFree releases a buffer returned by OffAlloc.
func OffFree(b []byte) {
	if cap(b) == 0 {
		return
	}
	b = b[:cap(b)]
	if err := unix.Munmap(b); err != nil {
		logger.Errorf("munmap %d bytes: %s", len(b), err)
		return
	}
	atomic.AddInt64(&offHeapUsed, -int64(len(b)))
}

// OffHeapMemory returns the number of bytes currently held in anonymous mappings.
func OffHeapMemory() int64 {
	return atomic.LoadInt64(&offHeapUsed)
}
