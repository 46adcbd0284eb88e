package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPowerOf2(t *testing.T) {
	require.Equal(t, 0, PowerOf2(0))
	require.Equal(t, 0, PowerOf2(1))
	require.Equal(t, 1, PowerOf2(2))
	require.Equal(t, 2, PowerOf2(3))
	require.Equal(t, 12, PowerOf2(4096))
	require.Equal(t, 13, PowerOf2(4097))
}

func TestAllocFreeBalance(t *testing.T) {
	before := AllocMemory()
	var bufs [][]byte
	for _, size := range []int{1, 100, 4096, 5000, 1 << 20} {
		b := Alloc(size)
		require.Len(t, b, size)
		bufs = append(bufs, b)
	}
	require.Greater(t, AllocMemory(), before)
	for _, b := range bufs {
		Free(b)
	}
	require.Equal(t, before, AllocMemory())
}

func TestFreeForeignBuffer(t *testing.T) {
	before := AllocMemory()
	// buffers that didn't come from Alloc are discarded, not pooled
	Free(make([]byte, 3000, 3000))
	Free(nil)
	require.Equal(t, before, AllocMemory())
}

func TestOffAlloc(t *testing.T) {
	before := OffHeapMemory()
	b := OffAlloc(1 << 16)
	require.Len(t, b, 1<<16)
	b[0] = 0xab
	b[len(b)-1] = 0xcd
	require.Greater(t, OffHeapMemory(), before)
	OffFree(b)
	require.Equal(t, before, OffHeapMemory())
}
