package arena

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"default", 0},
		{"small", 4096},
		{"unaligned", 4097},
		{"large", 4 * 1024 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.size)
			require.NoError(t, err)
			defer a.Close()
			assert.True(t, a.Cap() >= tt.size)
			assert.Zero(t, a.Len())
		})
	}
}

type point struct {
	x, y int64
}

func TestAllocate(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)
	defer a.Close()

	p, err := Allocate(a, func(p *point) {
		p.x = 1
		p.y = 2
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.x)
	assert.Equal(t, int64(2), p.y)
	assert.Equal(t, 16, a.Len())

	var b byte
	q, err := Allocate(a, func(v *byte) { *v = 0xff })
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), *q)
	_ = b
}

func TestAllocateAlignment(t *testing.T) {
	a, err := New(4096)
	require.NoError(t, err)
	defer a.Close()

	_, err = Allocate(a, func(v *byte) {})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())

	p, err := Allocate(a, func(v *point) {})
	require.NoError(t, err)
	require.NoError(t, err)
	assert.Zero(t, uintptr(unsafe.Pointer(p))%unsafe.Alignof(point{}))
}

func TestAllocateOutOfMemory(t *testing.T) {
	a, err := New(unix.Getpagesize())
	require.NoError(t, err)
	defer a.Close()

	type big struct {
		data [8192]byte
	}
	_, err = Allocate(a, func(*big) {})
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

// Address stability across fork ("an allocated pointer's value is
// identical in the parent and every forked child that shares the arena")
// is exercised end-to-end in workload/context_test.go, which forks real
// workload children against a live Arena; reproducing a bare fork here
// would just duplicate that coverage without the synchronization the real
// workload path relies on.
func TestAllocateCounterIsSharedMemory(t *testing.T) {
	a, err := New(unix.Getpagesize())
	require.NoError(t, err)
	defer a.Close()

	counter, err := Allocate(a, func(v *int64) { atomic.StoreInt64(v, 0) })
	require.NoError(t, err)

	atomic.AddInt64(counter, 41)
	// A second view of the same bytes, reinterpreted the way a sharing
	// process would see them, must observe the update.
	aliased := (*int64)(unsafe.Pointer(&a.mem[uintptr(unsafe.Pointer(counter))-uintptr(unsafe.Pointer(&a.mem[0]))]))
	assert.Equal(t, int64(41), atomic.LoadInt64(aliased))
}
