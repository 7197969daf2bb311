package accumulator

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroValue(t *testing.T) {
	var a Accumulator
	require.Equal(t, uint64(0), a.Load())
	require.Equal(t, uint64(7), New(7).Load())
}

func TestAdd(t *testing.T) {
	a := New(0)
	var want uint64
	for _, v := range []uint64{1, 2, 40, 1 << 40, 0} {
		require.NoError(t, a.Add(v))
		want += v
	}
	require.Equal(t, want, a.Load())
}

func TestAddOverflowLeavesValue(t *testing.T) {
	a := New(0)
	require.NoError(t, a.Add(math.MaxUint64))
	require.ErrorIs(t, a.Add(1), ErrOverflow)
	require.Equal(t, uint64(math.MaxUint64), a.Load())

	b := New(math.MaxUint64 - 10)
	require.ErrorIs(t, b.Add(11), ErrOverflow)
	require.NoError(t, b.Add(10))
	require.Equal(t, uint64(math.MaxUint64), b.Load())
}

func TestTake(t *testing.T) {
	a := New(5)
	require.NoError(t, a.Add(6))
	require.Equal(t, uint64(11), a.Take())
	require.Equal(t, uint64(0), a.Load())
	require.Equal(t, uint64(0), a.Take())
}

func TestTakeAfterMaxAllowsAdd(t *testing.T) {
	a := New(math.MaxUint64)
	require.Equal(t, uint64(math.MaxUint64), a.Take())
	require.NoError(t, a.Add(1))
	require.Equal(t, uint64(1), a.Load())
}

// Concurrent adds and takes must neither lose nor double count.
func TestConcurrentAddTake(t *testing.T) {
	const (
		workers = 8
		perWork = 1000
	)
	a := New(0)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken uint64
	)
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < perWork; i++ {
				if err := a.Add(1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < perWork/10; i++ {
				v := a.Take()
				mu.Lock()
				taken += v
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(workers*perWork), taken+a.Load())
}
