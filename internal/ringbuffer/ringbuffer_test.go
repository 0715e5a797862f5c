package ringbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewPanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { New[byte](0) })
}

func TestEmptyBuffer(t *testing.T) {
	t.Parallel()

	rb := New[int](4)
	assert.True(t, rb.Empty())
	assert.False(t, rb.Full())
	assert.Equal(t, 0, rb.Size())
	assert.Equal(t, 4, rb.Free())
	assert.Equal(t, 4, rb.Capacity())

	_, ok := rb.Pop()
	assert.False(t, ok)
}

func TestPushFailsOnlyWhenFull(t *testing.T) {
	t.Parallel()

	const capacity = 5
	rb := New[byte](capacity)

	for i := range capacity {
		require.False(t, rb.Full())
		require.True(t, rb.Push(byte(i)), "push %d", i)
		assert.Equal(t, i+1, rb.Size())
		assert.Equal(t, capacity-i-1, rb.Free())
	}

	assert.True(t, rb.Full())
	assert.False(t, rb.Push(99))
	assert.Equal(t, capacity, rb.Size(), "failed push leaves the buffer unchanged")

	v, ok := rb.Pop()
	require.True(t, ok)
	assert.Equal(t, byte(0), v)
	assert.True(t, rb.Push(5))
}

func TestFIFOAcrossWrap(t *testing.T) {
	t.Parallel()

	rb := New[int](3)
	next := 0
	expect := 0

	// Interleave pushes and pops so the cursors wrap several times
	for round := range 20 {
		for range round%3 + 1 {
			if rb.Push(next) {
				next++
			}
		}
		for range round % 2 {
			if v, ok := rb.Pop(); ok {
				assert.Equal(t, expect, v)
				expect++
			}
		}
		require.LessOrEqual(t, rb.Size(), rb.Capacity())
		require.Equal(t, rb.Capacity()-rb.Size(), rb.Free())
	}

	for {
		v, ok := rb.Pop()
		if !ok {
			break
		}
		assert.Equal(t, expect, v)
		expect++
	}
	assert.Equal(t, next, expect)
	assert.True(t, rb.Empty())
}

func TestRoundTripSequence(t *testing.T) {
	t.Parallel()

	input := []byte("interleaved pcm bytes")
	rb := New[byte](len(input))
	for _, b := range input {
		require.True(t, rb.Push(b))
	}

	out := make([]byte, 0, len(input))
	for !rb.Empty() {
		b, ok := rb.Pop()
		require.True(t, ok)
		out = append(out, b)
	}
	assert.Equal(t, input, out)
}

func TestConcurrentSPSC(t *testing.T) {
	t.Parallel()

	const total = 200_000
	rb := New[uint32](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(0); i < total; {
			if rb.Push(i) {
				i++
			}
		}
	}()

	received := make([]uint32, 0, total)
	for len(received) < total {
		if v, ok := rb.Pop(); ok {
			received = append(received, v)
		}
		if s := rb.Size(); s > rb.Capacity() {
			t.Fatalf("size %d exceeds capacity", s)
		}
	}
	wg.Wait()

	for i, v := range received {
		if uint32(i) != v {
			t.Fatalf("item %d: got %d", i, v)
		}
	}
	assert.True(t, rb.Empty())
}

func BenchmarkPushPop(b *testing.B) {
	rb := New[byte](4096)
	b.ReportAllocs()
	for b.Loop() {
		rb.Push(1)
		rb.Pop()
	}
}
