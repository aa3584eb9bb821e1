package pipe

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const queueCapacity int = 100

const messageCount uint64 = 1000

type item struct{}

func TestNewQueue(t *testing.T) {
	for name, tc := range map[string]struct {
		capacity int
		err      error
	}{
		`zero`:     {capacity: 0, err: ErrInvalidCapacity},
		`negative`: {capacity: -1, err: ErrInvalidCapacity},
		`one`:      {capacity: 1},
		`not_pow2`: {capacity: 100},
	} {
		t.Run(name, func(t *testing.T) {
			q, err := NewQueue[int](tc.capacity)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Nil(t, q)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.capacity, q.Cap())
			require.Zero(t, q.Len())
		})
	}

	require.Panics(t, func() { MustQueue[int](0) })
}

func TestQueueFIFOAcrossWrap(t *testing.T) {
	q := MustQueue[int](3)

	var got []int
	for i := range 10 {
		require.NoError(t, q.Put(i))
		if i%2 == 1 {
			for q.Len() > 0 {
				v, err := q.Take()
				require.NoError(t, err)
				got = append(got, v)
			}
		}
	}
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestQueueCancelReleasesBlockedTake(t *testing.T) {
	q := MustQueue[item](1)
	cause := errors.New("closed")

	done := make(chan error, 1)
	go func() {
		_, err := q.Take()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Cancel(cause)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
		require.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("take was not released by cancel")
	}
}

func TestQueueCancelReleasesBlockedPut(t *testing.T) {
	q := MustQueue[item](1)
	require.NoError(t, q.Put(item{}))

	done := make(chan error, 1)
	go func() {
		done <- q.Put(item{})
	}()

	time.Sleep(10 * time.Millisecond)
	q.Cancel(nil)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
		var cancelled *CancelledError
		require.ErrorAs(t, err, &cancelled)
		require.NoError(t, cancelled.Cause)
		require.Equal(t, ErrCancelled.Error(), err.Error())
	case <-time.After(time.Second):
		t.Fatal("put was not released by cancel")
	}
}

func TestQueueCancelPoisonsBufferedItems(t *testing.T) {
	q := MustQueue[int](4)
	require.NoError(t, q.Put(1))
	require.NoError(t, q.Put(2))

	q.Cancel(errors.New("boom"))

	_, err := q.Take()
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, q.Put(3), ErrCancelled)
}

func TestQueueCancelKeepsFirstCause(t *testing.T) {
	q := MustQueue[int](1)
	first := errors.New("first")
	second := errors.New("second")

	q.Cancel(first)
	q.Cancel(second)

	_, err := q.Take()
	require.ErrorIs(t, err, first)
	require.NotErrorIs(t, err, second)
}

func TestQueueReset(t *testing.T) {
	q := MustQueue[*int](2)
	v := 7
	require.NoError(t, q.Put(&v))
	q.Cancel(errors.New("boom"))

	q.Reset()
	require.Zero(t, q.Len())
	for _, slot := range q.data {
		require.Nil(t, slot)
	}

	require.NoError(t, q.Put(&v))
	got, err := q.Take()
	require.NoError(t, err)
	require.Same(t, &v, got)
}

func TestQueueBackpressure(t *testing.T) {
	q := MustQueue[int](queueCapacity)
	for i := range queueCapacity {
		require.NoError(t, q.Put(i))
	}

	var blocked atomic.Bool
	blocked.Store(true)
	done := make(chan error, 1)
	go func() {
		err := q.Put(queueCapacity)
		blocked.Store(false)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, blocked.Load())

	v, err := q.Take()
	require.NoError(t, err)
	require.Equal(t, 0, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("put stayed blocked after take")
	}
	require.Equal(t, queueCapacity, q.Len())
}

func feed(q *Queue[item]) {
	for range messageCount {
		if q.Put(item{}) != nil {
			return
		}
	}
}

func consume(q *Queue[item], count *atomic.Uint64) {
	for count.Load() < messageCount {
		if _, err := q.Take(); err != nil {
			return
		}
		count.Add(1)
	}
}

func BenchmarkQueue(b *testing.B) {
	b.Run("single_producer_single_consumer", func(b *testing.B) {
		for b.Loop() {
			q := MustQueue[item](queueCapacity)

			var count atomic.Uint64
			var wg sync.WaitGroup

			wg.Add(1)
			go func() {
				defer wg.Done()
				feed(q)
			}()

			wg.Add(1)
			go func() {
				defer wg.Done()
				consume(q, &count)
			}()

			wg.Wait()

			require.Equal(b, messageCount, count.Load())
		}
	})
}
