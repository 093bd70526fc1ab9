package subscription

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

type recorder struct {
	mu   sync.Mutex
	vals []any
}

func (r *recorder) cb(s store.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, s.Value)
}

func (r *recorder) values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.vals...)
}

func TestHub_Offer(t *testing.T) {
	h := NewHub(zap.NewNop())
	defer h.Close()

	rec := &recorder{}
	id, err := h.Add("classes/c1", rec.cb)
	require.NoError(t, err)

	h.Offer(id, h.NextRev(), store.Snapshot{Path: "classes/c1", Value: float64(1)})

	assert.Eventually(t, func() bool {
		return len(rec.values()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(1), rec.values()[0])
}

func TestHub_古いリビジョンは捨てる(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	rec := &recorder{}
	id, err := h.Add("classes/c1", rec.cb)
	require.NoError(t, err)

	older := h.NextRev()
	newer := h.NextRev()
	h.Offer(id, newer, store.Snapshot{Value: "new"})
	h.Offer(id, older, store.Snapshot{Value: "old"})

	assert.Eventually(t, func() bool {
		return len(rec.values()) >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []any{"new"}, rec.values())
}

func TestHub_同じ値は再配信しない(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	rec := &recorder{}
	id, err := h.Add("classes/c1", rec.cb)
	require.NoError(t, err)

	value := map[string]any{"slotsAvailable": float64(3)}
	h.Offer(id, h.NextRev(), store.Snapshot{Value: value})
	assert.Eventually(t, func() bool { return len(rec.values()) == 1 }, time.Second, 5*time.Millisecond)

	h.Offer(id, h.NextRev(), store.Snapshot{Value: map[string]any{"slotsAvailable": float64(3)}})
	h.Offer(id, h.NextRev(), store.Snapshot{Value: map[string]any{"slotsAvailable": float64(2)}})

	assert.Eventually(t, func() bool { return len(rec.values()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"slotsAvailable": float64(2)}, rec.values()[1])
}

func TestHub_初回のnilも配信する(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var calls atomic.Int32
	id, err := h.Add("bookings/u1_c1", func(store.Snapshot) { calls.Add(1) })
	require.NoError(t, err)

	h.Offer(id, h.NextRev(), store.Snapshot{Path: "bookings/u1_c1"})

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_Matching(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	noop := func(store.Snapshot) {}
	classes, _ := h.Add("classes", noop)
	c1, _ := h.Add("classes/c1", noop)
	_, _ = h.Add("userBookings/u1", noop)

	targets := h.Matching([]string{"classes/c1/slotsAvailable"})

	ids := make([]uint64, 0, len(targets))
	for _, tg := range targets {
		ids = append(ids, tg.ID)
	}
	assert.ElementsMatch(t, []uint64{classes, c1}, ids)
	assert.Len(t, h.All(), 3)
}

func TestHub_Remove(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	rec := &recorder{}
	id, err := h.Add("classes/c1", rec.cb)
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())

	h.Remove(id)
	h.Remove(id)
	h.Offer(id, h.NextRev(), store.Snapshot{Value: "x"})

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.values())
	assert.Equal(t, 0, h.Len())
}

func TestHub_コールバックのパニックで配信が止まらない(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var calls atomic.Int32
	id, err := h.Add("classes/c1", func(store.Snapshot) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)

	h.Offer(id, h.NextRev(), store.Snapshot{Value: "a"})
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	h.Offer(id, h.NextRev(), store.Snapshot{Value: "b"})
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	h := NewHub(nil)
	_, err := h.Add("classes", func(store.Snapshot) {})
	require.NoError(t, err)

	h.Close()
	h.Close()

	_, err = h.Add("classes", func(store.Snapshot) {})
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.Equal(t, 0, h.Len())
}
