package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/memory"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

var errConnectionLost = errors.New("connection lost")

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry())
}

func seedCourse(t testing.TB, s store.Store, key string, capacity int) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), course.Path(key), course.Template{
		DayOfWeek: "Monday",
		Time:      "10:00",
		Capacity:  capacity,
		Duration:  60,
		Price:     12.5,
		ClassType: "Flow Yoga",
	}))
}

func seedClass(t testing.TB, s store.Store, key, courseKey string, slots int, status class.Status) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), class.Path(key), class.Session{
		CourseKey:          courseKey,
		Date:               "01/06/2026",
		AssignedInstructor: "Aiko",
		SlotsAvailable:     slots,
		Status:             status,
	}))
}

func slotsOf(t *testing.T, s store.Store, key string) int {
	t.Helper()
	snap, err := s.Get(context.Background(), store.JoinPath(class.Path(key), class.SlotsField))
	require.NoError(t, err)
	n, ok := store.AsInt(snap.Value)
	require.True(t, ok)
	return n
}

func exists(t *testing.T, s store.Store, path string) bool {
	t.Helper()
	snap, err := s.Get(context.Background(), path)
	require.NoError(t, err)
	return snap.Exists()
}

// assertConsistent は予約ドキュメントと2つの索引が一致していることを確認する
func assertConsistent(t *testing.T, s store.Store, users, classes []string) {
	t.Helper()
	for _, u := range users {
		for _, c := range classes {
			b := exists(t, s, booking.Path(booking.ID(u, c)))
			ui := exists(t, s, booking.UserIndexEntryPath(u, c))
			ci := exists(t, s, booking.ClassIndexEntryPath(c, u))
			require.Equal(t, b, ui, "user index for %s/%s", u, c)
			require.Equal(t, b, ci, "class index for %s/%s", c, u)
		}
	}
}

// faultyStore は指定した操作だけ失敗させる
type faultyStore struct {
	store.Store

	mu          sync.Mutex
	getErr      error
	updateErr   error
	transactErr error
	setErr      error
}

func (f *faultyStore) fail(get, update, transact, set error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErr, f.updateErr, f.transactErr, f.setErr = get, update, transact, set
}

func (f *faultyStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	f.mu.Lock()
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return store.Snapshot{}, err
	}
	return f.Store.Get(ctx, path)
}

func (f *faultyStore) Set(ctx context.Context, path string, value any) error {
	f.mu.Lock()
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Set(ctx, path, value)
}

func (f *faultyStore) Update(ctx context.Context, updates map[string]any) error {
	f.mu.Lock()
	err := f.updateErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Update(ctx, updates)
}

func (f *faultyStore) Transact(ctx context.Context, path string, fn store.TransactFunc) (store.Snapshot, bool, error) {
	f.mu.Lock()
	err := f.transactErr
	f.mu.Unlock()
	if err != nil {
		return store.Snapshot{}, false, err
	}
	return f.Store.Transact(ctx, path, fn)
}

// slowStore は読み取りごとに遅延を入れ、処理の重なりを起こしやすくする
type slowStore struct {
	store.Store
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	time.Sleep(s.delay)
	return s.Store.Get(ctx, path)
}

// countingStore は開いている購読の数を数える
type countingStore struct {
	store.Store

	mu     sync.Mutex
	active map[string]int
	opened map[string]int
}

func newCountingStore(inner store.Store) *countingStore {
	return &countingStore{Store: inner, active: map[string]int{}, opened: map[string]int{}}
}

func (c *countingStore) Subscribe(ctx context.Context, path string, cb func(store.Snapshot)) (store.Unsubscribe, error) {
	unsub, err := c.Store.Subscribe(ctx, path, cb)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.active[path]++
	c.opened[path]++
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.active[path]--
			c.mu.Unlock()
			unsub()
		})
	}, nil
}

func (c *countingStore) counts(path string) (active, opened int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[path], c.opened[path]
}

func (c *countingStore) totalActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.active {
		n += v
	}
	return n
}

// MockEventPublisher は EventPublisher のモック
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishJSON(ctx context.Context, key string, v any) error {
	args := m.Called(ctx, key, v)
	return args.Error(0)
}

// MockBookingGuard は BookingGuard のモック
type MockBookingGuard struct {
	mock.Mock
}

func (m *MockBookingGuard) Acquire(ctx context.Context, bookingID string) (func(context.Context) error, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func(context.Context) error), args.Error(1)
}

// MockCourseCache は CourseCache のモック
type MockCourseCache struct {
	mock.Mock
}

func (m *MockCourseCache) Get(ctx context.Context) ([]*course.Template, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*course.Template), args.Error(1)
}

func (m *MockCourseCache) Set(ctx context.Context, courses []*course.Template) error {
	args := m.Called(ctx, courses)
	return args.Error(0)
}

func (m *MockCourseCache) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
