package subscription

import (
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// Target は変更通知の対象となる購読
type Target struct {
	ID   uint64
	Path string
}

// Hub はストア実装が共有する購読の管理と配信を行う。
// 購読ごとに1つのゴルーチンがコールバックを直列に呼び、未配信の値は最新のもので上書きされる
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	rev    atomic.Uint64
	wg     sync.WaitGroup
	logger *zap.Logger
}

type subscriber struct {
	id   uint64
	path string
	cb   func(store.Snapshot)

	mu        sync.Mutex
	pending   *store.Snapshot
	offered   uint64
	last      any
	delivered bool

	wake     chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
}

// NewHub は新しい Hub を作成する
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uint64]*subscriber),
		logger: logger,
	}
}

// NextRev は単調増加するリビジョン番号を払い出す。
// 値を読み取る前に取得すること（大きいリビジョンほど新しい値を表す）
func (h *Hub) NextRev() uint64 {
	return h.rev.Add(1)
}

// Add は購読を登録して配信ゴルーチンを起動する
func (h *Hub) Add(path string, cb func(store.Snapshot)) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, store.ErrClosed
	}
	h.nextID++
	s := &subscriber{
		id:   h.nextID,
		path: path,
		cb:   cb,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	h.subs[s.id] = s
	h.wg.Add(1)
	go h.run(s)
	return s.id, nil
}

// Remove は購読を解除する。実行中のコールバックの完了は待たない
func (h *Hub) Remove(id uint64) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		s.stop()
	}
}

// Matching は変更されたパスのいずれかと重なる購読を返す
func (h *Hub) Matching(changed []string) []Target {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Target
	for _, s := range h.subs {
		for _, p := range changed {
			if store.Overlaps(s.path, p) {
				out = append(out, Target{ID: s.id, Path: s.path})
				break
			}
		}
	}
	return out
}

// All は全ての購読を返す
func (h *Hub) All() []Target {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Target, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, Target{ID: s.id, Path: s.path})
	}
	return out
}

// Offer は購読に値を渡す。既に受け取ったものより古いリビジョンは捨てる
func (h *Hub) Offer(id, rev uint64, snap store.Snapshot) {
	h.mu.Lock()
	s, ok := h.subs[id]
	h.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	if rev <= s.offered {
		s.mu.Unlock()
		return
	}
	s.offered = rev
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Len は登録中の購読数を返す
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close は全ての購読を解除し、配信ゴルーチンの終了を待つ
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	h.wg.Wait()
}

func (h *Hub) run(s *subscriber) {
	defer h.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snap := s.pending
		s.pending = nil
		if snap == nil || (s.delivered && reflect.DeepEqual(s.last, snap.Value)) {
			s.mu.Unlock()
			continue
		}
		s.last = snap.Value
		s.delivered = true
		s.mu.Unlock()

		select {
		case <-s.quit:
			return
		default:
		}
		h.invoke(s, *snap)
	}
}

func (h *Hub) invoke(s *subscriber, snap store.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("購読コールバックでパニックが発生",
				zap.String("path", s.path),
				zap.Any("panic", r),
			)
		}
	}()
	s.cb(snap)
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}
