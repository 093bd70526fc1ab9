package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/subscription"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/txretry"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// Store はプロセス内で完結する store.Store 実装
type Store struct {
	mu       sync.RWMutex
	root     any
	versions map[string]uint64
	writes   uint64
	closed   bool

	hub     *subscription.Hub
	policy  txretry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option は Store の設定を変更する
type Option func(*Store)

// WithRetryPolicy はトランザクションの再試行ポリシーを設定する
func WithRetryPolicy(p txretry.Policy) Option {
	return func(s *Store) { s.policy = p }
}

// WithMetrics はメトリクスを設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger はロガーを設定する
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New は空のメモリストアを作成する
func New(opts ...Option) *Store {
	s := &Store{
		versions: make(map[string]uint64),
		policy:   txretry.DefaultPolicy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = subscription.NewHub(s.logger)
	return s
}

type offer struct {
	id   uint64
	rev  uint64
	snap store.Snapshot
}

// Get はパスの値を取得する
func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}
	segs, norm, err := split(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Snapshot{}, store.ErrClosed
	}
	return store.Snapshot{Path: norm, Value: store.Clone(store.ValueAt(s.root, segs))}, nil
}

// Set はパスに値を書き込む
func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

// Update は複数パスへの書き込みをアトミックに行う
func (s *Store) Update(ctx context.Context, updates map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	writes, err := store.PrepareUpdates(updates)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	offers := s.applyLocked(writes)
	s.mu.Unlock()

	s.deliver(offers)
	return nil
}

// Transact は楽観的な read-modify-write を行う
func (s *Store) Transact(ctx context.Context, path string, fn store.TransactFunc) (store.Snapshot, bool, error) {
	segs, norm, err := split(path)
	if err != nil {
		return store.Snapshot{}, false, err
	}

	var (
		result    store.Snapshot
		committed bool
	)
	err = txretry.Do(ctx, s.policy, func() error {
		s.mu.RLock()
		if s.closed {
			s.mu.RUnlock()
			return store.ErrClosed
		}
		current := store.Clone(store.ValueAt(s.root, segs))
		token := s.tokenLocked(segs)
		s.mu.RUnlock()

		next, err := fn(current)
		if errors.Is(err, store.ErrAbort) {
			result = store.Snapshot{Path: norm, Value: current}
			committed = false
			return nil
		}
		if err != nil {
			return err
		}
		normalized, err := store.Normalize(next)
		if err != nil {
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return store.ErrClosed
		}
		if s.tokenLocked(segs) != token {
			s.mu.Unlock()
			return store.ErrTxConflict
		}
		offers := s.applyLocked([]store.Write{{Path: norm, Segments: segs, Value: normalized}})
		s.mu.Unlock()

		s.deliver(offers)
		result = store.Snapshot{Path: norm, Value: store.Clone(normalized)}
		committed = true
		return nil
	}, func() {
		s.metrics.ObserveTransactionConflict("memory")
	})
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("%s のトランザクションに失敗: %w", norm, err)
	}
	return result, committed, nil
}

// Subscribe はパスの変更を購読する
func (s *Store) Subscribe(ctx context.Context, path string, cb func(store.Snapshot)) (store.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, norm, err := split(path)
	if err != nil {
		return nil, err
	}

	id, err := s.hub.Add(norm, cb)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	rev := s.hub.NextRev()
	initial := store.Snapshot{Path: norm, Value: store.Clone(store.ValueAt(s.root, segs))}
	s.mu.RUnlock()

	s.hub.Offer(id, rev, initial)
	return func() { s.hub.Remove(id) }, nil
}

// Close は全ての購読を解除し、以降の操作を拒否する
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.Close()
	return nil
}

// SubscriptionCount は登録中の購読数を返す
func (s *Store) SubscriptionCount() int {
	return s.hub.Len()
}

func split(path string) ([]string, string, error) {
	segs, err := store.SplitPath(path)
	if err != nil {
		return nil, "", err
	}
	return segs, store.JoinPath(segs...), nil
}

// tokenLocked はトランザクションの競合検出に使う値を返す。
// ドキュメント配下のパスはドキュメントのバージョン、それより浅いパスは全体の書き込み回数
func (s *Store) tokenLocked(segs []string) uint64 {
	if len(segs) < 2 {
		return s.writes
	}
	return s.versions[segs[0]+"/"+segs[1]]
}

// applyLocked は書き込みを反映し、購読者への配信内容を組み立てる。s.mu を保持して呼ぶこと
func (s *Store) applyLocked(writes []store.Write) []offer {
	changed := make([]string, 0, len(writes))
	for _, w := range writes {
		before := store.ValueAt(s.root, w.Segments)
		s.root = store.SetAt(s.root, w.Segments, store.Clone(w.Value))
		s.bumpLocked(w.Segments, before)
		changed = append(changed, w.Path)
	}
	s.writes++

	targets := s.hub.Matching(changed)
	if len(targets) == 0 {
		return nil
	}
	rev := s.hub.NextRev()
	offers := make([]offer, 0, len(targets))
	for _, t := range targets {
		segs, _ := store.SplitPath(t.Path)
		offers = append(offers, offer{
			id:   t.ID,
			rev:  rev,
			snap: store.Snapshot{Path: t.Path, Value: store.Clone(store.ValueAt(s.root, segs))},
		})
	}
	return offers
}

// bumpLocked は書き込みの影響を受けるドキュメントのバージョンを進める
func (s *Store) bumpLocked(segs []string, before any) {
	if len(segs) >= 2 {
		s.versions[segs[0]+"/"+segs[1]]++
		return
	}
	after := store.ValueAt(s.root, segs)
	for _, doc := range documentsUnder(segs, before, after) {
		s.versions[doc]++
	}
}

// documentsUnder はコレクション以上の階層の値に含まれるドキュメントのパスを列挙する
func documentsUnder(segs []string, values ...any) []string {
	seen := make(map[string]struct{})
	for _, v := range values {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		switch len(segs) {
		case 0:
			for collection, docs := range m {
				if dm, ok := docs.(map[string]any); ok {
					for key := range dm {
						seen[collection+"/"+key] = struct{}{}
					}
				}
			}
		case 1:
			for key := range m {
				seen[segs[0]+"/"+key] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for doc := range seen {
		out = append(out, doc)
	}
	return out
}

func (s *Store) deliver(offers []offer) {
	for _, o := range offers {
		s.hub.Offer(o.id, o.rev, o.snap)
	}
}

var _ store.Store = (*Store)(nil)
