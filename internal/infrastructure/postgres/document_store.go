package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/subscription"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/txretry"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// NotifyChannel は documents テーブルのトリガーが通知するチャンネル名
const NotifyChannel = "document_changes"

const selectDocuments = `SELECT collection, key, data, version FROM documents`

type documentRow struct {
	Collection string `db:"collection"`
	Key        string `db:"key"`
	Data       []byte `db:"data"`
	Version    int64  `db:"version"`
}

func (r *documentRow) value() (any, error) {
	var v any
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return nil, fmt.Errorf("%s/%s のデコードに失敗: %w", r.Collection, r.Key, err)
	}
	return v, nil
}

type docKey struct {
	collection string
	key        string
}

// DocumentStore は PostgreSQL の jsonb ドキュメントで store.Store を実装する。
// パスの先頭2セグメントが (collection, key) の1行に対応する
type DocumentStore struct {
	db      *sqlx.DB
	tx      *TxManager
	hub     *subscription.Hub
	policy  txretry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu       sync.Mutex
	listener *pq.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option は DocumentStore の設定を変更する
type Option func(*DocumentStore)

// WithRetryPolicy はトランザクションの再試行ポリシーを設定する
func WithRetryPolicy(p txretry.Policy) Option {
	return func(s *DocumentStore) { s.policy = p }
}

// WithMetrics はメトリクスを設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *DocumentStore) { s.metrics = m }
}

// WithLogger はロガーを設定する
func WithLogger(l *zap.Logger) Option {
	return func(s *DocumentStore) { s.logger = l }
}

// NewDocumentStore は新しい DocumentStore を作成する
func NewDocumentStore(db *sqlx.DB, opts ...Option) *DocumentStore {
	s := &DocumentStore{
		db:     db,
		tx:     NewTxManager(db),
		policy: txretry.DefaultPolicy,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = subscription.NewHub(s.logger)
	return s
}

// Get はパスの値を取得する
func (s *DocumentStore) Get(ctx context.Context, path string) (store.Snapshot, error) {
	segs, err := store.SplitPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	value, err := s.read(ctx, s.db, segs)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: store.JoinPath(segs...), Value: value}, nil
}

// Set はパスに値を書き込む
func (s *DocumentStore) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

// Update は複数パスへの書き込みを1つのトランザクションで行う
func (s *DocumentStore) Update(ctx context.Context, updates map[string]any) error {
	writes, err := store.PrepareUpdates(updates)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	return s.tx.Run(ctx, func(tx *sqlx.Tx) error {
		return s.applyWrites(ctx, tx, writes)
	})
}

// Transact はドキュメントの version 列による楽観的ロックで read-modify-write を行う
func (s *DocumentStore) Transact(ctx context.Context, path string, fn store.TransactFunc) (store.Snapshot, bool, error) {
	segs, err := store.SplitPath(path)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	norm := store.JoinPath(segs...)
	if len(segs) < 2 {
		return store.Snapshot{}, false, fmt.Errorf("%w: トランザクションはドキュメント配下のパスのみ対応しています: %q", store.ErrInvalidPath, norm)
	}
	k := docKey{collection: segs[0], key: segs[1]}

	var (
		result    store.Snapshot
		committed bool
	)
	err = txretry.Do(ctx, s.policy, func() error {
		doc, version, err := s.readDocument(ctx, s.db, k, false)
		if err != nil {
			return err
		}
		current := store.Clone(store.ValueAt(doc, segs[2:]))

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

		updated := store.SetAt(doc, segs[2:], store.Clone(normalized))
		if err := s.compareAndSwap(ctx, k, version, updated); err != nil {
			return err
		}
		result = store.Snapshot{Path: norm, Value: normalized}
		committed = true
		return nil
	}, func() {
		s.metrics.ObserveTransactionConflict("postgres")
	})
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("%s のトランザクションに失敗: %w", norm, err)
	}
	return result, committed, nil
}

// Listen は LISTEN/NOTIFY による変更通知の受信を開始する。呼ぶまで Subscribe は使えない
func (s *DocumentStore) Listen(dsn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	l := pq.NewListener(dsn, 100*time.Millisecond, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("変更通知リスナーでエラー", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := l.Listen(NotifyChannel); err != nil {
		_ = l.Close()
		return fmt.Errorf("LISTEN %s に失敗: %w", NotifyChannel, err)
	}

	s.listener = l
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.dispatch(l, s.stopCh, s.doneCh)
	return nil
}

// Subscribe はパスの変更を購読する
func (s *DocumentStore) Subscribe(ctx context.Context, path string, cb func(store.Snapshot)) (store.Unsubscribe, error) {
	s.mu.Lock()
	listening := s.listener != nil
	s.mu.Unlock()
	if !listening {
		return nil, store.ErrSubscriptionsDisabled
	}

	norm, err := store.NormalizePath(path)
	if err != nil {
		return nil, err
	}
	id, err := s.hub.Add(norm, cb)
	if err != nil {
		return nil, err
	}

	rev := s.hub.NextRev()
	initial, err := s.Get(ctx, norm)
	if err != nil {
		s.hub.Remove(id)
		return nil, err
	}
	s.hub.Offer(id, rev, initial)
	return func() { s.hub.Remove(id) }, nil
}

// Close は変更通知の受信を止め、全ての購読を解除する。DB 接続は閉じない
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	l := s.listener
	stopCh, doneCh := s.stopCh, s.doneCh
	s.listener = nil
	s.mu.Unlock()

	var err error
	if l != nil {
		close(stopCh)
		<-doneCh
		err = l.Close()
	}
	s.hub.Close()
	return err
}

// Reset は全てのドキュメントを削除する
func (s *DocumentStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	return nil
}

func (s *DocumentStore) dispatch(l *pq.Listener, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// 再接続後は通知を取りこぼしている可能性があるため全購読を読み直す
				s.refresh(s.hub.All())
				continue
			}
			s.refresh(s.hub.Matching([]string{n.Extra}))
		case <-ticker.C:
			go func() { _ = l.Ping() }()
		}
	}
}

func (s *DocumentStore) refresh(targets []subscription.Target) {
	if len(targets) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, t := range targets {
		rev := s.hub.NextRev()
		snap, err := s.Get(ctx, t.Path)
		if err != nil {
			s.logger.Warn("購読中のパスの再取得に失敗", zap.String("path", t.Path), zap.Error(err))
			continue
		}
		s.hub.Offer(t.ID, rev, snap)
	}
}

func (s *DocumentStore) read(ctx context.Context, q sqlx.QueryerContext, segs []string) (any, error) {
	var rows []documentRow
	var err error
	switch len(segs) {
	case 0:
		err = sqlx.SelectContext(ctx, q, &rows, selectDocuments)
	case 1:
		err = sqlx.SelectContext(ctx, q, &rows, selectDocuments+` WHERE collection = $1`, segs[0])
	default:
		err = sqlx.SelectContext(ctx, q, &rows, selectDocuments+` WHERE collection = $1 AND key = $2`, segs[0], segs[1])
	}
	if err != nil {
		return nil, fmt.Errorf("ドキュメント取得に失敗: %w", err)
	}

	var root any
	for i := range rows {
		v, err := rows[i].value()
		if err != nil {
			return nil, err
		}
		root = store.SetAt(root, []string{rows[i].Collection, rows[i].Key}, v)
	}
	return store.ValueAt(root, segs), nil
}

// readDocument は1ドキュメントを読む。存在しない場合は version 0
func (s *DocumentStore) readDocument(ctx context.Context, q sqlx.QueryerContext, k docKey, forUpdate bool) (any, int64, error) {
	query := selectDocuments + ` WHERE collection = $1 AND key = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row, query, k.collection, k.key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("ドキュメント取得に失敗: %w", err)
	}
	v, err := row.value()
	if err != nil {
		return nil, 0, err
	}
	return v, row.Version, nil
}

func (s *DocumentStore) applyWrites(ctx context.Context, tx *sqlx.Tx, writes []store.Write) error {
	grouped := make(map[docKey][]store.Write)
	for _, w := range writes {
		if len(w.Segments) < 2 {
			if err := s.replaceSubtree(ctx, tx, w); err != nil {
				return err
			}
			continue
		}
		k := docKey{collection: w.Segments[0], key: w.Segments[1]}
		grouped[k] = append(grouped[k], w)
	}

	// 行ロックの取得順を固定する
	keys := make([]docKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].collection != keys[j].collection {
			return keys[i].collection < keys[j].collection
		}
		return keys[i].key < keys[j].key
	})

	for _, k := range keys {
		doc, _, err := s.readDocument(ctx, tx, k, true)
		if err != nil {
			return err
		}
		for _, w := range grouped[k] {
			doc = store.SetAt(doc, w.Segments[2:], store.Clone(w.Value))
		}
		if err := putDocument(ctx, tx, k, doc); err != nil {
			return err
		}
	}
	return nil
}

// replaceSubtree はルートまたはコレクション全体を置き換える
func (s *DocumentStore) replaceSubtree(ctx context.Context, tx *sqlx.Tx, w store.Write) error {
	if len(w.Segments) == 1 {
		return replaceCollection(ctx, tx, w.Segments[0], w.Value)
	}

	children, ok := w.Value.(map[string]any)
	if w.Value != nil && !ok {
		return fmt.Errorf("%w: ルートにはオブジェクトのみ書き込めます", store.ErrInvalidPath)
	}
	var existing []string
	if err := tx.SelectContext(ctx, &existing, `SELECT DISTINCT collection FROM documents`); err != nil {
		return fmt.Errorf("コレクション一覧の取得に失敗: %w", err)
	}
	collections := make(map[string]struct{}, len(existing)+len(children))
	for _, c := range existing {
		collections[c] = struct{}{}
	}
	for c := range children {
		collections[c] = struct{}{}
	}
	names := make([]string, 0, len(collections))
	for c := range collections {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		if err := replaceCollection(ctx, tx, c, children[c]); err != nil {
			return err
		}
	}
	return nil
}

func replaceCollection(ctx context.Context, tx *sqlx.Tx, collection string, value any) error {
	children, ok := value.(map[string]any)
	if value != nil && !ok {
		return fmt.Errorf("%w: コレクション %q 直下にはオブジェクトのみ書き込めます", store.ErrInvalidPath, collection)
	}

	var keys []string
	if err := tx.SelectContext(ctx, &keys, `SELECT key FROM documents WHERE collection = $1 ORDER BY key FOR UPDATE`, collection); err != nil {
		return fmt.Errorf("コレクション %q のロックに失敗: %w", collection, err)
	}
	for _, key := range keys {
		if _, ok := children[key]; !ok {
			if err := putDocument(ctx, tx, docKey{collection: collection, key: key}, nil); err != nil {
				return err
			}
		}
	}

	names := make([]string, 0, len(children))
	for key := range children {
		names = append(names, key)
	}
	sort.Strings(names)
	for _, key := range names {
		if err := putDocument(ctx, tx, docKey{collection: collection, key: key}, children[key]); err != nil {
			return err
		}
	}
	return nil
}

// putDocument はドキュメントを upsert する。doc が nil の場合は削除する
func putDocument(ctx context.Context, tx *sqlx.Tx, k docKey, doc any) error {
	if doc == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND key = $2`, k.collection, k.key); err != nil {
			return fmt.Errorf("%s/%s の削除に失敗: %w", k.collection, k.key, err)
		}
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%s/%s のエンコードに失敗: %w", k.collection, k.key, err)
	}
	query := `
		INSERT INTO documents (collection, key, data, version, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (collection, key)
		DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, query, k.collection, k.key, string(data)); err != nil {
		return fmt.Errorf("%s/%s の保存に失敗: %w", k.collection, k.key, err)
	}
	return nil
}

// compareAndSwap は読み取り時の version から変わっていない場合のみ書き込む
func (s *DocumentStore) compareAndSwap(ctx context.Context, k docKey, version int64, doc any) error {
	if version == 0 && doc == nil {
		return nil
	}

	var (
		res sql.Result
		err error
	)
	switch {
	case doc == nil:
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND key = $2 AND version = $3`,
			k.collection, k.key, version)
	default:
		data, mErr := json.Marshal(doc)
		if mErr != nil {
			return fmt.Errorf("%s/%s のエンコードに失敗: %w", k.collection, k.key, mErr)
		}
		if version == 0 {
			res, err = s.db.ExecContext(ctx, `
				INSERT INTO documents (collection, key, data, version, updated_at)
				VALUES ($1, $2, $3, 1, NOW())
				ON CONFLICT (collection, key) DO NOTHING`,
				k.collection, k.key, string(data))
		} else {
			res, err = s.db.ExecContext(ctx, `
				UPDATE documents SET data = $3, version = version + 1, updated_at = NOW()
				WHERE collection = $1 AND key = $2 AND version = $4`,
				k.collection, k.key, string(data), version)
		}
	}
	if err != nil {
		return fmt.Errorf("%s/%s の書き込みに失敗: %w", k.collection, k.key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s/%s の更新件数取得に失敗: %w", k.collection, k.key, err)
	}
	if n == 0 {
		return store.ErrTxConflict
	}
	return nil
}

var _ store.Store = (*DocumentStore)(nil)
