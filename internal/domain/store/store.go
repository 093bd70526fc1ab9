package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Store ドメインのエラー定義
var (
	ErrInvalidPath           = errors.New("無効なパスです")
	ErrAbort                 = errors.New("トランザクションが中断されました")
	ErrTxConflict            = errors.New("楽観的ロックの競合が発生しました")
	ErrSubscriptionsDisabled = errors.New("購読は利用できません")
	ErrClosed                = errors.New("ストアは既にクローズされています")
)

// Snapshot はあるパスの値を表す。値が存在しない場合は Value が nil になる
type Snapshot struct {
	Path  string
	Value any
}

// Exists は値が存在するかを返す
func (s Snapshot) Exists() bool {
	return s.Value != nil
}

// Decode は値を構造体に変換する
func (s Snapshot) Decode(v any) error {
	if s.Value == nil {
		return fmt.Errorf("%s: 値が存在しません", s.Path)
	}
	b, err := json.Marshal(s.Value)
	if err != nil {
		return fmt.Errorf("%s: エンコードに失敗: %w", s.Path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%s: デコードに失敗: %w", s.Path, err)
	}
	return nil
}

// Keys は子要素のキーをソートして返す。値がオブジェクトでない場合は nil
func (s Snapshot) Keys() []string {
	m, ok := s.Value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child は子要素のスナップショットを返す
func (s Snapshot) Child(key string) Snapshot {
	path := JoinPath(s.Path, key)
	m, ok := s.Value.(map[string]any)
	if !ok {
		return Snapshot{Path: path}
	}
	return Snapshot{Path: path, Value: m[key]}
}

// TransactFunc は現在値を受け取り新しい値を返す。
// ErrAbort を返すと何も書き込まずに終了し、その他のエラーはそのまま呼び出し元に返る
type TransactFunc func(current any) (any, error)

// Unsubscribe は購読を解除する
type Unsubscribe func()

// Store は階層型ドキュメントツリーへのアクセスを抽象化する
type Store interface {
	// Get はパスの値を取得する
	Get(ctx context.Context, path string) (Snapshot, error)

	// Set はパスに値を書き込む。nil は削除を意味する
	Set(ctx context.Context, path string, value any) error

	// Update は複数パスへの書き込みをアトミックに行う
	Update(ctx context.Context, updates map[string]any) error

	// Transact は楽観的な read-modify-write を行い、競合時は自動的にリトライする。
	// committed が false の場合は fn が ErrAbort を返したことを示す
	Transact(ctx context.Context, path string, fn TransactFunc) (snap Snapshot, committed bool, err error)

	// Subscribe はパスの変更を購読する。初回のスナップショットも非同期に届く。
	// コールバックは購読ごとに直列に呼ばれ、最新値のみが届く（中間値は省略されうる）
	Subscribe(ctx context.Context, path string, cb func(Snapshot)) (Unsubscribe, error)
}
