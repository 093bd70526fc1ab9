package store

import (
	"encoding/json"
	"fmt"
)

// Normalize は任意の値を JSON 互換の汎用表現（map[string]any, []any, string, float64, bool）に変換する。
// 空のオブジェクトは nil になる
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("値のエンコードに失敗: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("値のデコードに失敗: %w", err)
	}
	return prune(out), nil
}

// prune は空オブジェクトと nil 要素を取り除く
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		child = prune(child)
		if child == nil {
			delete(m, k)
			continue
		}
		m[k] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// Clone は汎用表現の値をディープコピーする
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

// ValueAt はツリーからセグメントが指す値を取り出す
func ValueAt(root any, segments []string) any {
	cur := root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// SetAt はツリーのセグメント位置に値を設定した新しいルートを返す。
// value が nil の場合は削除し、空になった親も取り除く
func SetAt(root any, segments []string, value any) any {
	if len(segments) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		m = map[string]any{}
	}
	head := segments[0]
	child := SetAt(m[head], segments[1:], value)
	if child == nil {
		delete(m, head)
	} else {
		m[head] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// AsInt は JSON 数値を int として取り出す
func AsInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
