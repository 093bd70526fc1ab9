package store

import (
	"fmt"
	"strings"
)

const forbiddenChars = ".#$[]"

// SplitPath はパスをセグメントに分割する。ルートは空スライス
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}, nil
	}
	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(seg, forbiddenChars) {
			return nil, fmt.Errorf("%w: %q に使用できない文字が含まれています", ErrInvalidPath, path)
		}
	}
	return segments, nil
}

// JoinPath はセグメントを連結する
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// NormalizePath は前後のスラッシュを除いた正規形を返す
func NormalizePath(path string) (string, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "/"), nil
}

// Overlaps は一方のパスがもう一方の祖先（または同一）であるかを返す
func Overlaps(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	if len(a) < len(b) {
		return strings.HasPrefix(b, a+"/")
	}
	return strings.HasPrefix(a, b+"/")
}

// DocumentPath はパスが属するドキュメント（先頭2セグメント）を返す。
// 2セグメント未満の場合は ok が false
func DocumentPath(path string) (doc string, ok bool) {
	segments, err := SplitPath(path)
	if err != nil || len(segments) < 2 {
		return "", false
	}
	return segments[0] + "/" + segments[1], true
}
