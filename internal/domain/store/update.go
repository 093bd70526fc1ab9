package store

import (
	"fmt"
	"sort"
)

// Write は検証・正規化済みの1パス分の書き込み
type Write struct {
	Path     string
	Segments []string
	Value    any
}

// PrepareUpdates はマルチパス更新を検証し、パス順に並べた書き込みに変換する。
// 祖先・子孫関係にあるパスを同時に指定した場合は ErrInvalidPath
func PrepareUpdates(updates map[string]any) ([]Write, error) {
	writes := make([]Write, 0, len(updates))
	for p, v := range updates {
		segs, err := SplitPath(p)
		if err != nil {
			return nil, err
		}
		norm := JoinPath(segs...)
		value, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", norm, err)
		}
		writes = append(writes, Write{Path: norm, Segments: segs, Value: value})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].Path < writes[j].Path })
	for i := 1; i < len(writes); i++ {
		if Overlaps(writes[i-1].Path, writes[i].Path) {
			return nil, fmt.Errorf("%w: %q と %q が重なっています", ErrInvalidPath, writes[i-1].Path, writes[i].Path)
		}
	}
	return writes, nil
}
