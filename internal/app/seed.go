package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// SeedData は初期データファイルの形式（{"courses": {...}, "classes": {...}}）
type SeedData struct {
	Courses map[string]course.Template `json:"courses"`
	Classes map[string]SeedClass       `json:"classes"`
}

// SeedClass は空き枠数を省略できるクラス定義
type SeedClass struct {
	class.Session
	SlotsAvailable *int `json:"slotsAvailable,omitempty"`
}

// SeedResult は投入した件数
type SeedResult struct {
	Courses int
	Classes int
}

// ReadSeed は初期データを読み込む
func ReadSeed(r io.Reader) (*SeedData, error) {
	var data SeedData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("初期データの読み込みに失敗: %w", err)
	}
	return &data, nil
}

// Seed はコースとクラスを1回の複数パス更新で書き込む。
// 空き枠数が省略されたクラスは実効定員で、状態が省略されたクラスは active で作成する
func Seed(ctx context.Context, s store.Store, data *SeedData) (SeedResult, error) {
	updates := make(map[string]any, len(data.Courses)+len(data.Classes))
	for key, c := range data.Courses {
		updates[course.Path(key)] = c
	}
	for key, sc := range data.Classes {
		cls := sc.Session
		crs, ok := data.Courses[cls.CourseKey]
		if !ok {
			return SeedResult{}, fmt.Errorf("クラス %s のコース %q が初期データにありません", key, cls.CourseKey)
		}
		if sc.SlotsAvailable != nil {
			cls.SlotsAvailable = *sc.SlotsAvailable
		} else {
			cls.SlotsAvailable = cls.EffectiveCapacity(&crs)
		}
		if cls.Status == "" {
			cls.Status = class.StatusActive
		}
		updates[class.Path(key)] = cls
	}
	if len(updates) == 0 {
		return SeedResult{}, nil
	}
	if err := s.Update(ctx, updates); err != nil {
		return SeedResult{}, fmt.Errorf("初期データの書き込みに失敗: %w", err)
	}
	return SeedResult{Courses: len(data.Courses), Classes: len(data.Classes)}, nil
}
