package course

import (
	"fmt"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// CollectionPath はコース一覧のパス
const CollectionPath = "courses"

// Template はクラスの雛形となるコースを表す（コアからは読み取り専用）
type Template struct {
	Key             string  `json:"-"`
	DayOfWeek       string  `json:"dayOfWeek"`
	Time            string  `json:"time"`
	Capacity        int     `json:"capacity"`
	Duration        int     `json:"duration"`
	Price           float64 `json:"price"`
	ClassType       string  `json:"classType"`
	Description     string  `json:"description,omitempty"`
	InstructorName  string  `json:"instructorName,omitempty"`
	RoomNumber      string  `json:"roomNumber,omitempty"`
	DifficultyLevel string  `json:"difficultyLevel,omitempty"`
	EquipmentNeeded string  `json:"equipmentNeeded,omitempty"`
	AgeGroup        string  `json:"ageGroup,omitempty"`
	CreatedDate     int64   `json:"createdDate,omitempty"`
}

// Path はコースドキュメントのパスを返す
func Path(key string) string {
	return store.JoinPath(CollectionPath, key)
}

// FromSnapshot はスナップショットからコースを復元する
func FromSnapshot(snap store.Snapshot) (*Template, error) {
	var t Template
	if err := snap.Decode(&t); err != nil {
		return nil, err
	}
	segments, _ := store.SplitPath(snap.Path)
	if len(segments) > 0 {
		t.Key = segments[len(segments)-1]
	}
	return &t, nil
}

// ListFromSnapshot はコレクションのスナップショットからコース一覧を復元する
func ListFromSnapshot(snap store.Snapshot) ([]*Template, error) {
	keys := snap.Keys()
	out := make([]*Template, 0, len(keys))
	for _, key := range keys {
		t, err := FromSnapshot(snap.Child(key))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DisplayName は "種類 - 曜日 at 時刻" 形式の表示名を返す
func (t *Template) DisplayName() string {
	return fmt.Sprintf("%s - %s at %s", t.ClassType, t.DayOfWeek, t.Time)
}

// FormatPrice は価格を表示用に整形する
func FormatPrice(price float64) string {
	return fmt.Sprintf("£%.2f", price)
}
