package class

import (
	"fmt"
	"strings"
	"time"

	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// Status はクラスの状態を表す
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// CollectionPath はクラス一覧のパス
const CollectionPath = "classes"

// SlotsField は空き枠数のフィールド名
const SlotsField = "slotsAvailable"

// DateLayout はクラス日付の書式（dd/MM/yyyy）
const DateLayout = "02/01/2006"

// Session は日付の決まったコースの1回分のクラスを表す
type Session struct {
	Key                string `json:"-"`
	CourseKey          string `json:"courseFirebaseKey"`
	Date               string `json:"date"`
	AssignedInstructor string `json:"assignedInstructor"`
	AdditionalComments string `json:"additionalComments,omitempty"`
	ActualCapacity     int    `json:"actualCapacity,omitempty"`
	SlotsAvailable     int    `json:"slotsAvailable"`
	Status             Status `json:"status"`
	CreatedDate        int64  `json:"createdDate,omitempty"`
}

// Enriched はコース情報を埋め込んだクラス。Course が nil の場合もある
type Enriched struct {
	Session
	Course *course.Template `json:"course,omitempty"`
}

// Path はクラスドキュメントのパスを返す
func Path(key string) string {
	return store.JoinPath(CollectionPath, key)
}

// FromSnapshot はスナップショットからクラスを復元する
func FromSnapshot(snap store.Snapshot) (*Session, error) {
	var s Session
	if err := snap.Decode(&s); err != nil {
		return nil, err
	}
	segments, _ := store.SplitPath(snap.Path)
	if len(segments) > 0 {
		s.Key = segments[len(segments)-1]
	}
	return &s, nil
}

// ListFromSnapshot はコレクションのスナップショットからクラス一覧を復元する
func ListFromSnapshot(snap store.Snapshot) ([]*Session, error) {
	keys := snap.Keys()
	out := make([]*Session, 0, len(keys))
	for _, key := range keys {
		s, err := FromSnapshot(snap.Child(key))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// NormalizedStatus は大文字小文字を無視した状態を返す
func (s *Session) NormalizedStatus() Status {
	return Status(strings.ToLower(string(s.Status)))
}

// IsBookable は予約を受け付けられる状態かを返す
func (s *Session) IsBookable() bool {
	return s.NormalizedStatus() == StatusActive
}

// EffectiveCapacity は上書き定員があればそれを、なければコースの既定定員を返す
func (s *Session) EffectiveCapacity(c *course.Template) int {
	if s.ActualCapacity > 0 {
		return s.ActualCapacity
	}
	if c == nil {
		return 0
	}
	return c.Capacity
}

// ParsedDate はクラス日付を time.Time に変換する
func (s *Session) ParsedDate() (time.Time, error) {
	return time.ParseInLocation(DateLayout, s.Date, time.Local)
}

// DayOfWeek は曜日名（英語）を返す。日付が不正な場合は空文字
func (s *Session) DayOfWeek() string {
	d, err := s.ParsedDate()
	if err != nil {
		return ""
	}
	return d.Weekday().String()
}

// IsPast はクラス日付が now の日付より前かを返す
func (s *Session) IsPast(now time.Time) bool {
	d, err := s.ParsedDate()
	if err != nil {
		return false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, d.Location())
	return d.Before(today)
}

// DisplayName は表示名を返す
func (s *Session) DisplayName(c *course.Template) string {
	if c != nil {
		return fmt.Sprintf("%s - %s", c.ClassType, s.Date)
	}
	return fmt.Sprintf("Class Session - %s", s.Date)
}
