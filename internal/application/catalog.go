package application

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
)

// 時間帯
const (
	TimeOfDayMorning   = "morning"
	TimeOfDayAfternoon = "afternoon"
	TimeOfDayEvening   = "evening"
)

// JoinClassesWithCourses はクラスにコースを結合する。コースが見つからないクラスは Course が nil になる
func JoinClassesWithCourses(classes []*class.Session, courses []*course.Template) []*class.Enriched {
	byKey := make(map[string]*course.Template, len(courses))
	for _, c := range courses {
		byKey[c.Key] = c
	}
	out := make([]*class.Enriched, 0, len(classes))
	for _, s := range classes {
		out = append(out, &class.Enriched{Session: *s, Course: byKey[s.CourseKey]})
	}
	return out
}

// ClassFilter はクラス一覧の検索条件。空の項目は無視する
type ClassFilter struct {
	Name      string
	Day       string
	TimeOfDay string
	CourseKey string
}

// IsEmpty は条件が1つも指定されていないかを返す
func (f ClassFilter) IsEmpty() bool {
	return f.Name == "" && f.Day == "" && f.TimeOfDay == "" && f.CourseKey == ""
}

// Match はクラスが条件に一致するかを返す。条件があるときコースのないクラスは一致しない
func (f ClassFilter) Match(c *class.Enriched) bool {
	if f.IsEmpty() {
		return true
	}
	if c.Course == nil {
		return false
	}
	if f.Name != "" {
		name := strings.ToLower(f.Name)
		if !strings.Contains(strings.ToLower(c.Course.ClassType), name) &&
			!strings.Contains(strings.ToLower(c.AssignedInstructor), name) {
			return false
		}
	}
	if f.Day != "" && !strings.EqualFold(c.Course.DayOfWeek, f.Day) {
		return false
	}
	if f.TimeOfDay != "" && c.Course.Time != "" && !matchTimeOfDay(c.Course.Time, f.TimeOfDay) {
		return false
	}
	if f.CourseKey != "" && c.Course.Key != f.CourseKey {
		return false
	}
	return true
}

func matchTimeOfDay(hhmm, timeOfDay string) bool {
	hour, err := strconv.Atoi(strings.SplitN(hhmm, ":", 2)[0])
	if err != nil {
		return false
	}
	switch timeOfDay {
	case TimeOfDayMorning:
		return hour >= 6 && hour < 12
	case TimeOfDayAfternoon:
		return hour >= 12 && hour < 18
	case TimeOfDayEvening:
		return hour >= 18 && hour < 22
	default:
		return true
	}
}

// SortByDate はクラス日付の昇順に並べ替える。日付が不正なものは末尾
func SortByDate(classes []*class.Enriched) {
	sort.SliceStable(classes, func(i, j int) bool {
		di, erri := classes[i].ParsedDate()
		dj, errj := classes[j].ParsedDate()
		switch {
		case erri != nil:
			return false
		case errj != nil:
			return true
		default:
			return di.Before(dj)
		}
	})
}

// CatalogService はコースとクラスの読み取り専用カタログ
type CatalogService struct {
	store store.Store
	cache CourseCache
}

// NewCatalogService は新しい CatalogService を作成する。cache は nil 可
func NewCatalogService(s store.Store, cache CourseCache) *CatalogService {
	return &CatalogService{store: s, cache: cache}
}

// ListCourses は全コースを返す。キャッシュがあれば優先し、失敗時はストアから読む
func (s *CatalogService) ListCourses(ctx context.Context) ([]*course.Template, error) {
	if s.cache != nil {
		if courses, err := s.cache.Get(ctx); err == nil {
			return courses, nil
		}
	}
	snap, err := s.store.Get(ctx, course.CollectionPath)
	if err != nil {
		return nil, unavailable("コース一覧の取得", err)
	}
	courses, err := course.ListFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, courses); err != nil {
			logger.FromContext(ctx).Warn("コースキャッシュの保存に失敗", zap.Error(err))
		}
	}
	return courses, nil
}

// ListClasses はコースを結合したクラス一覧を条件で絞り込み、日付順で返す
func (s *CatalogService) ListClasses(ctx context.Context, filter ClassFilter) ([]*class.Enriched, error) {
	snap, err := s.store.Get(ctx, class.CollectionPath)
	if err != nil {
		return nil, unavailable("クラス一覧の取得", err)
	}
	classes, err := class.ListFromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	courses, err := s.ListCourses(ctx)
	if err != nil {
		return nil, err
	}

	joined := JoinClassesWithCourses(classes, courses)
	out := joined[:0]
	for _, c := range joined {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	SortByDate(out)
	return out, nil
}

// GetClass はコースを結合したクラスを1件返す
func (s *CatalogService) GetClass(ctx context.Context, key string) (*class.Enriched, error) {
	if !validKey(key) {
		return nil, booking.ErrClassNotFound
	}
	snap, err := s.store.Get(ctx, class.Path(key))
	if err != nil {
		return nil, unavailable("クラスの取得", err)
	}
	if !snap.Exists() {
		return nil, booking.ErrClassNotFound
	}
	cls, err := class.FromSnapshot(snap)
	if err != nil {
		return nil, err
	}
	enriched := &class.Enriched{Session: *cls}
	if validKey(cls.CourseKey) {
		crsSnap, err := s.store.Get(ctx, course.Path(cls.CourseKey))
		if err != nil {
			return nil, unavailable("コースの取得", err)
		}
		if crsSnap.Exists() {
			if crs, err := course.FromSnapshot(crsSnap); err == nil {
				enriched.Course = crs
			}
		}
	}
	return enriched, nil
}

// IsBooked はユーザーがクラスを予約済みかを索引から返す
func (s *CatalogService) IsBooked(ctx context.Context, userID, classKey string) (bool, error) {
	if !validKey(userID) || !validKey(classKey) {
		return false, nil
	}
	snap, err := s.store.Get(ctx, booking.UserIndexEntryPath(userID, classKey))
	if err != nil {
		return false, unavailable("予約状況の取得", err)
	}
	return snap.Exists(), nil
}
