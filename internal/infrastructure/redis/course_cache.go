package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

const courseCatalogKey = "catalog:courses"

// CourseCache はコース一覧のキャッシュを管理する
type CourseCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

// NewCourseCache は新しいCourseCacheインスタンスを作成する
func NewCourseCache(client *redis.Client, ttl time.Duration, m *metrics.Metrics) *CourseCache {
	return &CourseCache{client: client, ttl: ttl, metrics: m}
}

// Get はキャッシュからコース一覧を取得する
func (c *CourseCache) Get(ctx context.Context) ([]*course.Template, error) {
	raw, err := c.client.Get(ctx, courseCatalogKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.ObserveCourseCache("miss")
			return nil, ErrCacheMiss
		}
		c.metrics.ObserveCourseCache("error")
		return nil, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}

	// Key は JSON に含まれないため map のキーで保持する
	var byKey map[string]*course.Template
	if err := json.Unmarshal(raw, &byKey); err != nil {
		c.metrics.ObserveCourseCache("error")
		return nil, fmt.Errorf("キャッシュのデコードに失敗: %w", err)
	}
	c.metrics.ObserveCourseCache("hit")

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*course.Template, 0, len(keys))
	for _, k := range keys {
		t := byKey[k]
		t.Key = k
		out = append(out, t)
	}
	return out, nil
}

// Set はコース一覧をキャッシュに保存する
func (c *CourseCache) Set(ctx context.Context, courses []*course.Template) error {
	byKey := make(map[string]*course.Template, len(courses))
	for _, t := range courses {
		byKey[t.Key] = t
	}
	raw, err := json.Marshal(byKey)
	if err != nil {
		return fmt.Errorf("キャッシュのエンコードに失敗: %w", err)
	}
	if err := c.client.Set(ctx, courseCatalogKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate はキャッシュを無効化する
func (c *CourseCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, courseCatalogKey).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}
