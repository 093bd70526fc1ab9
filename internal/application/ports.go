package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
)

// イベントのルーティングキー
const (
	EventBookingCreated   = "booking.created"
	EventBookingCancelled = "booking.cancelled"
	EventUserRenamed      = "user.renamed"
)

// EventPublisher はドメインイベントを他サービスへ配信する
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// BookingGuard は同じ予約IDへの同時操作を排他する。
// 他で保持中の場合は booking.ErrBookingInProgress を返す
type BookingGuard interface {
	Acquire(ctx context.Context, bookingID string) (release func(context.Context) error, err error)
}

// CourseCache はコース一覧の読み取りキャッシュ
type CourseCache interface {
	Get(ctx context.Context) ([]*course.Template, error)
	Set(ctx context.Context, courses []*course.Template) error
	Invalidate(ctx context.Context) error
}

// BookingEvent は予約・キャンセル時に配信するイベント
type BookingEvent struct {
	BookingID  string    `json:"booking_id"`
	UserID     string    `json:"user_id"`
	ClassID    string    `json:"class_id"`
	ClassName  string    `json:"class_name,omitempty"`
	ClassDate  string    `json:"class_date,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// UserRenamedEvent は表示名変更時に配信するイベント
type UserRenamedEvent struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// publish はイベントを配信する。配信の失敗は業務処理の結果に影響させない
func publish(ctx context.Context, p EventPublisher, key string, v any) {
	if p == nil {
		return
	}
	if err := p.PublishJSON(ctx, key, v); err != nil {
		logger.FromContext(ctx).Warn("イベント配信に失敗", zap.String("event", key), zap.Error(err))
	}
}

// unavailable はストア起因のエラーを再試行可能な ErrStoreUnavailable で包む
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, booking.ErrStoreUnavailable, err)
}

// validKey はパスの1セグメントとして使えるキーかを返す
func validKey(key string) bool {
	if key == "" {
		return false
	}
	segs, err := store.SplitPath(key)
	return err == nil && len(segs) == 1
}

// isDomainError は呼び出し元にそのまま返すべきエラーかを返す
func isDomainError(err error) bool {
	for _, target := range []error{
		booking.ErrClassNotFound,
		booking.ErrCourseNotFound,
		booking.ErrClassNotBookable,
		booking.ErrClassFull,
		booking.ErrAlreadyBooked,
		booking.ErrBookingNotFound,
		booking.ErrBookingInProgress,
		booking.ErrNotAuthenticated,
		booking.ErrStoreUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
