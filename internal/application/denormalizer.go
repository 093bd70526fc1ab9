package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/domain/user"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// Denormalizer は予約ドキュメントと2つのインデックスをまとめて書き込み・削除する
type Denormalizer struct {
	store   store.Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDenormalizer は新しい Denormalizer を作成する。m は nil 可
func NewDenormalizer(s store.Store, m *metrics.Metrics) *Denormalizer {
	return &Denormalizer{store: s, metrics: m, now: time.Now}
}

// Materialize は予約を組み立て、予約・ユーザー索引・クラス索引を1回のマルチパス更新で書き込む。
// 書き込みに失敗しても組み立てた予約は返す（エラーは ErrPartialDenormalizationFailure）
func (d *Denormalizer) Materialize(ctx context.Context, who booking.Identity, cls *class.Session, crs *course.Template) (*booking.Booking, error) {
	b := booking.New(who, cls, crs, d.now())
	err := d.store.Update(ctx, map[string]any{
		booking.Path(b.ID):                              b,
		booking.UserIndexEntryPath(who.UserID, cls.Key):  true,
		booking.ClassIndexEntryPath(cls.Key, who.UserID): true,
	})
	if err != nil {
		d.fail(ctx, "materialize", who.UserID, cls.Key, err)
		return b, fmt.Errorf("%w: %w", booking.ErrPartialDenormalizationFailure, err)
	}
	return b, nil
}

// Dematerialize は予約・ユーザー索引・クラス索引を1回のマルチパス更新で削除する
func (d *Denormalizer) Dematerialize(ctx context.Context, userID, classKey string) error {
	err := d.store.Update(ctx, map[string]any{
		booking.Path(booking.ID(userID, classKey)):    nil,
		booking.UserIndexEntryPath(userID, classKey):  nil,
		booking.ClassIndexEntryPath(classKey, userID): nil,
	})
	if err != nil {
		d.fail(ctx, "dematerialize", userID, classKey, err)
		return fmt.Errorf("%w: %w", booking.ErrPartialDenormalizationFailure, err)
	}
	return nil
}

// PropagateNameChange はユーザーの全予約の userName とプロフィールの表示名を1回の更新で書き換える。
// 失敗はログに残すのみで呼び出し元には返さない
func (d *Denormalizer) PropagateNameChange(ctx context.Context, userID, displayName string) {
	log := logger.FromContext(ctx).With(zap.String("user_id", userID))

	index, err := d.store.Get(ctx, booking.UserIndexPath(userID))
	if err != nil {
		d.metrics.ObserveDenormalizationFailure("propagate_name")
		log.Error("予約インデックスの取得に失敗", zap.Error(err))
		return
	}

	updates := map[string]any{
		user.DisplayNamePath(userID): displayName,
	}
	for _, classKey := range index.Keys() {
		id := booking.ID(userID, classKey)
		// 索引だけ残った予約に userName だけのドキュメントを作らない
		snap, err := d.store.Get(ctx, booking.Path(id))
		if err != nil {
			d.metrics.ObserveDenormalizationFailure("propagate_name")
			log.Error("予約の取得に失敗", zap.String("booking_id", id), zap.Error(err))
			return
		}
		if !snap.Exists() {
			continue
		}
		updates[store.JoinPath(booking.Path(id), booking.UserNameField)] = displayName
	}

	if err := d.store.Update(ctx, updates); err != nil {
		d.metrics.ObserveDenormalizationFailure("propagate_name")
		log.Error("表示名の反映に失敗", zap.Int("bookings", len(updates)-1), zap.Error(err))
		return
	}
	log.Debug("表示名を予約に反映", zap.Int("bookings", len(updates)-1))
}

func (d *Denormalizer) fail(ctx context.Context, op, userID, classKey string, err error) {
	d.metrics.ObserveDenormalizationFailure(op)
	logger.FromContext(ctx).Error("座席数の更新後に予約インデックスの書き込みに失敗",
		zap.String("error_kind", "PartialDenormalizationFailure"),
		zap.String("operation", op),
		zap.String("user_id", userID),
		zap.String("class_key", classKey),
		zap.String("booking_id", booking.ID(userID, classKey)),
		zap.Error(err),
	)
}
