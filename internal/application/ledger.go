package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-class-booking/internal/pkg/tracing"
)

// BookingLedger はクラスの空き枠数を唯一トランザクションで更新し、予約とキャンセルを処理する
type BookingLedger struct {
	store    store.Store
	denorm   *Denormalizer
	guard    BookingGuard
	events   EventPublisher
	metrics  *metrics.Metrics
	claimTTL time.Duration
	now      func() time.Time
}

// LedgerOption は BookingLedger の任意設定
type LedgerOption func(*BookingLedger)

// WithBookingGuard は予約IDごとの排他ロックを設定する
func WithBookingGuard(g BookingGuard) LedgerOption {
	return func(l *BookingLedger) { l.guard = g }
}

// WithEventPublisher はイベント配信先を設定する
func WithEventPublisher(p EventPublisher) LedgerOption {
	return func(l *BookingLedger) { l.events = p }
}

// WithLedgerMetrics はメトリクスを設定する
func WithLedgerMetrics(m *metrics.Metrics) LedgerOption {
	return func(l *BookingLedger) { l.metrics = m }
}

// WithClaimTTL は処理中マーカーを放棄されたとみなすまでの時間を設定する
func WithClaimTTL(d time.Duration) LedgerOption {
	return func(l *BookingLedger) {
		if d > 0 {
			l.claimTTL = d
		}
	}
}

// NewBookingLedger は新しい BookingLedger を作成する
func NewBookingLedger(s store.Store, d *Denormalizer, opts ...LedgerOption) *BookingLedger {
	l := &BookingLedger{store: s, denorm: d, claimTTL: booking.DefaultClaimTTL, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Book は予約IDを押さえてからクラスの空き枠を1つ確保し、予約と索引を書き込む。
// 索引の書き込みに失敗しても座席は確保済みのため予約を返す
func (l *BookingLedger) Book(ctx context.Context, who booking.Identity, classKey string) (b *booking.Booking, err error) {
	ctx, span := l.start(ctx, "BookingLedger.Book", who.UserID, classKey)
	defer func() { l.finish(span, "book", err) }()

	if who.UserID == "" || !validKey(who.UserID) {
		return nil, booking.ErrNotAuthenticated
	}
	if !validKey(classKey) {
		return nil, booking.ErrClassNotFound
	}

	id := booking.ID(who.UserID, classKey)
	log := logger.FromContext(ctx).With(
		zap.String("user_id", who.UserID),
		zap.String("class_key", classKey),
		zap.String("booking_id", id),
	)

	release, err := l.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	// 同じ組み合わせの並行リクエストやタイムアウト後の再試行で二重に座席を確保しない
	token, err := l.claim(ctx, who.UserID, classKey, log)
	if err != nil {
		return nil, err
	}
	keepClaim := false
	defer func() {
		if err != nil && !keepClaim {
			l.restore(ctx, id, token, nil, log)
		}
	}()

	cls, err := l.readClass(ctx, classKey)
	if err != nil {
		return nil, err
	}
	if !cls.IsBookable() {
		return nil, booking.ErrClassNotBookable
	}

	crs, err := l.readCourse(ctx, cls.CourseKey)
	if err != nil {
		return nil, err
	}

	snap, committed, err := l.store.Transact(ctx, class.Path(classKey), reserveSlot)
	if err != nil {
		err = transactError("座席の確保", err)
		// 確保できたか分からないので仮ドキュメントは TTL まで残す
		keepClaim = errors.Is(err, booking.ErrStoreUnavailable)
		return nil, err
	}
	if !committed {
		return nil, booking.ErrClassFull
	}
	if updated, err := class.FromSnapshot(snap); err == nil {
		cls = updated
	}

	// 失敗は Denormalizer がログとメトリクスに残す。座席の確保は取り消さない
	b, _ = l.denorm.Materialize(ctx, who, cls, crs)

	publish(ctx, l.events, EventBookingCreated, BookingEvent{
		BookingID:  b.ID,
		UserID:     b.UserID,
		ClassID:    b.ClassID,
		ClassName:  b.ClassName,
		ClassDate:  b.ClassDate,
		OccurredAt: time.Now().UTC(),
	})
	log.Info("予約を作成", zap.Int("slots_available", cls.SlotsAvailable))
	return b, nil
}

// Cancel は予約に処理中マーカーを付け、空き枠を1つ戻してから予約と索引を削除する
func (l *BookingLedger) Cancel(ctx context.Context, userID, classKey string) (err error) {
	ctx, span := l.start(ctx, "BookingLedger.Cancel", userID, classKey)
	defer func() { l.finish(span, "cancel", err) }()

	if userID == "" || !validKey(userID) {
		return booking.ErrNotAuthenticated
	}
	if !validKey(classKey) {
		return booking.ErrBookingNotFound
	}

	id := booking.ID(userID, classKey)
	log := logger.FromContext(ctx).With(
		zap.String("user_id", userID),
		zap.String("class_key", classKey),
		zap.String("booking_id", id),
	)

	release, err := l.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	previous, token, err := l.markCancelling(ctx, userID, classKey, log)
	if err != nil {
		return err
	}

	snap, _, err := l.store.Transact(ctx, class.Path(classKey), releaseSlot)
	if err != nil {
		err = transactError("座席の返却", err)
		if !errors.Is(err, booking.ErrStoreUnavailable) {
			l.restore(ctx, id, token, previous, log)
		}
		return err
	}

	// 失敗は Denormalizer がログとメトリクスに残す。座席の返却は取り消さない
	_ = l.denorm.Dematerialize(ctx, userID, classKey)

	var className, classDate string
	if b, err := booking.FromSnapshot(store.Snapshot{Path: booking.Path(id), Value: previous}); err == nil {
		className, classDate = b.ClassName, b.ClassDate
	}
	publish(ctx, l.events, EventBookingCancelled, BookingEvent{
		BookingID:  id,
		UserID:     userID,
		ClassID:    classKey,
		ClassName:  className,
		ClassDate:  classDate,
		OccurredAt: time.Now().UTC(),
	})

	slots, _ := store.AsInt(snap.Child(class.SlotsField).Value)
	log.Info("予約をキャンセル", zap.Int("slots_available", slots))
	return nil
}

// claim は予約IDに仮ドキュメントを書き込み、そのトークンを返す。
// 確定済みなら AlreadyBooked、他のリクエストが処理中なら BookingInProgress
func (l *BookingLedger) claim(ctx context.Context, userID, classKey string, log *zap.Logger) (string, error) {
	now := l.now()
	c := booking.NewClaim(userID, classKey, uuid.NewString(), now)

	var state booking.ClaimState
	_, committed, err := l.store.Transact(ctx, booking.Path(c.ID), func(current any) (any, error) {
		state = booking.StateOf(current, now, l.claimTTL)
		if state == booking.ClaimAbsent || state == booking.ClaimStale {
			return c, nil
		}
		return nil, store.ErrAbort
	})
	if err != nil {
		return "", unavailable("予約IDの確保", err)
	}
	if !committed {
		if state == booking.ClaimPending {
			return "", booking.ErrBookingInProgress
		}
		return "", booking.ErrAlreadyBooked
	}
	if state == booking.ClaimStale {
		log.Warn("放棄された処理中マーカーを引き継ぎ")
	}
	return c.ClaimToken, nil
}

// markCancelling は確定済みの予約に処理中マーカーを付け、付ける前のドキュメントとトークンを返す
func (l *BookingLedger) markCancelling(ctx context.Context, userID, classKey string, log *zap.Logger) (any, string, error) {
	id := booking.ID(userID, classKey)
	now := l.now()
	token := uuid.NewString()

	var (
		state    booking.ClaimState
		previous any
	)
	_, committed, err := l.store.Transact(ctx, booking.Path(id), func(current any) (any, error) {
		state = booking.StateOf(current, now, l.claimTTL)
		if state != booking.ClaimBooked {
			return nil, store.ErrAbort
		}
		previous = store.Clone(current)
		doc, ok := current.(map[string]any)
		if !ok {
			doc = map[string]any{}
		}
		booking.MarkPending(doc, token, now)
		return doc, nil
	})
	if err != nil {
		return nil, "", unavailable("予約の確認", err)
	}
	if committed {
		return previous, token, nil
	}

	switch state {
	case booking.ClaimPending:
		return nil, "", booking.ErrBookingInProgress
	case booking.ClaimStale:
		// 途中で止まった処理の残骸を片付ける。座席数のずれは SeatReconciler が直す
		log.Warn("放棄された処理中マーカーを削除")
		_ = l.denorm.Dematerialize(ctx, userID, classKey)
	}
	return nil, "", booking.ErrBookingNotFound
}

// restore は自分が付けた処理中マーカーを previous に戻す。previous が nil なら削除する
func (l *BookingLedger) restore(ctx context.Context, id, token string, previous any, log *zap.Logger) {
	_, _, err := l.store.Transact(context.WithoutCancel(ctx), booking.Path(id), func(current any) (any, error) {
		if booking.TokenOf(current) != token {
			return nil, store.ErrAbort
		}
		return store.Clone(previous), nil
	})
	if err != nil {
		log.Warn("処理中マーカーの解除に失敗", zap.Error(err))
	}
}

func (l *BookingLedger) readClass(ctx context.Context, key string) (*class.Session, error) {
	snap, err := l.store.Get(ctx, class.Path(key))
	if err != nil {
		return nil, unavailable("クラスの取得", err)
	}
	if !snap.Exists() {
		return nil, booking.ErrClassNotFound
	}
	cls, err := class.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("クラスの読み込みに失敗: %w", err)
	}
	return cls, nil
}

func (l *BookingLedger) readCourse(ctx context.Context, key string) (*course.Template, error) {
	if !validKey(key) {
		return nil, booking.ErrCourseNotFound
	}
	snap, err := l.store.Get(ctx, course.Path(key))
	if err != nil {
		return nil, unavailable("コースの取得", err)
	}
	if !snap.Exists() {
		return nil, booking.ErrCourseNotFound
	}
	crs, err := course.FromSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("コースの読み込みに失敗: %w", err)
	}
	return crs, nil
}

// acquire は排他ロックを取得し、解放関数を返す。ガード未設定なら何もしない
func (l *BookingLedger) acquire(ctx context.Context, bookingID string) (func(), error) {
	if l.guard == nil {
		return func() {}, nil
	}
	unlock, err := l.guard.Acquire(ctx, bookingID)
	if err != nil {
		if errors.Is(err, booking.ErrBookingInProgress) {
			return nil, booking.ErrBookingInProgress
		}
		return nil, unavailable("ロックの取得", err)
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.FromContext(ctx).Warn("ロックの解放に失敗", zap.String("booking_id", bookingID), zap.Error(err))
		}
	}, nil
}

func (l *BookingLedger) start(ctx context.Context, name, userID, classKey string) (context.Context, trace.Span) {
	return tracing.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.String("booking.user_id", userID),
		attribute.String("booking.class_key", classKey),
	))
}

func (l *BookingLedger) finish(span trace.Span, operation string, err error) {
	result := resultLabel(err)
	l.metrics.ObserveBooking(operation, result)
	span.SetAttributes(attribute.String("booking.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// reserveSlot は空き枠が残っていれば1つ減らす。残っていなければ書き込まずに中断する
func reserveSlot(current any) (any, error) {
	doc, ok := current.(map[string]any)
	if !ok {
		return nil, booking.ErrClassNotFound
	}
	status, _ := doc["status"].(string)
	if class.Status(strings.ToLower(status)) != class.StatusActive {
		return nil, booking.ErrClassNotBookable
	}
	slots, ok := store.AsInt(doc[class.SlotsField])
	if !ok || slots <= 0 {
		return nil, store.ErrAbort
	}
	doc[class.SlotsField] = slots - 1
	return doc, nil
}

// releaseSlot は空き枠を1つ戻す。定員による上限はかけない
func releaseSlot(current any) (any, error) {
	doc, ok := current.(map[string]any)
	if !ok {
		return nil, booking.ErrClassNotFound
	}
	slots, _ := store.AsInt(doc[class.SlotsField])
	doc[class.SlotsField] = slots + 1
	return doc, nil
}

// transactError はトランザクションのエラーを分類する。業務エラーはそのまま返す
func transactError(op string, err error) error {
	switch {
	case errors.Is(err, booking.ErrClassNotFound):
		return booking.ErrClassNotFound
	case errors.Is(err, booking.ErrClassNotBookable):
		return booking.ErrClassNotBookable
	default:
		return unavailable(op, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, booking.ErrClassFull):
		return "full"
	case errors.Is(err, booking.ErrClassNotBookable):
		return "not_bookable"
	case errors.Is(err, booking.ErrClassNotFound):
		return "class_not_found"
	case errors.Is(err, booking.ErrCourseNotFound):
		return "course_not_found"
	case errors.Is(err, booking.ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, booking.ErrBookingNotFound):
		return "booking_not_found"
	case errors.Is(err, booking.ErrBookingInProgress):
		return "in_progress"
	case errors.Is(err, booking.ErrNotAuthenticated):
		return "unauthenticated"
	case errors.Is(err, booking.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}
