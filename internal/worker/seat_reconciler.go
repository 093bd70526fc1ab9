package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// Drift は空き枠数と予約者数が食い違っているクラス
type Drift struct {
	ClassKey string
	Slots    int
	Booked   int
	Capacity int
	Expected int
	Repaired bool
}

type observation struct {
	slots  int
	booked int
}

// SeatReconciler は slotsAvailable と「定員 - 予約者数」のずれを検出して修復するワーカー。
// 同じずれが連続する2回のスキャンで観測された場合だけ書き換える
type SeatReconciler struct {
	store    store.Store
	metrics  *metrics.Metrics
	interval time.Duration

	mu   sync.Mutex
	seen map[string]observation

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSeatReconciler は新しいワーカーを作成
func NewSeatReconciler(s store.Store, m *metrics.Metrics, interval time.Duration) *SeatReconciler {
	return &SeatReconciler{
		store:    s,
		metrics:  m,
		interval: interval,
		seen:     make(map[string]observation),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start はワーカーを開始
func (r *SeatReconciler) Start(ctx context.Context) {
	logger.Info("座席数修復ワーカー開始", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("座席数修復ワーカー停止（コンテキストキャンセル）")
			return
		case <-r.stopCh:
			logger.Info("座席数修復ワーカー停止（シグナル受信）")
			return
		case <-ticker.C:
			if _, err := r.Scan(ctx); err != nil {
				logger.Error("座席数のスキャンに失敗", zap.Error(err))
			}
		}
	}
}

// Stop はワーカーを停止
func (r *SeatReconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// Scan は全クラスを1回検査し、前回と同じずれが続いているクラスを修復する
func (r *SeatReconciler) Scan(ctx context.Context) ([]Drift, error) {
	classes, courses, booked, err := r.load(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]observation)
	var drifts []Drift
	for _, cls := range classes {
		capacity := cls.EffectiveCapacity(courses[cls.CourseKey])
		if capacity <= 0 {
			continue
		}
		d := Drift{
			ClassKey: cls.Key,
			Slots:    cls.SlotsAvailable,
			Booked:   booked[cls.Key],
			Capacity: capacity,
			Expected: max(0, capacity-booked[cls.Key]),
		}
		if d.Slots == d.Expected {
			continue
		}

		obs := observation{slots: d.Slots, booked: d.Booked}
		if prev, ok := r.seen[cls.Key]; ok && prev == obs {
			repaired, err := r.repair(ctx, d)
			if err != nil {
				return drifts, err
			}
			d.Repaired = repaired
		}
		if !d.Repaired {
			next[cls.Key] = obs
		}
		drifts = append(drifts, d)
	}
	r.seen = next
	return drifts, nil
}

func (r *SeatReconciler) load(ctx context.Context) ([]*class.Session, map[string]*course.Template, map[string]int, error) {
	classSnap, err := r.store.Get(ctx, class.CollectionPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("クラス一覧の取得に失敗: %w", err)
	}
	classes, err := class.ListFromSnapshot(classSnap)
	if err != nil {
		return nil, nil, nil, err
	}

	courseSnap, err := r.store.Get(ctx, course.CollectionPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("コース一覧の取得に失敗: %w", err)
	}
	list, err := course.ListFromSnapshot(courseSnap)
	if err != nil {
		return nil, nil, nil, err
	}
	courses := make(map[string]*course.Template, len(list))
	for _, c := range list {
		courses[c.Key] = c
	}

	indexSnap, err := r.store.Get(ctx, booking.ClassIndexCollection)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("予約者インデックスの取得に失敗: %w", err)
	}
	booked := make(map[string]int)
	for _, key := range indexSnap.Keys() {
		booked[key] = len(indexSnap.Child(key).Keys())
	}
	return classes, courses, booked, nil
}

// repair は観測時から空き枠数が動いていなければ期待値に書き換える
func (r *SeatReconciler) repair(ctx context.Context, d Drift) (bool, error) {
	log := logger.FromContext(ctx).With(
		zap.String("class_key", d.ClassKey),
		zap.Int("slots", d.Slots),
		zap.Int("expected", d.Expected),
	)

	_, committed, err := r.store.Transact(ctx, class.Path(d.ClassKey), func(current any) (any, error) {
		doc, ok := current.(map[string]any)
		if !ok {
			return nil, store.ErrAbort
		}
		slots, ok := store.AsInt(doc[class.SlotsField])
		if !ok || slots != d.Slots {
			return nil, store.ErrAbort
		}
		doc[class.SlotsField] = d.Expected
		return doc, nil
	})
	if err != nil && !errors.Is(err, store.ErrAbort) {
		return false, fmt.Errorf("クラス %s の空き枠修復に失敗: %w", d.ClassKey, err)
	}
	if !committed {
		log.Debug("空き枠数が変化したため修復を見送り")
		return false, nil
	}
	r.metrics.ObserveSeatRepair()
	log.Warn("空き枠数を修復", zap.Int("booked", d.Booked))
	return true, nil
}
