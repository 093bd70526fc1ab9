package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// LoadingState は一覧の読み込み状態
type LoadingState struct {
	IsLoading bool   `json:"isLoading"`
	Error     string `json:"error,omitempty"`
}

// BookingsView はユーザーの予約一覧。classStatus はクラスの現在の状態で上書きされる
type BookingsView struct {
	Bookings []booking.Booking `json:"bookings"`
	Loading  LoadingState      `json:"loading"`
}

// defaultSubscribeTimeout は予約ごとの購読開始で初回読み取りを待つ上限
const defaultSubscribeTimeout = 10 * time.Second

// LiveBookingService はユーザーの予約一覧を購読し、変更のたびに組み立て直して配信する
type LiveBookingService struct {
	store            store.Store
	metrics          *metrics.Metrics
	subscribeTimeout time.Duration
}

// NewLiveBookingService は新しい LiveBookingService を作成する。m は nil 可
func NewLiveBookingService(s store.Store, m *metrics.Metrics) *LiveBookingService {
	return &LiveBookingService{store: s, metrics: m, subscribeTimeout: defaultSubscribeTimeout}
}

// Snapshot は購読せずに現在の予約一覧を1回だけ組み立てる
func (s *LiveBookingService) Snapshot(ctx context.Context, userID string) ([]booking.Booking, error) {
	if userID == "" || !validKey(userID) {
		return nil, booking.ErrNotAuthenticated
	}
	classesSnap, err := s.store.Get(ctx, class.CollectionPath)
	if err != nil {
		return nil, unavailable("クラス一覧の取得", err)
	}
	index, err := s.store.Get(ctx, booking.UserIndexPath(userID))
	if err != nil {
		return nil, unavailable("予約インデックスの取得", err)
	}
	bookings := make(map[string]*booking.Booking)
	for _, classKey := range index.Keys() {
		id := booking.ID(userID, classKey)
		snap, err := s.store.Get(ctx, booking.Path(id))
		if err != nil {
			return nil, unavailable("予約の取得", err)
		}
		if b := decodeBooking(ctx, snap); b != nil {
			bookings[id] = b
		}
	}
	return combine(bookings, classStatuses(classesSnap)), nil
}

// Watch はユーザーの予約一覧の購読を開始する。
// クラス一覧と予約インデックスの両方が届くまでは何も配信しない
func (s *LiveBookingService) Watch(ctx context.Context, userID string, onChange func(BookingsView)) (*BookingWatch, error) {
	if userID == "" || !validKey(userID) {
		return nil, booking.ErrNotAuthenticated
	}
	w := &BookingWatch{
		svc:      s,
		userID:   userID,
		onChange: onChange,
		subs:     make(map[string]*bookingSub),
		bookings: make(map[string]*booking.Booking),
		current:  BookingsView{Bookings: []booking.Booking{}, Loading: LoadingState{IsLoading: true}},
		log:      logger.FromContext(ctx).With(zap.String("user_id", userID)),
	}

	// 購読の開始後に呼び出し元の ctx が切れても配信は続ける
	subCtx := context.WithoutCancel(ctx)

	unsubClasses, err := s.store.Subscribe(subCtx, class.CollectionPath, w.onClasses)
	if err != nil {
		return nil, unavailable("クラス一覧の購読", err)
	}
	w.mu.Lock()
	w.unsubClasses = unsubClasses
	w.mu.Unlock()

	unsubIndex, err := s.store.Subscribe(subCtx, booking.UserIndexPath(userID), w.onIndex)
	if err != nil {
		w.Close()
		return nil, unavailable("予約インデックスの購読", err)
	}
	w.mu.Lock()
	w.unsubIndex = unsubIndex
	closed := w.closed
	w.mu.Unlock()
	if closed {
		unsubIndex()
	}
	return w, nil
}

// BookingWatch は1ユーザー分の予約一覧の購読
type BookingWatch struct {
	svc      *LiveBookingService
	userID   string
	onChange func(BookingsView)
	log      *zap.Logger

	mu            sync.Mutex
	closed        bool
	classesLoaded bool
	indexLoaded   bool
	statuses      map[string]class.Status
	subs          map[string]*bookingSub
	bookings      map[string]*booking.Booking
	nextGen       uint64
	seq           uint64
	loadErr       string
	unsubClasses  store.Unsubscribe
	unsubIndex    store.Unsubscribe

	emitMu  sync.Mutex
	emitted uint64
	current BookingsView
}

// bookingSub は予約ごとの購読。unsub が nil の間は購読を開始中
type bookingSub struct {
	gen   uint64
	unsub store.Unsubscribe
}

// Current は最後に配信した一覧を返す
func (w *BookingWatch) Current() BookingsView {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	return w.current
}

// Close は全ての購読を解除する。複数回呼んでもよい
func (w *BookingWatch) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	unsubs := make([]store.Unsubscribe, 0, len(w.subs)+2)
	for id, sub := range w.subs {
		if sub.unsub != nil {
			unsubs = append(unsubs, sub.unsub)
		}
		delete(w.subs, id)
	}
	closedSubs := len(unsubs)
	if w.unsubClasses != nil {
		unsubs = append(unsubs, w.unsubClasses)
	}
	if w.unsubIndex != nil {
		unsubs = append(unsubs, w.unsubIndex)
	}
	w.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	w.svc.metrics.AddSubscriptions(-closedSubs)
}

// Refresh は購読とは別にストアから読み直して一覧を配信する
func (w *BookingWatch) Refresh(ctx context.Context) error {
	classesSnap, err := w.svc.store.Get(ctx, class.CollectionPath)
	if err != nil {
		w.fail(err)
		return unavailable("クラス一覧の取得", err)
	}
	w.onClasses(classesSnap)

	index, err := w.svc.store.Get(ctx, booking.UserIndexPath(w.userID))
	if err != nil {
		w.fail(err)
		return unavailable("予約インデックスの取得", err)
	}
	w.onIndex(index)

	for _, classKey := range index.Keys() {
		id := booking.ID(w.userID, classKey)
		snap, err := w.svc.store.Get(ctx, booking.Path(id))
		if err != nil {
			w.fail(err)
			return unavailable("予約の取得", err)
		}
		w.mu.Lock()
		sub, ok := w.subs[id]
		w.mu.Unlock()
		if ok {
			w.onBooking(id, sub.gen)(snap)
		}
	}
	return nil
}

func (w *BookingWatch) onClasses(snap store.Snapshot) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.statuses = classStatuses(snap)
	w.classesLoaded = true
	view, seq, ok := w.buildLocked()
	w.mu.Unlock()
	if ok {
		w.emit(view, seq)
	}
}

// onIndex はインデックスの差分だけ予約ごとの購読を開閉する。
// ストアへの購読はロックを外して行い、その間の Close や別の差分は世代で見分ける
func (w *BookingWatch) onIndex(snap store.Snapshot) {
	keys := snap.Keys()
	wanted := make(map[string]struct{}, len(keys))
	for _, classKey := range keys {
		wanted[booking.ID(w.userID, classKey)] = struct{}{}
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}

	var removed []store.Unsubscribe
	for id, sub := range w.subs {
		if _, ok := wanted[id]; ok {
			continue
		}
		if sub.unsub != nil {
			removed = append(removed, sub.unsub)
		}
		delete(w.subs, id)
		delete(w.bookings, id)
	}

	added := make(map[string]*bookingSub)
	for id := range wanted {
		if _, ok := w.subs[id]; ok {
			continue
		}
		w.nextGen++
		sub := &bookingSub{gen: w.nextGen}
		w.subs[id] = sub
		added[id] = sub
	}

	w.indexLoaded = true
	view, seq, ok := w.buildLocked()
	w.mu.Unlock()

	for _, unsub := range removed {
		unsub()
	}
	w.svc.metrics.AddSubscriptions(-len(removed))
	if ok {
		w.emit(view, seq)
	}

	for id, sub := range added {
		w.subscribe(id, sub)
	}
}

// subscribe は予約の購読を開始し、まだ必要とされていればハンドルを登録する
func (w *BookingWatch) subscribe(id string, sub *bookingSub) {
	ctx, cancel := context.WithTimeout(context.Background(), w.svc.subscribeTimeout)
	unsub, err := w.svc.store.Subscribe(ctx, booking.Path(id), w.onBooking(id, sub.gen))
	cancel()

	w.mu.Lock()
	current, ok := w.subs[id]
	wanted := !w.closed && ok && current == sub
	if err != nil {
		if wanted {
			delete(w.subs, id)
		}
		w.mu.Unlock()
		if wanted {
			w.log.Error("予約の購読に失敗", zap.String("booking_id", id), zap.Error(err))
			w.fail(err)
		}
		return
	}
	if !wanted {
		w.mu.Unlock()
		unsub()
		return
	}
	sub.unsub = unsub
	w.svc.metrics.AddSubscriptions(1)
	w.mu.Unlock()
}

// onBooking は世代が一致する購読からの値だけを反映するコールバックを返す
func (w *BookingWatch) onBooking(id string, gen uint64) func(store.Snapshot) {
	return func(snap store.Snapshot) {
		b := decodeBooking(context.Background(), snap)

		w.mu.Lock()
		sub, ok := w.subs[id]
		if w.closed || !ok || sub.gen != gen {
			w.mu.Unlock()
			return
		}
		if b == nil {
			delete(w.bookings, id)
		} else {
			w.bookings[id] = b
		}
		view, seq, emit := w.buildLocked()
		w.mu.Unlock()
		if emit {
			w.emit(view, seq)
		}
	}
}

func (w *BookingWatch) fail(err error) {
	w.mu.Lock()
	w.loadErr = err.Error()
	view, seq, ok := w.buildLocked()
	w.mu.Unlock()
	if ok {
		w.emit(view, seq)
	}
}

// buildLocked は両方の購読が揃っていれば一覧を組み立てて配信番号を払い出す
func (w *BookingWatch) buildLocked() (BookingsView, uint64, bool) {
	if w.closed || !w.classesLoaded || !w.indexLoaded {
		return BookingsView{}, 0, false
	}
	w.seq++
	return BookingsView{
		Bookings: combine(w.bookings, w.statuses),
		Loading:  LoadingState{Error: w.loadErr},
	}, w.seq, true
}

// emit は払い出し順より古い一覧を捨てて配信する
func (w *BookingWatch) emit(view BookingsView, seq uint64) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()
	if seq <= w.emitted {
		return
	}
	w.emitted = seq
	w.current = view
	if w.onChange != nil {
		w.onChange(view)
	}
}

// combine は予約に現在のクラス状態を重ね、新しい順に並べる
func combine(bookings map[string]*booking.Booking, statuses map[string]class.Status) []booking.Booking {
	out := make([]booking.Booking, 0, len(bookings))
	for _, b := range bookings {
		enriched := *b
		if status := statuses[b.ClassID]; status != "" {
			enriched.ClassStatus = status
		}
		out = append(out, enriched)
	}
	booking.SortNewestFirst(out)
	return out
}

func classStatuses(snap store.Snapshot) map[string]class.Status {
	keys := snap.Keys()
	out := make(map[string]class.Status, len(keys))
	for _, key := range keys {
		if status, _ := snap.Child(key).Child("status").Value.(string); status != "" {
			out[key] = class.Status(status)
		}
	}
	return out
}

func decodeBooking(ctx context.Context, snap store.Snapshot) *booking.Booking {
	if !snap.Exists() {
		return nil
	}
	b, err := booking.FromSnapshot(snap)
	if err != nil {
		logger.FromContext(ctx).Warn("予約の読み込みに失敗", zap.String("path", snap.Path), zap.Error(err))
		return nil
	}
	// 座席確保前の仮ドキュメントは予約として見せない
	if b.BookingDate == "" && booking.TokenOf(snap.Value) != "" {
		return nil
	}
	return b
}
