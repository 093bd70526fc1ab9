package booking

import (
	"sort"
	"time"

	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// パス定義
const (
	CollectionPath        = "bookings"
	UserIndexCollection   = "userBookings"
	ClassIndexCollection  = "classBookings"
	UserNameField         = "userName"
	UnknownUserName       = "Unknown User"
	UnknownUserEmail      = "No Email"
	bookingDateTimeLayout = time.RFC3339Nano
)

// Booking はユーザーの1クラス分の予約を表す（表示用の値を非正規化して保持する）
type Booking struct {
	ID          string       `json:"id"`
	UserID      string       `json:"userId"`
	ClassID     string       `json:"classId"`
	BookingDate string       `json:"bookingDate"`
	UserName    string       `json:"userName,omitempty"`
	UserEmail   string       `json:"userEmail,omitempty"`
	ClassName   string       `json:"className,omitempty"`
	ClassDate   string       `json:"classDate,omitempty"`
	ClassTime   string       `json:"classTime,omitempty"`
	Price       float64      `json:"price,omitempty"`
	ClassStatus class.Status `json:"classStatus,omitempty"`
}

// Identity は予約者の情報
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
}

// ID は (userID, classKey) から決定的な予約IDを生成する。同じ組み合わせの予約の一意性キーを兼ねる
func ID(userID, classKey string) string {
	return userID + "_" + classKey
}

// Path は予約ドキュメントのパスを返す
func Path(bookingID string) string {
	return store.JoinPath(CollectionPath, bookingID)
}

// UserIndexPath はユーザーの予約インデックスのパスを返す
func UserIndexPath(userID string) string {
	return store.JoinPath(UserIndexCollection, userID)
}

// UserIndexEntryPath はユーザー予約インデックスのエントリのパスを返す
func UserIndexEntryPath(userID, classKey string) string {
	return store.JoinPath(UserIndexCollection, userID, classKey)
}

// ClassIndexPath はクラスの予約者インデックスのパスを返す
func ClassIndexPath(classKey string) string {
	return store.JoinPath(ClassIndexCollection, classKey)
}

// ClassIndexEntryPath はクラス予約者インデックスのエントリのパスを返す
func ClassIndexEntryPath(classKey, userID string) string {
	return store.JoinPath(ClassIndexCollection, classKey, userID)
}

// New はクラスとコースのスナップショットから予約を作成する
func New(who Identity, cls *class.Session, crs *course.Template, now time.Time) *Booking {
	name := who.DisplayName
	if name == "" {
		name = UnknownUserName
	}
	email := who.Email
	if email == "" {
		email = UnknownUserEmail
	}
	b := &Booking{
		ID:          ID(who.UserID, cls.Key),
		UserID:      who.UserID,
		ClassID:     cls.Key,
		BookingDate: now.UTC().Format(bookingDateTimeLayout),
		UserName:    name,
		UserEmail:   email,
		ClassDate:   cls.Date,
		ClassStatus: cls.Status,
	}
	if crs != nil {
		b.ClassName = crs.ClassType
		b.ClassTime = crs.Time
		b.Price = crs.Price
	}
	return b
}

// FromSnapshot はスナップショットから予約を復元する
func FromSnapshot(snap store.Snapshot) (*Booking, error) {
	var b Booking
	if err := snap.Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

// BookedAt は予約日時を返す。解析できない場合はゼロ値
func (b *Booking) BookedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, b.BookingDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SortNewestFirst は予約日時の降順（同時刻はID順）に並べ替える
func SortNewestFirst(bookings []Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		ti, tj := bookings[i].BookedAt(), bookings[j].BookedAt()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return bookings[i].ID < bookings[j].ID
	})
}
