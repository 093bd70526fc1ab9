package handler

import (
	"context"

	"github.com/sanosuguru/go-class-booking/internal/application"
	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/user"
)

// BookingLedgerInterface は予約台帳のインターフェース
type BookingLedgerInterface interface {
	Book(ctx context.Context, who booking.Identity, classKey string) (*booking.Booking, error)
	Cancel(ctx context.Context, userID, classKey string) error
}

// CatalogServiceInterface はカタログサービスのインターフェース
type CatalogServiceInterface interface {
	ListCourses(ctx context.Context) ([]*course.Template, error)
	ListClasses(ctx context.Context, filter application.ClassFilter) ([]*class.Enriched, error)
	GetClass(ctx context.Context, key string) (*class.Enriched, error)
	IsBooked(ctx context.Context, userID, classKey string) (bool, error)
}

// BookingViewInterface はユーザーの予約一覧のインターフェース
type BookingViewInterface interface {
	Snapshot(ctx context.Context, userID string) ([]booking.Booking, error)
	Watch(ctx context.Context, userID string, onChange func(application.BookingsView)) (*application.BookingWatch, error)
}

// ProfileServiceInterface はプロフィールサービスのインターフェース
type ProfileServiceInterface interface {
	UpdateProfile(ctx context.Context, who booking.Identity, displayName string) (*user.Profile, error)
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
}
