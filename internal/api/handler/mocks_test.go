package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sanosuguru/go-class-booking/internal/application"
	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/user"
)

type MockBookingLedger struct {
	mock.Mock
}

func (m *MockBookingLedger) Book(ctx context.Context, who booking.Identity, classKey string) (*booking.Booking, error) {
	args := m.Called(ctx, who, classKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Booking), args.Error(1)
}

func (m *MockBookingLedger) Cancel(ctx context.Context, userID, classKey string) error {
	args := m.Called(ctx, userID, classKey)
	return args.Error(0)
}

type MockCatalogService struct {
	mock.Mock
}

func (m *MockCatalogService) ListCourses(ctx context.Context) ([]*course.Template, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*course.Template), args.Error(1)
}

func (m *MockCatalogService) ListClasses(ctx context.Context, filter application.ClassFilter) ([]*class.Enriched, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*class.Enriched), args.Error(1)
}

func (m *MockCatalogService) GetClass(ctx context.Context, key string) (*class.Enriched, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*class.Enriched), args.Error(1)
}

func (m *MockCatalogService) IsBooked(ctx context.Context, userID, classKey string) (bool, error) {
	args := m.Called(ctx, userID, classKey)
	return args.Bool(0), args.Error(1)
}

type MockProfileService struct {
	mock.Mock
}

func (m *MockProfileService) UpdateProfile(ctx context.Context, who booking.Identity, displayName string) (*user.Profile, error) {
	args := m.Called(ctx, who, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.Profile), args.Error(1)
}

func (m *MockProfileService) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*user.Profile), args.Error(1)
}
