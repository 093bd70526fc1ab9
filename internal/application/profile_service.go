package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/domain/user"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
)

// ProfileService はユーザープロフィールを更新し、表示名を予約へ反映する
type ProfileService struct {
	store  store.Store
	denorm *Denormalizer
	events EventPublisher
}

// NewProfileService は新しい ProfileService を作成する。events は nil 可
func NewProfileService(s store.Store, d *Denormalizer, events EventPublisher) *ProfileService {
	return &ProfileService{store: s, denorm: d, events: events}
}

// UpdateProfile はプロフィールを書き込み、表示名を全予約に反映する。
// 反映の失敗はログのみで呼び出し元には返さない
func (s *ProfileService) UpdateProfile(ctx context.Context, who booking.Identity, displayName string) (*user.Profile, error) {
	if who.UserID == "" || !validKey(who.UserID) {
		return nil, booking.ErrNotAuthenticated
	}
	name, err := user.ValidateDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	profile := &user.Profile{
		DisplayName: name,
		Email:       who.Email,
		UpdatedAt:   now.Format(time.RFC3339Nano),
	}
	if err := s.store.Set(ctx, user.Path(who.UserID), profile); err != nil {
		return nil, unavailable("プロフィールの更新", err)
	}

	s.denorm.PropagateNameChange(ctx, who.UserID, name)

	publish(ctx, s.events, EventUserRenamed, UserRenamedEvent{
		UserID:      who.UserID,
		DisplayName: name,
		OccurredAt:  now,
	})
	logger.FromContext(ctx).Info("表示名を変更", zap.String("user_id", who.UserID))
	return profile, nil
}

// GetProfile はプロフィールを返す。未作成の場合は nil
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	if !validKey(userID) {
		return nil, booking.ErrNotAuthenticated
	}
	snap, err := s.store.Get(ctx, user.Path(userID))
	if err != nil {
		return nil, unavailable("プロフィールの取得", err)
	}
	if !snap.Exists() {
		return nil, nil
	}
	var p user.Profile
	if err := snap.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
