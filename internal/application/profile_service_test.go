package application

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/class"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/domain/user"
)

func TestProfileService_UpdateProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("プロフィールを保存し予約へ反映してイベントを配信する", func(t *testing.T) {
		s := newTestStore(t)
		d := NewDenormalizer(s, nil)
		_, err := d.Materialize(ctx, who("u1"), &class.Session{Key: "c1"}, nil)
		require.NoError(t, err)
		pub := new(MockEventPublisher)
		pub.On("PublishJSON", mock.Anything, EventUserRenamed, mock.MatchedBy(func(e UserRenamedEvent) bool {
			return e.UserID == "u1" && e.DisplayName == "Hanako"
		})).Return(nil)

		p, err := NewProfileService(s, d, pub).UpdateProfile(ctx, who("u1"), "  Hanako ")
		require.NoError(t, err)
		assert.Equal(t, "Hanako", p.DisplayName)
		assert.Equal(t, "u1@example.com", p.Email)

		snap, err := s.Get(ctx, store.JoinPath(booking.Path("u1_c1"), booking.UserNameField))
		require.NoError(t, err)
		assert.Equal(t, "Hanako", snap.Value)

		got, err := NewProfileService(s, d, nil).GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Hanako", got.DisplayName)
		pub.AssertExpectations(t)
	})

	t.Run("入力エラー", func(t *testing.T) {
		s := newTestStore(t)
		svc := NewProfileService(s, NewDenormalizer(s, nil), nil)

		_, err := svc.UpdateProfile(ctx, who("u1"), "   ")
		assert.ErrorIs(t, err, user.ErrDisplayNameRequired)
		_, err = svc.UpdateProfile(ctx, who("u1"), strings.Repeat("あ", 101))
		assert.ErrorIs(t, err, user.ErrDisplayNameTooLong)
		_, err = svc.UpdateProfile(ctx, booking.Identity{}, "Hanako")
		assert.ErrorIs(t, err, booking.ErrNotAuthenticated)
	})

	t.Run("プロフィールの保存失敗は返す", func(t *testing.T) {
		fs := &faultyStore{Store: newTestStore(t)}
		fs.fail(nil, nil, nil, errConnectionLost)

		_, err := NewProfileService(fs, NewDenormalizer(fs, nil), nil).UpdateProfile(ctx, who("u1"), "Hanako")
		assert.ErrorIs(t, err, booking.ErrStoreUnavailable)
	})

	t.Run("反映の失敗は返さない", func(t *testing.T) {
		inner := newTestStore(t)
		fs := &faultyStore{Store: inner}
		fs.fail(nil, errConnectionLost, nil, nil)

		p, err := NewProfileService(fs, NewDenormalizer(fs, nil), nil).UpdateProfile(ctx, who("u1"), "Hanako")
		require.NoError(t, err)
		assert.Equal(t, "Hanako", p.DisplayName)
		assert.True(t, exists(t, inner, user.Path("u1")))
	})

	t.Run("未作成のプロフィールは nil", func(t *testing.T) {
		s := newTestStore(t)
		p, err := NewProfileService(s, NewDenormalizer(s, nil), nil).GetProfile(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}
