package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
	"github.com/sanosuguru/go-class-booking/internal/domain/user"
)

// errorStatuses はドメインエラーと HTTP ステータスの対応（上から順に判定する）
var errorStatuses = []struct {
	err  error
	code int
}{
	{booking.ErrNotAuthenticated, http.StatusUnauthorized},
	{booking.ErrClassNotFound, http.StatusNotFound},
	{booking.ErrBookingNotFound, http.StatusNotFound},
	{booking.ErrClassNotBookable, http.StatusConflict},
	{booking.ErrClassFull, http.StatusConflict},
	{booking.ErrAlreadyBooked, http.StatusConflict},
	{booking.ErrBookingInProgress, http.StatusConflict},
	{booking.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{booking.ErrCourseNotFound, http.StatusInternalServerError},
	{user.ErrDisplayNameRequired, http.StatusBadRequest},
	{user.ErrDisplayNameTooLong, http.StatusBadRequest},
}

// toHTTPError はドメインエラーをステータス付きの HTTPError に変換する。
// メッセージはドメインエラーの文言をそのまま使う
func toHTTPError(err error) *echo.HTTPError {
	for _, s := range errorStatuses {
		if errors.Is(err, s.err) {
			return echo.NewHTTPError(s.code, s.err.Error()).SetInternal(err)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "内部サーバーエラー").SetInternal(err)
}
