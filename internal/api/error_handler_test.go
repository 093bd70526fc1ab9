package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
)

func TestCustomHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      int
		wantMessage   string
		wantRetryable bool
	}{
		{
			name:        "HTTPError のメッセージをそのまま返す",
			err:         echo.NewHTTPError(http.StatusConflict, booking.ErrClassFull.Error()).SetInternal(booking.ErrClassFull),
			wantCode:    http.StatusConflict,
			wantMessage: booking.ErrClassFull.Error(),
		},
		{
			name:          "再試行可能なエラーには retryable を付ける",
			err:           echo.NewHTTPError(http.StatusServiceUnavailable, booking.ErrStoreUnavailable.Error()).SetInternal(booking.ErrStoreUnavailable),
			wantCode:      http.StatusServiceUnavailable,
			wantMessage:   booking.ErrStoreUnavailable.Error(),
			wantRetryable: true,
		},
		{
			name:        "その他のエラーは500",
			err:         errors.New("boom"),
			wantCode:    http.StatusInternalServerError,
			wantMessage: "内部サーバーエラー",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			CustomHTTPErrorHandler(tt.err, c)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantMessage, body.Error)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantRetryable, body.Retryable)
		})
	}
}

func TestCustomValidator(t *testing.T) {
	type request struct {
		DisplayName string `json:"display_name" validate:"required,max=100"`
	}
	v := NewValidator()

	assert.NoError(t, v.Validate(&request{DisplayName: "Hanako"}))

	err := v.Validate(&request{})
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.Code)
	assert.Contains(t, he.Message, "display_name")
}
