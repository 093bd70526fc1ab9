package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
	"github.com/sanosuguru/go-class-booking/internal/application"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
)

// StreamHeartbeat は SSE 接続を維持するためのコメント送信間隔
var StreamHeartbeat = 15 * time.Second

type BookingHandler struct {
	ledger BookingLedgerInterface
	view   BookingViewInterface
}

func NewBookingHandler(l BookingLedgerInterface, v BookingViewInterface) *BookingHandler {
	return &BookingHandler{ledger: l, view: v}
}

// Book godoc
// @Summary クラスを予約
// @Description 空き枠を1つ確保して予約を作成します
// @Tags bookings
// @Produce json
// @Param X-User-ID header string false "ユーザーID（JWT 未使用時）"
// @Param key path string true "クラスキー"
// @Success 201 {object} BookingResponse
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "満席・予約不可・予約済み・処理中"
// @Failure 503 {object} map[string]string
// @Router /classes/{key}/bookings [post]
func (h *BookingHandler) Book(c echo.Context) error {
	b, err := h.ledger.Book(c.Request().Context(), middleware.IdentityFrom(c), c.Param("key"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, toBookingResponse(b))
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Tags bookings
// @Param X-User-ID header string false "ユーザーID（JWT 未使用時）"
// @Param key path string true "クラスキー"
// @Success 204
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /classes/{key}/bookings [delete]
func (h *BookingHandler) Cancel(c echo.Context) error {
	who := middleware.IdentityFrom(c)
	if err := h.ledger.Cancel(c.Request().Context(), who.UserID, c.Param("key")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// List godoc
// @Summary 自分の予約一覧を取得
// @Description 予約日時の新しい順。class_status はクラスの現在の状態です
// @Tags bookings
// @Produce json
// @Param X-User-ID header string false "ユーザーID（JWT 未使用時）"
// @Success 200 {object} BookingsResponse
// @Failure 401 {object} map[string]string
// @Router /bookings [get]
func (h *BookingHandler) List(c echo.Context) error {
	bookings, err := h.view.Snapshot(c.Request().Context(), middleware.IdentityFrom(c).UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, BookingsResponse{Bookings: toBookingResponses(bookings)})
}

// Stream godoc
// @Summary 自分の予約一覧を購読
// @Description Server-Sent Events。読み込み中は loading、以降は変更のたびに bookings イベントを送ります
// @Tags bookings
// @Produce text/event-stream
// @Param X-User-ID header string false "ユーザーID（JWT 未使用時）"
// @Success 200 {object} BookingsResponse
// @Failure 401 {object} map[string]string
// @Router /bookings/stream [get]
func (h *BookingHandler) Stream(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.IdentityFrom(c).UserID
	log := logger.FromContext(ctx).With(zap.String("user_id", userID))

	// 最新の一覧だけを保持する
	updates := make(chan application.BookingsView, 1)
	watch, err := h.view.Watch(ctx, userID, func(v application.BookingsView) {
		for {
			select {
			case updates <- v:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		return toHTTPError(err)
	}
	defer watch.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	if err := writeEvent(res, "loading", BookingsResponse{
		Bookings: []BookingResponse{},
		Loading:  LoadingResponse{IsLoading: true},
	}); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("予約一覧の購読を終了")
			return nil
		case v := <-updates:
			if err := writeEvent(res, "bookings", BookingsResponse{
				Bookings: toBookingResponses(v.Bookings),
				Loading:  LoadingResponse{IsLoading: v.Loading.IsLoading, Error: v.Loading.Error},
			}); err != nil {
				log.Debug("SSE の書き込みに失敗", zap.Error(err))
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeEvent(res *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

