package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-class-booking/internal/api"
	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
)

// NewTestEcho はテスト用のEchoインスタンスを作成する（ヘッダーで利用者を識別する）
func NewTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	e.Use(middleware.Identity(""))
	return e
}
