package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
	"github.com/sanosuguru/go-class-booking/internal/domain/booking"
)

type ProfileHandler struct {
	service ProfileServiceInterface
}

func NewProfileHandler(s ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: s}
}

type UpdateProfileRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100" example:"Hanako"`
}

type ProfileResponse struct {
	UserID      string `json:"user_id" example:"user-123"`
	DisplayName string `json:"display_name" example:"Hanako"`
	Email       string `json:"email,omitempty" example:"hanako@example.com"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Update godoc
// @Summary 表示名を変更
// @Description プロフィールを更新し、表示名を全ての予約へ反映します（反映の失敗はレスポンスに影響しません）
// @Tags profile
// @Accept json
// @Produce json
// @Param X-User-ID header string false "ユーザーID（JWT 未使用時）"
// @Param request body UpdateProfileRequest true "プロフィール"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /profile [put]
func (h *ProfileHandler) Update(c echo.Context) error {
	who := middleware.IdentityFrom(c)
	if who.UserID == "" {
		return toHTTPError(booking.ErrNotAuthenticated)
	}
	var req UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p, err := h.service.UpdateProfile(c.Request().Context(), who, req.DisplayName)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ProfileResponse{
		UserID:      who.UserID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		UpdatedAt:   p.UpdatedAt,
	})
}

// Get godoc
// @Summary プロフィールを取得
// @Tags profile
// @Produce json
// @Param X-User-ID header string false "ユーザーID（JWT 未使用時）"
// @Success 200 {object} ProfileResponse
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /profile [get]
func (h *ProfileHandler) Get(c echo.Context) error {
	who := middleware.IdentityFrom(c)
	if who.UserID == "" {
		return toHTTPError(booking.ErrNotAuthenticated)
	}
	p, err := h.service.GetProfile(c.Request().Context(), who.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	if p == nil {
		return echo.NewHTTPError(http.StatusNotFound, "プロフィールが見つかりません")
	}
	return c.JSON(http.StatusOK, ProfileResponse{
		UserID:      who.UserID,
		DisplayName: p.DisplayName,
		Email:       p.Email,
		UpdatedAt:   p.UpdatedAt,
	})
}
