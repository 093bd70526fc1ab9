package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
	"github.com/sanosuguru/go-class-booking/internal/application"
)

type ClassHandler struct {
	service CatalogServiceInterface
	now     func() time.Time
}

func NewClassHandler(s CatalogServiceInterface) *ClassHandler {
	return &ClassHandler{service: s, now: time.Now}
}

// ListClassesQuery はクラス検索の条件
type ListClassesQuery struct {
	Name      string `query:"name" validate:"max=100"`
	Day       string `query:"day" validate:"omitempty,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday monday tuesday wednesday thursday friday saturday sunday"`
	TimeOfDay string `query:"time_of_day" validate:"omitempty,oneof=morning afternoon evening"`
	CourseKey string `query:"course"`
}

// ListCourses godoc
// @Summary コース一覧を取得
// @Tags courses
// @Produce json
// @Success 200 {array} CourseResponse
// @Failure 503 {object} map[string]string
// @Router /courses [get]
func (h *ClassHandler) ListCourses(c echo.Context) error {
	courses, err := h.service.ListCourses(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	res := make([]*CourseResponse, 0, len(courses))
	for _, crs := range courses {
		res = append(res, toCourseResponse(crs))
	}
	return c.JSON(http.StatusOK, res)
}

// ListClasses godoc
// @Summary クラス一覧を取得
// @Description コースを結合したクラスを日付順に返します。条件を指定するとコースのないクラスは除外されます
// @Tags classes
// @Produce json
// @Param name query string false "クラス種別または講師名（部分一致）"
// @Param day query string false "曜日" Enums(Monday,Tuesday,Wednesday,Thursday,Friday,Saturday,Sunday)
// @Param time_of_day query string false "時間帯" Enums(morning,afternoon,evening)
// @Param course query string false "コースキー"
// @Success 200 {array} ClassResponse
// @Failure 400 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /classes [get]
func (h *ClassHandler) ListClasses(c echo.Context) error {
	var q ListClassesQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	classes, err := h.service.ListClasses(c.Request().Context(), application.ClassFilter{
		Name:      q.Name,
		Day:       q.Day,
		TimeOfDay: q.TimeOfDay,
		CourseKey: q.CourseKey,
	})
	if err != nil {
		return toHTTPError(err)
	}
	now := h.now()
	res := make([]ClassResponse, 0, len(classes))
	for _, cls := range classes {
		res = append(res, toClassResponse(cls, now))
	}
	return c.JSON(http.StatusOK, res)
}

// GetClass godoc
// @Summary クラスを取得
// @Description ログイン中であれば is_booked に予約済みかどうかを含めます
// @Tags classes
// @Produce json
// @Param key path string true "クラスキー"
// @Success 200 {object} ClassResponse
// @Failure 404 {object} map[string]string
// @Router /classes/{key} [get]
func (h *ClassHandler) GetClass(c echo.Context) error {
	ctx := c.Request().Context()
	cls, err := h.service.GetClass(ctx, c.Param("key"))
	if err != nil {
		return toHTTPError(err)
	}
	res := toClassResponse(cls, h.now())
	if who := middleware.IdentityFrom(c); who.UserID != "" {
		booked, err := h.service.IsBooked(ctx, who.UserID, cls.Key)
		if err != nil {
			return toHTTPError(err)
		}
		res.IsBooked = &booked
	}
	return c.JSON(http.StatusOK, res)
}
