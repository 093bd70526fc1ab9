package app

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanosuguru/go-class-booking/internal/api"
	"github.com/sanosuguru/go-class-booking/internal/api/handler"
	"github.com/sanosuguru/go-class-booking/internal/api/middleware"
	"github.com/sanosuguru/go-class-booking/internal/application"
	"github.com/sanosuguru/go-class-booking/internal/config"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// Deps はサーバーの依存。Guard, Cache, Events は nil 可
type Deps struct {
	Store    store.Store
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Guard    application.BookingGuard
	Cache    application.CourseCache
	Events   application.EventPublisher
	Health   map[string]handler.HealthCheck
}

// Services はハンドラーが使うアプリケーションサービス
type Services struct {
	Ledger   *application.BookingLedger
	Catalog  *application.CatalogService
	Bookings *application.LiveBookingService
	Profiles *application.ProfileService
}

// NewServices はストアの上にサービスを組み立てる
func NewServices(d Deps) *Services {
	denorm := application.NewDenormalizer(d.Store, d.Metrics)

	opts := []application.LedgerOption{application.WithLedgerMetrics(d.Metrics)}
	if d.Guard != nil {
		opts = append(opts, application.WithBookingGuard(d.Guard))
	}
	if d.Events != nil {
		opts = append(opts, application.WithEventPublisher(d.Events))
	}

	return &Services{
		Ledger:   application.NewBookingLedger(d.Store, denorm, opts...),
		Catalog:  application.NewCatalogService(d.Store, d.Cache),
		Bookings: application.NewLiveBookingService(d.Store, d.Metrics),
		Profiles: application.NewProfileService(d.Store, denorm, d.Events),
	}
}

// NewServer はルーティングを設定した Echo を返す
func NewServer(cfg *config.Config, d Deps) *echo.Echo {
	svc := NewServices(d)

	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	middleware.SetupMiddleware(e)
	e.Use(middleware.PrometheusMiddleware(d.Metrics))

	classHandler := handler.NewClassHandler(svc.Catalog)
	bookingHandler := handler.NewBookingHandler(svc.Ledger, svc.Bookings)
	profileHandler := handler.NewProfileHandler(svc.Profiles)
	healthHandler := handler.NewHealthHandler(d.Health)

	e.GET("/health", healthHandler.Check)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
		middleware.MetricsBasicAuth(cfg.Auth))

	v1 := e.Group("/api/v1", middleware.Identity(cfg.Auth.JWTSecret))
	v1.GET("/courses", classHandler.ListCourses)
	v1.GET("/classes", classHandler.ListClasses)
	v1.GET("/classes/:key", classHandler.GetClass)
	v1.POST("/classes/:key/bookings", bookingHandler.Book)
	v1.DELETE("/classes/:key/bookings", bookingHandler.Cancel)
	v1.GET("/bookings", bookingHandler.List)
	v1.GET("/bookings/stream", bookingHandler.Stream)
	v1.GET("/profile", profileHandler.Get)
	v1.PUT("/profile", profileHandler.Update)

	return e
}
