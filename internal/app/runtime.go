package app

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/api/handler"
	"github.com/sanosuguru/go-class-booking/internal/config"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/mq"
	redisinfra "github.com/sanosuguru/go-class-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// Runtime は設定から開いた外部接続一式
type Runtime struct {
	Backend *Backend
	Deps    Deps

	redis     *goredis.Client
	publisher *mq.Publisher
}

// Open はストアと任意の依存先（Redis, RabbitMQ）に接続する。
// Redis と RabbitMQ に接続できない場合は警告を出して無しで続行する
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Runtime, error) {
	backend, err := OpenStore(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Backend: backend,
		Deps: Deps{
			Store:   backend,
			Metrics: m,
			Health:  map[string]handler.HealthCheck{"store": backend.Ping},
		},
	}

	if cfg.Redis.Enabled {
		client, err := redisinfra.NewClient(&cfg.Redis)
		if err != nil {
			logger.Warn("Redis に接続できないためロックとキャッシュを無効化", zap.Error(err))
		} else {
			rt.redis = client
			rt.Deps.Guard = redisinfra.NewBookingGuard(redisinfra.NewLockManager(client, m), cfg.Redis.LockTTL)
			rt.Deps.Cache = redisinfra.NewCourseCache(client, cfg.Redis.CourseCacheTTL, m)
			rt.Deps.Health["redis"] = func(ctx context.Context) error {
				return redisinfra.Ping(ctx, client)
			}
		}
	}

	if cfg.AMQP.URL != "" {
		p, err := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Warn("RabbitMQ に接続できないためイベント配信を無効化", zap.Error(err))
		} else {
			rt.publisher = p
			rt.Deps.Events = p
		}
	}

	return rt, nil
}

// Close は開いた接続を全て閉じる
func (rt *Runtime) Close() error {
	var errs []error
	if rt.publisher != nil {
		errs = append(errs, rt.publisher.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	errs = append(errs, rt.Backend.Close())
	return errors.Join(errs...)
}
