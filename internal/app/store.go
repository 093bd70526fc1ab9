package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/config"
	"github.com/sanosuguru/go-class-booking/internal/domain/course"
	"github.com/sanosuguru/go-class-booking/internal/domain/store"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/memory"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/txretry"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
)

// ErrResetUnsupported はリセットできないバックエンドの場合に返る
var ErrResetUnsupported = errors.New("このストアはリセットに対応していません")

// Backend は設定に応じて開いたドキュメントストア
type Backend struct {
	store.Store
	Driver string

	db     *sqlx.DB
	memory *memory.Store
	docs   *postgres.DocumentStore
}

// OpenStore は STORE_DRIVER に応じてストアを開く。
// postgres の場合はマイグレーションを適用し、変更通知の受信を開始する
func OpenStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Backend, error) {
	policy := txretry.Policy{
		Attempts: cfg.Store.TxAttempts,
		Delay:    cfg.Store.TxDelay,
		MaxDelay: cfg.Store.TxMaxDelay,
	}
	log := logger.Get().With(zap.String("store", cfg.Store.Driver))

	switch cfg.Store.Driver {
	case config.StoreMemory:
		s := memory.New(
			memory.WithRetryPolicy(policy),
			memory.WithMetrics(m),
			memory.WithLogger(log),
		)
		return &Backend{Store: s, Driver: cfg.Store.Driver, memory: s}, nil

	case config.StorePostgres:
		db, err := postgres.NewConnection(&cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
			_ = db.Close()
			return nil, err
		}
		docs := postgres.NewDocumentStore(db,
			postgres.WithRetryPolicy(policy),
			postgres.WithMetrics(m),
			postgres.WithLogger(log),
		)
		if err := docs.Listen(cfg.Database.DSN()); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("PostgreSQL ストアに接続", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
		return &Backend{Store: docs, Driver: cfg.Store.Driver, db: db, docs: docs}, nil
	}
	return nil, fmt.Errorf("未対応のストアです: %q", cfg.Store.Driver)
}

// Ping はストアの疎通を確認する
func (b *Backend) Ping(ctx context.Context) error {
	if b.db != nil {
		return postgres.Ping(ctx, b.db)
	}
	_, err := b.Get(ctx, course.CollectionPath)
	return err
}

// Reset は全てのドキュメントを削除する
func (b *Backend) Reset(ctx context.Context) error {
	if b.docs == nil {
		return ErrResetUnsupported
	}
	return b.docs.Reset(ctx)
}

// Close は購読を解除して接続を閉じる
func (b *Backend) Close() error {
	var errs []error
	if b.memory != nil {
		errs = append(errs, b.memory.Close())
	}
	if b.docs != nil {
		errs = append(errs, b.docs.Close())
	}
	if b.db != nil {
		errs = append(errs, b.db.Close())
	}
	return errors.Join(errs...)
}
