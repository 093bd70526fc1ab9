package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/app"
	"github.com/sanosuguru/go-class-booking/internal/config"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-class-booking/internal/pkg/tracing"
	"github.com/sanosuguru/go-class-booking/internal/worker"
)

// @title Class Booking API
// @version 1.0
// @description ヨガ教室のクラス予約 API
// @BasePath /api/v1
func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("設定の読み込みに失敗", zap.Error(err))
	}

	logger.Set(logger.NewLogger(cfg.App.Env, cfg.App.LogLevel))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Env)
	if err != nil {
		logger.Fatal("トレーサーの初期化に失敗", zap.Error(err))
	}

	m := metrics.Init()

	rt, err := app.Open(ctx, cfg, m)
	if err != nil {
		logger.Fatal("ストアの初期化に失敗", zap.Error(err))
	}

	e := app.NewServer(cfg, rt.Deps)
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	// SSE は長時間接続のため書き込みタイムアウトをかけない
	e.Server.WriteTimeout = 0
	// シグナル受信時に購読中のストリームも終了させる
	e.Server.BaseContext = func(net.Listener) context.Context { return ctx }

	var reconciler *worker.SeatReconciler
	if cfg.Reconciler.Enabled {
		reconciler = worker.NewSeatReconciler(rt.Backend, m, cfg.Reconciler.Interval)
		go reconciler.Start(ctx)
	}

	go func() {
		logger.Info("サーバーを起動します",
			zap.String("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
		)
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("サーバーをシャットダウンしています...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if reconciler != nil {
		reconciler.Stop()
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("サーバーシャットダウンエラー", zap.Error(err))
	}
	if err := rt.Close(); err != nil {
		logger.Error("接続のクローズに失敗", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("トレーサーの停止に失敗", zap.Error(err))
	}

	logger.Info("サーバーが正常にシャットダウンしました")
}
