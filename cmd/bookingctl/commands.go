package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-class-booking/internal/app"
	"github.com/sanosuguru/go-class-booking/internal/application"
	"github.com/sanosuguru/go-class-booking/internal/config"
	"github.com/sanosuguru/go-class-booking/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-class-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-class-booking/internal/worker"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bookingctl",
		Short:         "クラス予約ストアの運用コマンド",
		Long:          `STORE_DRIVER などの環境変数（.env 可）で指定したストアに対してマイグレーション・初期データ投入・座席数の修復を行います`,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger.Set(logger.NewLogger("development", level))
			return nil
		},
	}
	root.PersistentFlags().String("log-level", "warn", "ログレベル (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCmd(),
		newSeedCmd(),
		newClassesCmd(),
		newReconcileCmd(),
		newResetCmd(),
	)
	return root
}

// withBackend は設定を読み込んでストアを開き、fn の終了後に閉じる
func withBackend(ctx context.Context, fn func(*config.Config, *app.Backend) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.StoreMemory {
		logger.Warn("STORE_DRIVER=memory のため結果はこのプロセス内でのみ有効です")
	}
	b, err := app.OpenStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("ストアのクローズに失敗", zap.Error(err))
		}
	}()
	return fn(cfg, b)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "PostgreSQL のマイグレーションを適用する",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := postgres.NewConnection(&cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
				return err
			}
			version, dirty, err := postgres.MigrationVersion(db.DB, cfg.Database.MigrationsPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "マイグレーション完了: version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "コースとクラスの初期データを投入する",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("初期データファイルを開けません: %w", err)
			}
			defer f.Close()
			data, err := app.ReadSeed(f)
			if err != nil {
				return err
			}

			return withBackend(cmd.Context(), func(_ *config.Config, b *app.Backend) error {
				res, err := app.Seed(cmd.Context(), b, data)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "コース %d 件、クラス %d 件を投入しました\n", res.Courses, res.Classes)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "初期データの JSON ファイル")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newClassesCmd() *cobra.Command {
	var filter application.ClassFilter
	cmd := &cobra.Command{
		Use:   "classes",
		Short: "コースを結合したクラス一覧を表示する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(_ *config.Config, b *app.Backend) error {
				classes, err := application.NewCatalogService(b, nil).ListClasses(cmd.Context(), filter)
				if err != nil {
					return err
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Key", "Class", "Date", "Day", "Time", "Instructor", "Slots", "Status"})
				t.SetColumnConfigs([]table.ColumnConfig{
					{Number: 2, WidthMax: 30},
					{Number: 7, Align: text.AlignRight},
				})
				for _, c := range classes {
					var classType, at string
					if c.Course != nil {
						classType, at = c.Course.ClassType, c.Course.Time
					}
					t.AppendRow(table.Row{
						c.Key, classType, c.Date, c.DayOfWeek(), at, c.AssignedInstructor,
						strconv.Itoa(c.SlotsAvailable) + "/" + strconv.Itoa(c.EffectiveCapacity(c.Course)),
						c.Status,
					})
				}
				t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(classes)})
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.Name, "name", "", "クラス種別またはインストラクター名")
	cmd.Flags().StringVar(&filter.Day, "day", "", "曜日 (Monday など)")
	cmd.Flags().StringVar(&filter.TimeOfDay, "time-of-day", "", "morning, afternoon, evening")
	cmd.Flags().StringVar(&filter.CourseKey, "course", "", "コースキー")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "空き枠数のずれを検出し、2回のスキャンで確認できたものを修復する",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(_ *config.Config, b *app.Backend) error {
				r := worker.NewSeatReconciler(b, nil, delay)
				if _, err := r.Scan(cmd.Context()); err != nil {
					return err
				}
				select {
				case <-time.After(delay):
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
				drifts, err := r.Scan(cmd.Context())
				if err != nil {
					return err
				}
				if len(drifts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "ずれはありません")
					return nil
				}

				t := table.NewWriter()
				t.SetOutputMirror(cmd.OutOrStdout())
				t.AppendHeader(table.Row{"Class", "Slots", "Booked", "Capacity", "Expected", "Repaired"})
				for _, d := range drifts {
					t.AppendRow(table.Row{d.ClassKey, d.Slots, d.Booked, d.Capacity, d.Expected, d.Repaired})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "2回のスキャンの間隔")
	return cmd
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "全てのドキュメントを削除する",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("--yes を指定してください")
			}
			return withBackend(cmd.Context(), func(_ *config.Config, b *app.Backend) error {
				if err := b.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "全てのドキュメントを削除しました")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "確認なしで削除する")
	return cmd
}
