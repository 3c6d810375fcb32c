package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/medicost/medtrack/internal/bnf"
	"github.com/medicost/medtrack/internal/config"
	"github.com/medicost/medtrack/internal/emit"
	"github.com/medicost/medtrack/internal/medication"
	"github.com/medicost/medtrack/internal/migration"
	"github.com/medicost/medtrack/internal/observability"
	"github.com/medicost/medtrack/internal/reconcile"
	"github.com/medicost/medtrack/internal/server"
	"github.com/medicost/medtrack/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "serve":
		fx.New(
			baseOptions(),
			server.Module,
		).Run()

	case "import-bnf":
		runJob(fx.Invoke(func(lc fx.Lifecycle, imp *bnf.Importer, sd fx.Shutdowner, log *zap.Logger) {
			startJob(lc, sd, log, func(ctx context.Context) error {
				stats, err := imp.Run(ctx)
				if err != nil {
					return err
				}
				log.Info("bnf import finished",
					zap.Int("chemicals_created", stats.ChemicalsCreated),
					zap.Int("entries_created", stats.EntriesCreated),
				)
				return nil
			})
		}))

	case "import-emit":
		path := ""
		if len(args) > 1 {
			path = args[1]
		}
		runJob(fx.Invoke(func(lc fx.Lifecycle, imp *emit.Importer, sd fx.Shutdowner, log *zap.Logger) {
			startJob(lc, sd, log, func(ctx context.Context) error {
				stats, err := imp.Run(ctx, path)
				if err != nil {
					return err
				}
				log.Info("emit import finished",
					zap.Int("products_created", stats.ProductsCreated),
					zap.Int("prices_recorded", stats.PricesRecorded),
					zap.Int("rows_skipped", stats.RowsSkipped),
				)
				return nil
			})
		}))

	case "reconcile":
		runJob(fx.Invoke(func(lc fx.Lifecycle, svc *reconcile.Service, sd fx.Shutdowner, log *zap.Logger) {
			startJob(lc, sd, log, func(ctx context.Context) error {
				matched, err := svc.Run(ctx)
				if err != nil {
					return err
				}
				log.Info("reconciliation finished", zap.Int("matched", matched))
				return nil
			})
		}))

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: medtrack [serve|import-bnf|import-emit [file]|reconcile]\n", cmd)
		os.Exit(2)
	}
}

func baseOptions() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		medication.Module,
		bnf.Module,
		emit.Module,
		reconcile.Module,
		fx.Provide(registerSnowflake),
	)
}

func runJob(job fx.Option) {
	fx.New(
		baseOptions(),
		job,
	).Run()
}

// startJob runs a batch job once the fx graph is up and shuts the app down
// when it finishes, propagating failure through the process exit code.
func startJob(lc fx.Lifecycle, sd fx.Shutdowner, log *zap.Logger, job func(context.Context) error) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			go func() {
				if err := job(context.Background()); err != nil {
					log.Error("job failed", zap.Error(err))
					_ = sd.Shutdown(fx.ExitCode(1))
					return
				}
				_ = sd.Shutdown()
			}()
			return nil
		},
	})
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
