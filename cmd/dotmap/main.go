// 程序入口：读取配置、初始化存储并按区域生成点记录
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dotmap/internal/alloc"
	"dotmap/internal/config"
	"dotmap/internal/ingest"
	"dotmap/internal/ledger"
	"dotmap/internal/logger"
	"dotmap/internal/metrics"
	"dotmap/internal/migrate"
	"dotmap/internal/sink"
	"dotmap/internal/tiles"
	"dotmap/internal/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	l := logger.Setup()
	if err != nil {
		l.Error("config_error", "err", err)
		return 2
	}
	// 位置参数覆盖区域列表
	if cfg, err = cfg.WithRegions(os.Args[1:]); err != nil {
		l.Error("config_error", "err", err)
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: logger.AccessMiddleware(l)(mux), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			l.Info("metrics_listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("metrics_listen_error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	proj, err := tiles.NewProjector(cfg.TilesConfig())
	if err != nil {
		l.Error("projector_error", "err", err)
		return 2
	}
	cats, _ := cfg.CategorySet()
	driver := alloc.NewDriver(proj, cats, cfg.Run.MaxAttempts)

	var sinks sink.Fanout
	var resetters []ingest.Resetter
	var dry *sink.Discard
	if cfg.Run.DryRun {
		dry = sink.NewDiscard()
		sinks = append(sinks, dry)
		l.Info("dry_run", "reason", "records are counted, not written")
	} else {
		db, err := utils.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			l.Error("db_open_error", "err", err)
			return 1
		}
		defer db.Close()
		if err := migrate.EnsureSchema(db, cfg.Sink.Table); err != nil {
			l.Error("schema_error", "err", err)
			return 1
		}
		pg, err := sink.NewPostgres(db, cfg.Sink.Table)
		if err != nil {
			l.Error("sink_error", "err", err)
			return 2
		}
		sinks = append(sinks, pg)
		resetters = append(resetters, ingest.PostgresRows{DB: db, Table: cfg.Sink.Table})
	}

	var led ledger.Ledger = ledger.NewMemory()
	rdb, err := utils.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		l.Error("redis_ping_error", "err", err)
		return 1
	}
	if rdb == nil {
		l.Info("redis_disabled")
	} else {
		defer rdb.Close()
		if !cfg.Run.DryRun {
			led = ledger.NewRedis(rdb, cfg.Sink.LedgerPrefix)
			if cfg.Sink.TileCounts {
				tc := sink.NewTileCounts(rdb, cfg.Sink.TilePrefix, cfg.Tiles.RollupZoom)
				sinks = append(sinks, tc)
				resetters = append(resetters, tc)
			}
		}
	}
	defer sinks.Close()

	sum, err := ingest.Run(ctx, ingest.Options{
		Regions:   cfg.Regions,
		InputPath: cfg.InputPath,
		Binding:   cfg.Binding(),
		Run: alloc.RunOptions{
			Driver:                  driver,
			Workers:                 cfg.Run.Workers,
			Seed:                    cfg.Run.Seed,
			CommitEvery:             cfg.Run.CommitEvery,
			ProjectionEscalateAfter: cfg.Run.EscalateAfter,
		},
		Sink:      sinks,
		Ledger:    led,
		Force:     cfg.Run.Force,
		Resetters: resetters,
	})
	st := sum.Stats
	l.Info("summary", "run_id", sum.RunID, "completed", len(sum.Completed), "skipped_regions", len(sum.Skipped),
		"features", st.Features, "skipped_features", st.Skipped, "bad_records", st.BadRecords, "records", st.Records,
		"sampling_timeouts", st.Timeouts, "projection_errors", st.ProjectionErrors)
	if dry != nil {
		l.Info("dry_run_counts", "records", dry.Records, "w", dry.ByCode['w'], "b", dry.ByCode['b'], "a", dry.ByCode['a'], "h", dry.ByCode['h'], "o", dry.ByCode['o'])
	}
	if err != nil {
		l.Error("ingest_error", "err", err)
		return 1
	}
	return 0
}
