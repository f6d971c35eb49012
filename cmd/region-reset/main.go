package main

import (
	"context"
	"os"

	"dotmap/internal/config"
	"dotmap/internal/ingest"
	"dotmap/internal/ledger"
	"dotmap/internal/logger"
	"dotmap/internal/sink"
	"dotmap/internal/utils"
)

// 文档注释：区域数据清除
// 背景：删除指定区域在输出表中的全部记录、Redis 瓦片计数与台账条目，之后重跑会重新生成该区域。
// 约束：区域以参数或 DOTMAP_REGIONS 给出；不接受空列表，避免误清全部区域。
func main() {
	cfg, err := config.Load()
	l := logger.Setup()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(2)
	}
	regions := os.Args[1:]
	if len(regions) == 0 {
		if v := os.Getenv("DOTMAP_REGIONS"); v != "" {
			regions = config.SplitList(v)
		}
	}
	if len(regions) == 0 {
		l.Error("regions_missing")
		os.Exit(2)
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	rs := []ingest.Resetter{ingest.PostgresRows{DB: db, Table: cfg.Sink.Table}}
	var led ledger.Ledger
	rdb, err := utils.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		l.Error("redis_ping_error", "err", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		led = ledger.NewRedis(rdb, cfg.Sink.LedgerPrefix)
		rs = append(rs, sink.NewTileCounts(rdb, cfg.Sink.TilePrefix, cfg.Tiles.RollupZoom))
	}
	if err := ingest.ResetRegions(ctx, regions, led, rs...); err != nil {
		l.Error("region_reset_error", "err", err)
		os.Exit(1)
	}
	l.Info("region_reset_done", "regions", regions)
}
