package main

import (
	"context"
	"fmt"
	"os"

	"dotmap/internal/config"
	"dotmap/internal/logger"
	"dotmap/internal/sink"
	"dotmap/internal/tiles"
	"dotmap/internal/utils"
)

// 文档注释：quadkey 解码工具
// 背景：排查输出数据时按 quadkey 反查瓦片坐标（TMS 与 Google 行号）与经纬度范围；配置了 Redis 且给出区域时附带瓦片计数。
// 约束：参数为一个或多个 quadkey；DOTMAP_REGION 指定计数所属区域。
func main() {
	cfg, err := config.Load()
	l := logger.Setup()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(2)
	}
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: quadkey <quadkey>...")
		os.Exit(2)
	}
	proj, err := tiles.NewProjector(cfg.TilesConfig())
	if err != nil {
		l.Error("projector_error", "err", err)
		os.Exit(2)
	}
	ctx := context.Background()
	var counts *sink.TileCounts
	region := os.Getenv("DOTMAP_REGION")
	if region != "" {
		rdb, err := utils.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			l.Error("redis_ping_error", "err", err)
			os.Exit(1)
		}
		if rdb != nil {
			defer rdb.Close()
			counts = sink.NewTileCounts(rdb, cfg.Sink.TilePrefix, cfg.Tiles.RollupZoom)
		}
	}
	code := 0
	for _, qk := range os.Args[1:] {
		t, err := tiles.QuadKeyToTile(qk)
		if err != nil {
			l.Error("quadkey_error", "quadkey", qk, "err", err)
			code = 1
			continue
		}
		b, _ := proj.TileLatLonBounds(t)
		fmt.Printf("%s\tz=%d tx=%d ty=%d google_y=%d\tsouth=%.7f west=%.7f north=%.7f east=%.7f\n",
			qk, t.Z, t.X, t.Y, t.GoogleY(), b.South, b.West, b.North, b.East)
		if counts != nil && len(qk) >= counts.Zoom() {
			m, err := counts.Counts(ctx, region, qk)
			if err != nil {
				l.Error("tile_counts_error", "quadkey", qk, "err", err)
				code = 1
				continue
			}
			fmt.Printf("\tcounts(z%d) w=%d b=%d a=%d h=%d o=%d\n", counts.Zoom(), m['w'], m['b'], m['a'], m['h'], m['o'])
		}
	}
	os.Exit(code)
}
