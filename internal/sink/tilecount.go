package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"dotmap/internal/alloc"
	"dotmap/internal/logger"
)

// DefaultRollupZoom：瓦片计数的汇总缩放级别
const DefaultRollupZoom = 14

// TileCounts：按汇总缩放级别的瓦片与类别累计点数，写入 Redis 哈希
// 背景：quadkey 的前 z 位即该点在 z 级的祖先瓦片，截断前缀即可汇总，无需重新投影。
// 约束：键 <prefix>:<region>:z<zoom>:<quadkey>，字段为类别编码；每个区域维护一个键集合，便于按区域清除。
type TileCounts struct {
	rdb     *redis.Client
	prefix  string
	zoom    int
	pending map[tileKey]map[byte]int64
	log     *slog.Logger
}

type tileKey struct {
	region string
	qk     string
}

func NewTileCounts(rdb *redis.Client, prefix string, zoom int) *TileCounts {
	if prefix == "" {
		prefix = "dotmap:tiles"
	}
	if zoom <= 0 {
		zoom = DefaultRollupZoom
	}
	return &TileCounts{rdb: rdb, prefix: prefix, zoom: zoom, pending: map[tileKey]map[byte]int64{}, log: logger.L()}
}

func (t *TileCounts) Zoom() int { return t.zoom }

func (t *TileCounts) key(region, qk string) string {
	return t.prefix + ":" + region + ":z" + strconv.Itoa(t.zoom) + ":" + qk
}

func (t *TileCounts) indexKey(region string) string {
	return t.prefix + ":" + region + ":keys"
}

func (t *TileCounts) Append(_ context.Context, recs []alloc.Record) error {
	for _, r := range recs {
		qk := r.QuadKey
		if len(qk) > t.zoom {
			qk = qk[:t.zoom]
		}
		k := tileKey{region: r.RegionID, qk: qk}
		m := t.pending[k]
		if m == nil {
			m = map[byte]int64{}
			t.pending[k] = m
		}
		m[r.Code]++
	}
	return nil
}

// Commit：以事务管道提交累计计数
func (t *TileCounts) Commit(ctx context.Context) error {
	if len(t.pending) == 0 {
		return nil
	}
	pipe := t.rdb.TxPipeline()
	for k, m := range t.pending {
		key := t.key(k.region, k.qk)
		for code, n := range m {
			pipe.HIncrBy(ctx, key, string(code), n)
		}
		pipe.SAdd(ctx, t.indexKey(k.region), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("sink: tile counts: %w", err)
	}
	t.log.Debug("sink_commit", "sink", "tilecounts", "tiles", len(t.pending))
	t.pending = map[tileKey]map[byte]int64{}
	return nil
}

// Close：丢弃未提交的计数；不关闭 Redis 客户端
func (t *TileCounts) Close() error {
	t.pending = map[tileKey]map[byte]int64{}
	return nil
}

// Counts：读取某区域某瓦片的各类别计数；quadkey 长于汇总级别时截断
func (t *TileCounts) Counts(ctx context.Context, region, quadkey string) (map[byte]int64, error) {
	if len(quadkey) > t.zoom {
		quadkey = quadkey[:t.zoom]
	}
	raw, err := t.rdb.HGetAll(ctx, t.key(region, quadkey)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[byte]int64, len(raw))
	for f, v := range raw {
		if len(f) != 1 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sink: tile %s field %s: %w", quadkey, f, err)
		}
		out[f[0]] = n
	}
	return out, nil
}

// ResetRegion：删除某区域的全部瓦片计数，返回删除的键数
func (t *TileCounts) ResetRegion(ctx context.Context, region string) (int64, error) {
	idx := t.indexKey(region)
	keys, err := t.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := t.rdb.Del(ctx, append(keys, idx)...).Result()
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}
