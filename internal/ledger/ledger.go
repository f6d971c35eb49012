// 包 ledger：记录已完成区域，支持中断后续跑
// 背景：多区域运行耗时较长，每个区域完成后写入一条带运行 ID 的摘要；重跑时已完成区域默认跳过。
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry：单个区域的完成摘要
type Entry struct {
	Region           string
	RunID            string
	Features         int
	Skipped          int
	Records          int
	Timeouts         int
	ProjectionErrors int
	Duration         time.Duration
	CompletedAt      time.Time
}

// Ledger：区域完成状态存储
type Ledger interface {
	Done(ctx context.Context, region string) (bool, error)
	// Started：区域已开始写出但尚未完成，说明上次运行中途失败，可能留有已提交的部分数据
	Started(ctx context.Context, region string) (bool, error)
	MarkStarted(ctx context.Context, region, runID string) error
	Get(ctx context.Context, region string) (Entry, bool, error)
	MarkDone(ctx context.Context, e Entry) error
	Clear(ctx context.Context, region string) error
}

// Redis：完成集合 <prefix>:done、进行中哈希 <prefix>:started（区域 → 运行 ID）加每区域摘要哈希 <prefix>:region:<id>
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "dotmap:ledger"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) doneKey() string               { return r.prefix + ":done" }
func (r *Redis) startedKey() string            { return r.prefix + ":started" }
func (r *Redis) entryKey(region string) string { return r.prefix + ":region:" + region }

func (r *Redis) Done(ctx context.Context, region string) (bool, error) {
	return r.rdb.SIsMember(ctx, r.doneKey(), region).Result()
}

func (r *Redis) Started(ctx context.Context, region string) (bool, error) {
	return r.rdb.HExists(ctx, r.startedKey(), region).Result()
}

func (r *Redis) MarkStarted(ctx context.Context, region, runID string) error {
	return r.rdb.HSet(ctx, r.startedKey(), region, runID).Err()
}

func (r *Redis) MarkDone(ctx context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.entryKey(e.Region), map[string]any{
		"run_id":            e.RunID,
		"features":          e.Features,
		"skipped":           e.Skipped,
		"records":           e.Records,
		"timeouts":          e.Timeouts,
		"projection_errors": e.ProjectionErrors,
		"duration_ms":       e.Duration.Milliseconds(),
		"completed_at":      e.CompletedAt.Format(time.RFC3339),
	})
	pipe.SAdd(ctx, r.doneKey(), e.Region)
	pipe.HDel(ctx, r.startedKey(), e.Region)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) Get(ctx context.Context, region string) (Entry, bool, error) {
	m, err := r.rdb.HGetAll(ctx, r.entryKey(region)).Result()
	if err != nil {
		return Entry{}, false, err
	}
	if len(m) == 0 {
		return Entry{}, false, nil
	}
	e := Entry{Region: region, RunID: m["run_id"]}
	ints := map[string]*int{
		"features":          &e.Features,
		"skipped":           &e.Skipped,
		"records":           &e.Records,
		"timeouts":          &e.Timeouts,
		"projection_errors": &e.ProjectionErrors,
	}
	for k, dst := range ints {
		if v, ok := m[k]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Entry{}, false, fmt.Errorf("ledger: region %s field %s: %w", region, k, err)
			}
			*dst = n
		}
	}
	if v, ok := m["duration_ms"]; ok {
		ms, _ := strconv.ParseInt(v, 10, 64)
		e.Duration = time.Duration(ms) * time.Millisecond
	}
	if v, ok := m["completed_at"]; ok {
		e.CompletedAt, _ = time.Parse(time.RFC3339, v)
	}
	return e, true, nil
}

func (r *Redis) Clear(ctx context.Context, region string) error {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, r.doneKey(), region)
	pipe.HDel(ctx, r.startedKey(), region)
	pipe.Del(ctx, r.entryKey(region))
	_, err := pipe.Exec(ctx)
	return err
}

// Memory：进程内实现，未配置 Redis 或试运行时使用
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	started map[string]string
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]Entry{}, started: map[string]string{}}
}

func (m *Memory) Started(_ context.Context, region string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.started[region]
	return ok, nil
}

func (m *Memory) MarkStarted(_ context.Context, region, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[region] = runID
	return nil
}

func (m *Memory) Done(_ context.Context, region string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[region]
	return ok, nil
}

func (m *Memory) Get(_ context.Context, region string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[region]
	return e, ok, nil
}

func (m *Memory) MarkDone(_ context.Context, e Entry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Region] = e
	delete(m.started, e.Region)
	return nil
}

func (m *Memory) Clear(_ context.Context, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, region)
	delete(m.started, region)
	return nil
}
