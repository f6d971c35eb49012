// 包 ingest：多区域批处理，逐区域 打开数据源 → 展开 → 写出 → 记入台账
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dotmap/internal/alloc"
	"dotmap/internal/census"
	"dotmap/internal/ledger"
	"dotmap/internal/logger"
	"dotmap/internal/metrics"
	"dotmap/internal/sink"
)

// Resetter：可按区域清除已写出数据的存储
type Resetter interface {
	ResetRegion(ctx context.Context, region string) (int64, error)
}

// PostgresRows：输出表按区域删除
type PostgresRows struct {
	DB    *sql.DB
	Table string
}

func (p PostgresRows) ResetRegion(ctx context.Context, region string) (int64, error) {
	return sink.DeleteRegion(ctx, p.DB, p.Table, region)
}

// Options：批处理参数
type Options struct {
	Regions   []string
	InputPath func(region string) string
	Binding   census.Binding
	// Open 为空时使用 census.Open
	Open   func(path string, b census.Binding) (census.Source, error)
	Run    alloc.RunOptions
	Sink   alloc.Sink
	Ledger ledger.Ledger
	// Force：重跑已完成区域，先清除其旧数据
	Force     bool
	Resetters []Resetter
	RunID     string
}

// Summary：整批结果
type Summary struct {
	RunID     string
	Completed []string
	Skipped   []string
	Stats     alloc.RunStats
}

// Run：按顺序处理区域
// 背景：所有区域写入同一张表；每个区域完成后记入台账，中断后重跑从未完成区域继续。
// 异常：任一区域失败即返回，已完成区域保持有效；已记入台账的区域默认跳过，Force 时先清除再重跑。
// 约束：区域开始写出前先记入进行中标记；上次中途失败的区域（有标记未完成）重跑前先清除已提交的部分数据。
func Run(ctx context.Context, opts Options) (Summary, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewMemory()
	}
	open := opts.Open
	if open == nil {
		open = func(path string, b census.Binding) (census.Source, error) { return census.Open(path, b) }
	}
	l := logger.L().With("run_id", opts.RunID)
	sum := Summary{RunID: opts.RunID}
	for i, region := range opts.Regions {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		done, err := opts.Ledger.Done(ctx, region)
		if err != nil {
			return sum, fmt.Errorf("ingest: ledger lookup %s: %w", region, err)
		}
		if done && !opts.Force {
			l.Info("region_skip_done", "region", region)
			sum.Skipped = append(sum.Skipped, region)
			continue
		}
		started := false
		if !done {
			if started, err = opts.Ledger.Started(ctx, region); err != nil {
				return sum, fmt.Errorf("ingest: ledger lookup %s: %w", region, err)
			}
		}
		if done || started {
			if started {
				l.Warn("region_partial_reset", "region", region)
			}
			if err := ResetRegions(ctx, []string{region}, opts.Ledger, opts.Resetters...); err != nil {
				return sum, err
			}
		}
		if err := opts.Ledger.MarkStarted(ctx, region, opts.RunID); err != nil {
			return sum, fmt.Errorf("ingest: ledger mark %s: %w", region, err)
		}
		path := opts.InputPath(region)
		l.Info("region_start", "region", region, "path", path, "progress", fmt.Sprintf("%d/%d", i+1, len(opts.Regions)))
		st, err := runRegion(ctx, open, path, region, opts)
		sum.Stats.Merge(st)
		if err != nil {
			l.Error("region_error", "region", region, "err", err)
			return sum, fmt.Errorf("ingest: region %s: %w", region, err)
		}
		metrics.RegionDurationSeconds.Observe(st.Duration.Seconds())
		e := ledger.Entry{
			Region:           region,
			RunID:            opts.RunID,
			Features:         st.Features,
			Skipped:          st.Skipped,
			Records:          st.Records,
			Timeouts:         st.Timeouts,
			ProjectionErrors: st.ProjectionErrors,
			Duration:         st.Duration,
		}
		if err := opts.Ledger.MarkDone(ctx, e); err != nil {
			return sum, fmt.Errorf("ingest: ledger mark %s: %w", region, err)
		}
		sum.Completed = append(sum.Completed, region)
		l.Info("region_done", "region", region, "features", st.Features, "records", st.Records, "duration_ms", st.Duration.Milliseconds())
	}
	l.Info("ingest_done", "completed", len(sum.Completed), "skipped", len(sum.Skipped), "records", sum.Stats.Records)
	return sum, nil
}

func runRegion(ctx context.Context, open func(string, census.Binding) (census.Source, error), path, region string, opts Options) (alloc.RunStats, error) {
	start := time.Now()
	src, err := open(path, opts.Binding)
	if err != nil {
		return alloc.RunStats{}, err
	}
	defer src.Close()
	ro := opts.Run
	ro.RegionID = region
	st, err := alloc.Run(ctx, src, opts.Sink, ro)
	st.Duration = time.Since(start)
	return st, err
}

// ResetRegions：清除区域的已写出数据与台账记录
// 约束：先清数据再清台账；中途失败时台账状态不变，重跑需再次执行清除
func ResetRegions(ctx context.Context, regions []string, led ledger.Ledger, rs ...Resetter) error {
	l := logger.L()
	for _, region := range regions {
		var errs []error
		for _, r := range rs {
			n, err := r.ResetRegion(ctx, region)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			l.Info("region_reset", "region", region, "store", fmt.Sprintf("%T", r), "deleted", n)
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("ingest: reset %s: %w", region, err)
		}
		if led != nil {
			if err := led.Clear(ctx, region); err != nil {
				return fmt.Errorf("ingest: ledger clear %s: %w", region, err)
			}
		}
	}
	return nil
}
