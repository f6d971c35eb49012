package alloc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dotmap/internal/census"
	"dotmap/internal/logger"
	"dotmap/internal/metrics"
)

// DefaultCommitEvery：每处理多少个要素提交一次
const DefaultCommitEvery = 1000

// RunOptions：流水线参数
type RunOptions struct {
	Driver *Driver
	// Workers <= 0 时取 runtime.NumCPU()；为 1 时输出顺序与输入顺序一致
	Workers int
	// Seed 非 0 时第 i 个工作协程使用 Seed+i，结果可复现
	Seed        uint64
	CommitEvery int
	// ProjectionEscalateAfter > 0 时覆盖 Driver 的连续投影失败阈值
	ProjectionEscalateAfter int
	// RegionID 填充源数据中缺失区域编码的记录
	RegionID string
	Logger   *slog.Logger
}

// RunStats：一次运行的汇总
type RunStats struct {
	Features         int
	Skipped          int
	BadRecords       int
	Records          int
	PerCategory      [census.NumCategories]int
	Timeouts         int
	ProjectionErrors int
	Commits          int
	Attempts         uint64
	Duration         time.Duration
}

// Add：合并单个要素的结果
func (s *RunStats) Add(fs FeatureStats) {
	s.Features++
	if fs.Skipped {
		s.Skipped++
		return
	}
	s.Records += fs.Records
	for i, n := range fs.PerCategory {
		s.PerCategory[i] += n
	}
	s.Timeouts += fs.Timeouts
	s.ProjectionErrors += fs.ProjectionErrors
	s.Attempts += fs.Attempts
}

// Merge：合并另一次运行（多区域汇总）
func (s *RunStats) Merge(o RunStats) {
	s.Features += o.Features
	s.Skipped += o.Skipped
	s.BadRecords += o.BadRecords
	s.Records += o.Records
	for i, n := range o.PerCategory {
		s.PerCategory[i] += n
	}
	s.Timeouts += o.Timeouts
	s.ProjectionErrors += o.ProjectionErrors
	s.Commits += o.Commits
	s.Attempts += o.Attempts
	s.Duration += o.Duration
}

type result struct {
	stats FeatureStats
	recs  []Record
}

// Run：读取 → 并行展开 → 单写协程写出
// 背景：一个读协程拉取要素，Workers 个协程各持独立随机流展开要素，写协程独占 Sink，
// 每 CommitEvery 个要素提交一次并打印 j/n (pct%) 进度，结束时再提交一次。
// 异常：源数据错误（ErrBadRecord 除外）、写出失败、连续投影失败均为致命错误，首个错误取消整个流水线。
// 约束：不关闭 src 与 sink，由调用方负责。
func Run(ctx context.Context, src census.Source, sink Sink, opts RunOptions) (RunStats, error) {
	if opts.Driver == nil {
		return RunStats{}, errors.New("alloc: RunOptions.Driver is required")
	}
	d := opts.Driver.WithEscalateAfter(opts.ProjectionEscalateAfter)
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	commitEvery := opts.CommitEvery
	if commitEvery <= 0 {
		commitEvery = DefaultCommitEvery
	}
	l := opts.Logger
	if l == nil {
		l = logger.L()
	}

	start := time.Now()
	total := src.Len()
	var stats RunStats
	g, gctx := errgroup.WithContext(ctx)
	feats := make(chan census.Feature, workers*2)
	results := make(chan result, workers*2)
	var badRecords int

	g.Go(func() error {
		defer close(feats)
		for {
			f, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, census.ErrBadRecord) {
				badRecords++
				l.Warn("feature_bad_record", "index", f.Index, "err", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("alloc: read source: %w", err)
			}
			if f.RegionID == "" {
				f.RegionID = opts.RegionID
			}
			select {
			case feats <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		seed := uint64(0)
		if opts.Seed != 0 {
			seed = opts.Seed + uint64(w)
		}
		s := d.NewSampler(seed)
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			streak := 0
			for f := range feats {
				var recs []Record
				if f.Shape != nil {
					recs = make([]Record, 0, f.Persons())
				}
				fs, err := d.Allocate(gctx, f, s, func(r Record) error {
					recs = append(recs, r)
					return nil
				})
				if err != nil {
					return err
				}
				if fs.Records > 0 {
					streak = fs.ProjectionStreak
				} else {
					streak += fs.ProjectionStreak
				}
				if streak >= d.EscalateAfter() {
					return fmt.Errorf("%w: %d consecutive points ending at feature %d", ErrSystemicProjection, streak, f.Index)
				}
				select {
				case results <- result{stats: fs, recs: recs}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		pending := 0
		for r := range results {
			if len(r.recs) > 0 {
				if err := sink.Append(gctx, r.recs); err != nil {
					return fmt.Errorf("%w: append: %w", ErrSinkWrite, err)
				}
			}
			stats.Add(r.stats)
			observe(d.Categories(), r.stats)
			pending++
			if pending >= commitEvery {
				if err := commit(gctx, sink, &stats); err != nil {
					return err
				}
				pending = 0
				l.Info("run_progress", "region", opts.RegionID, "progress", progress(stats.Features, total), "records", stats.Records)
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		return commit(gctx, sink, &stats)
	})

	err := g.Wait()
	stats.BadRecords = badRecords
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}
	if stats.Timeouts > 0 || stats.ProjectionErrors > 0 {
		l.Warn("data_quality_warning", "region", opts.RegionID, "sampling_timeouts", stats.Timeouts, "projection_errors", stats.ProjectionErrors)
	}
	l.Info("run_done", "region", opts.RegionID, "features", stats.Features, "skipped", stats.Skipped,
		"records", stats.Records, "commits", stats.Commits, "duration_ms", stats.Duration.Milliseconds())
	return stats, nil
}

func commit(ctx context.Context, sink Sink, stats *RunStats) error {
	if err := sink.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrSinkWrite, err)
	}
	stats.Commits++
	metrics.SinkCommitsTotal.Inc()
	return nil
}

func observe(cats census.CategorySet, fs FeatureStats) {
	metrics.FeaturesTotal.Inc()
	if fs.Skipped {
		metrics.FeaturesSkippedTotal.Inc()
		return
	}
	for _, c := range cats {
		if n := fs.PerCategory[c]; n > 0 {
			metrics.RecordsTotal.WithLabelValues(c.String()).Add(float64(n))
		}
	}
	if fs.Timeouts > 0 {
		metrics.SamplingTimeoutsTotal.Add(float64(fs.Timeouts))
	}
	if fs.ProjectionErrors > 0 {
		metrics.ProjectionErrorsTotal.Add(float64(fs.ProjectionErrors))
	}
	if fs.Records > 0 {
		metrics.SampleAttempts.Observe(float64(fs.Attempts) / float64(fs.Records))
	}
}

// progress：j/n (pct%)；总数未知时只给出 j
func progress(done, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d", done)
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", done, total, 100*float64(done)/float64(total))
}
