package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dotmap/internal/census"
	"dotmap/internal/logger"
	"dotmap/internal/sampler"
	"dotmap/internal/tiles"
)

// DefaultEscalateAfter：连续投影失败达到该次数即视为系统性错误（如源数据不是经纬度）
const DefaultEscalateAfter = 1000

// FeatureStats：单个要素的展开结果
type FeatureStats struct {
	Skipped          bool
	Records          int
	PerCategory      [census.NumCategories]int
	Timeouts         int
	ProjectionErrors int
	// ProjectionStreak：调用结束时尾部连续投影失败次数
	ProjectionStreak int
	Attempts         uint64
}

// Driver：要素 → 记录 的展开器，构建后只读，可在多个工作协程间共享
type Driver struct {
	proj          *tiles.Projector
	cats          census.CategorySet
	maxAttempts   int
	escalateAfter int
	log           *slog.Logger
}

// NewDriver：注入投影器、类别顺序与单点最大尝试次数
// 约束：cats 为空时使用全部类别；maxAttempts <= 0 时使用 sampler.DefaultMaxAttempts
func NewDriver(proj *tiles.Projector, cats census.CategorySet, maxAttempts int) *Driver {
	if len(cats) == 0 {
		cats = census.AllCategories()
	}
	if maxAttempts <= 0 {
		maxAttempts = sampler.DefaultMaxAttempts
	}
	return &Driver{proj: proj, cats: cats, maxAttempts: maxAttempts, escalateAfter: DefaultEscalateAfter, log: logger.L()}
}

// WithEscalateAfter：返回设置了连续投影失败阈值的副本；n <= 0 时保持默认
func (d *Driver) WithEscalateAfter(n int) *Driver {
	cp := *d
	if n > 0 {
		cp.escalateAfter = n
	}
	return &cp
}

func (d *Driver) Categories() census.CategorySet { return d.cats }
func (d *Driver) EscalateAfter() int             { return d.escalateAfter }
func (d *Driver) Projector() *tiles.Projector    { return d.proj }

// NewSampler：按驱动配置的尝试上限构建抽样器；seed 为 0 时使用随机种子
func (d *Driver) NewSampler(seed uint64) *sampler.Sampler {
	if seed == 0 {
		return sampler.NewRandom(d.maxAttempts)
	}
	return sampler.NewSeeded(seed, d.maxAttempts)
}

// Allocate：按类别顺序为每个人抽样一个点并投影，逐条交给 emit
// 背景：无几何的要素静默跳过；抽样超时与投影失败只丢弃单点并计数。
// 异常：emit 出错立即返回（包装为 ErrSinkWrite）；单次调用内连续投影失败达到阈值返回 ErrSystemicProjection；
// 上下文在每个类别循环开始时检查。
func (d *Driver) Allocate(ctx context.Context, f census.Feature, s *sampler.Sampler, emit func(Record) error) (st FeatureStats, err error) {
	if f.Shape == nil {
		st.Skipped = true
		d.log.Debug("feature_skip", "index", f.Index, "region", f.RegionID, "persons", f.Persons(), "err", f.GeometryErr)
		return st, nil
	}
	if r := f.Shape.AcceptanceRatio(); r < 0.01 {
		d.log.Debug("low_acceptance_ratio", "index", f.Index, "region", f.RegionID, "ratio", r)
	}
	before := s.Attempts()
	defer func() { st.Attempts = s.Attempts() - before }()
	for _, c := range d.cats {
		n := f.Count(c)
		if n <= 0 {
			continue
		}
		if err = ctx.Err(); err != nil {
			return st, err
		}
		code := c.Code()
		for i := 0; i < n; i++ {
			pt, serr := s.Sample(f.Shape)
			if serr != nil {
				if errors.Is(serr, sampler.ErrSamplingTimeout) {
					st.Timeouts++
					continue
				}
				return st, serr
			}
			p, perr := d.proj.Project(pt.Lat, pt.Lon)
			if perr != nil {
				st.ProjectionErrors++
				st.ProjectionStreak++
				if st.ProjectionStreak >= d.escalateAfter {
					return st, fmt.Errorf("%w: %d consecutive points (last: %w)", ErrSystemicProjection, st.ProjectionStreak, perr)
				}
				continue
			}
			st.ProjectionStreak = 0
			rec := Record{RegionID: f.RegionID, X: p.X, Y: p.Y, QuadKey: p.QuadKey, Code: code}
			if eerr := emit(rec); eerr != nil {
				return st, fmt.Errorf("%w: %w", ErrSinkWrite, eerr)
			}
			st.Records++
			st.PerCategory[c]++
		}
	}
	return st, nil
}
