package census

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"dotmap/internal/sampler"
)

// Feature：一个人口普查街区
// 约束：Shape 为 nil 表示该行无几何或几何退化，GeometryErr 记录原因；驱动层静默跳过此类要素
type Feature struct {
	Index       int
	RegionID    string
	Total       int
	Counts      [NumCategories]int
	Shape       *sampler.Shape
	GeometryErr error
}

// Count：某类别人数
func (f Feature) Count(c Category) int {
	if !c.Valid() {
		return 0
	}
	return f.Counts[c]
}

// Persons：各类别人数之和
func (f Feature) Persons() int {
	n := 0
	for _, v := range f.Counts {
		n += v
	}
	return n
}

// Source：要素迭代器
// 约束：Next 在结束时返回 io.EOF；返回 ErrBadRecord 的行可跳过后继续迭代；Len 未知时返回 -1
type Source interface {
	Next() (Feature, error)
	Len() int
	Close() error
}

// Open：按扩展名选择数据源实现（.shp / .geojson / .json）
func Open(path string, b Binding) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		s, err := OpenShapefile(path, b)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ".geojson", ".json":
		s, err := OpenGeoJSON(path, b)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("census: unsupported source %q (want .shp, .geojson or .json)", path)
}

// SliceSource：内存中的要素列表，用于测试与小批量重放
type SliceSource struct {
	features []Feature
	pos      int
}

func NewSliceSource(features []Feature) *SliceSource {
	return &SliceSource{features: features}
}

func (s *SliceSource) Next() (Feature, error) {
	if s.pos >= len(s.features) {
		return Feature{}, io.EOF
	}
	f := s.features[s.pos]
	if f.Index == 0 {
		f.Index = s.pos
	}
	s.pos++
	return f, nil
}

func (s *SliceSource) Len() int     { return len(s.features) }
func (s *SliceSource) Close() error { return nil }

// buildShape：环列表 → 只读几何；退化几何返回 nil 与原因
func buildShape(polys []sampler.Polygon) (*sampler.Shape, error) {
	if len(polys) == 0 {
		return nil, fmt.Errorf("%w: empty geometry", sampler.ErrDegenerateGeometry)
	}
	return sampler.NewShape(polys...)
}
