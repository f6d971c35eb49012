// 包 sampler：在任意简单多边形（含洞、多部件）内均匀抽样一个点
// 背景：每个人口单位对应一次抽样，循环次数与人口总数同量级；几何在读取阶段一次性构建为只读结构，抽样期只做包围盒抽点与点面判定。
// 约束：坐标为经纬度（x=经度，y=纬度）；环按 GeoJSON 约定，第一环为外环，其余为洞。
package sampler

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrDegenerateGeometry = errors.New("sampler: degenerate geometry")
	ErrSamplingTimeout    = errors.New("sampler: sampling attempts exhausted")
)

// Point：经纬度点
type Point struct {
	Lon float64
	Lat float64
}

// BBox：包围盒（经纬度）
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Width / Height：包围盒宽高（度）
func (b BBox) Width() float64  { return b.MaxLon - b.MinLon }
func (b BBox) Height() float64 { return b.MaxLat - b.MinLat }

// Area：包围盒面积（平方度）
func (b BBox) Area() float64 { return b.Width() * b.Height() }

func (b BBox) contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Polygon：一个外环加若干洞
type Polygon struct {
	Rings [][]Point
	bbox  BBox
}

// Shape：一个或多个多边形部件构成的几何，包围盒为所有部件外环的并
type Shape struct {
	Polygons []Polygon
	Bounds   BBox
	area     float64
}

// NewShape：构建只读几何并校验可抽样性
// 约束：外环顶点不足 3 个、含非有限坐标或面积为 0 的部件单独丢弃，其余部件照常抽样；
// 无部件保留、包围盒宽或高为 0、总面积为 0，返回 ErrDegenerateGeometry
func NewShape(polys ...Polygon) (*Shape, error) {
	s := &Shape{Bounds: emptyBBox()}
	var areas []float64
	dropped := 0
	for _, p := range polys {
		poly, ok := buildPolygon(p)
		if !ok {
			dropped++
			continue
		}
		s.Bounds = union(s.Bounds, poly.bbox)
		areas = append(areas, poly.Area())
		s.Polygons = append(s.Polygons, poly)
	}
	if len(s.Polygons) == 0 {
		return nil, fmt.Errorf("%w: empty geometry (%d parts dropped)", ErrDegenerateGeometry, dropped)
	}
	s.area = floats.Sum(areas)
	if !(s.Bounds.Width() > 0) || !(s.Bounds.Height() > 0) {
		return nil, fmt.Errorf("%w: zero-extent bounding box %+v", ErrDegenerateGeometry, s.Bounds)
	}
	if !(s.area > 0) {
		return nil, fmt.Errorf("%w: zero area", ErrDegenerateGeometry)
	}
	return s, nil
}

// buildPolygon：规整单个部件；外环不可用时返回 false
func buildPolygon(p Polygon) (Polygon, bool) {
	if len(p.Rings) == 0 || distinct(openRing(p.Rings[0])) < 3 {
		return Polygon{}, false
	}
	rings := make([][]Point, 0, len(p.Rings))
	for i, r := range p.Rings {
		r = openRing(r)
		for _, pt := range r {
			if !finite(pt.Lon) || !finite(pt.Lat) {
				return Polygon{}, false
			}
		}
		if i > 0 && len(r) < 3 {
			// 顶点不足的洞不影响判定，直接丢弃
			continue
		}
		rings = append(rings, r)
	}
	poly := Polygon{Rings: rings, bbox: ringBBox(rings[0])}
	if !(poly.Area() > 0) {
		return Polygon{}, false
	}
	return poly, true
}

// Area：多边形面积（平方度），外环减去洞
func (p Polygon) Area() float64 {
	if len(p.Rings) == 0 {
		return 0
	}
	holes := make([]float64, 0, len(p.Rings)-1)
	for _, h := range p.Rings[1:] {
		holes = append(holes, math.Abs(SignedArea(h)))
	}
	return math.Max(math.Abs(SignedArea(p.Rings[0]))-floats.Sum(holes), 0)
}

// Area：全部部件面积之和（平方度）
func (s *Shape) Area() float64 { return s.area }

// AcceptanceRatio：拒绝抽样的期望接受率 = 面积 / 包围盒面积
func (s *Shape) AcceptanceRatio() float64 {
	ba := s.Bounds.Area()
	if ba <= 0 {
		return 0
	}
	return math.Min(1, s.area/ba)
}

// SignedArea：鞋带公式有向面积，逆时针为正
// 约束：先平移到首点为原点再做点积，街区级小环在大经纬度下不丢精度
func SignedArea(ring []Point) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range ring {
		xs[i], ys[i] = p.Lon, p.Lat
	}
	floats.AddConst(-ring[0].Lon, xs)
	floats.AddConst(-ring[0].Lat, ys)
	xn := append(xs[1:n:n], xs[0])
	yn := append(ys[1:n:n], ys[0])
	return (floats.Dot(xs, yn) - floats.Dot(xn, ys)) / 2
}

// openRing：去掉与首点重复的闭合点
func openRing(r []Point) []Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

func distinct(r []Point) int {
	seen := make(map[Point]struct{}, len(r))
	for _, p := range r {
		seen[p] = struct{}{}
	}
	return len(seen)
}

func emptyBBox() BBox {
	return BBox{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
}

func ringBBox(r []Point) BBox {
	b := emptyBBox()
	for _, p := range r {
		b.MinLon = math.Min(b.MinLon, p.Lon)
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLon = math.Max(b.MaxLon, p.Lon)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
	}
	return b
}

func union(a, b BBox) BBox {
	return BBox{
		MinLon: math.Min(a.MinLon, b.MinLon),
		MinLat: math.Min(a.MinLat, b.MinLat),
		MaxLon: math.Max(a.MaxLon, b.MaxLon),
		MaxLat: math.Max(a.MaxLat, b.MaxLat),
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
