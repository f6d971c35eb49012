package census

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonas-p/go-shp"

	"dotmap/internal/sampler"
)

// ShapefileSource：ESRI Shapefile 数据源（.shp + .dbf）
// 背景：人口普查街区原始发布格式；几何与属性按行号对齐读取。
// 约束：仅支持 Polygon / PolygonZ / PolygonM；Null 形状视为无几何；坐标须为经纬度（EPSG:4269/4326）。
type ShapefileSource struct {
	path string
	r    *shp.Reader
	acc  *Accessor
	n    int
}

// OpenShapefile：打开 Shapefile 并在迭代前完成字段绑定
func OpenShapefile(path string, b Binding) (*ShapefileSource, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".shp") {
		return nil, fmt.Errorf("census: shapefile path %q must end in .shp", path)
	}
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	acc, err := b.Resolve(names)
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ShapefileSource{path: path, r: r, acc: acc, n: r.AttributeCount()}, nil
}

func (s *ShapefileSource) Len() int     { return s.n }
func (s *ShapefileSource) Close() error { return s.r.Close() }

func (s *ShapefileSource) Next() (Feature, error) {
	if !s.r.Next() {
		if err := s.r.Err(); err != nil {
			return Feature{}, fmt.Errorf("%s: %w", s.path, err)
		}
		return Feature{}, io.EOF
	}
	row, shape := s.r.Shape()
	f := Feature{Index: row}
	region, total, counts, _, err := s.acc.Decode(func(i int) string { return s.r.ReadAttribute(row, i) })
	if err != nil {
		return f, fmt.Errorf("%s row %d: %w", s.path, row, err)
	}
	f.RegionID, f.Total, f.Counts = region, total, counts
	if _, null := shape.(*shp.Null); null {
		f.GeometryErr = fmt.Errorf("%w: null shape", sampler.ErrDegenerateGeometry)
		return f, nil
	}
	polys, ok := shapePolygons(shape)
	if !ok {
		f.GeometryErr = fmt.Errorf("%w: shape type %T", sampler.ErrDegenerateGeometry, shape)
		return f, nil
	}
	f.Shape, f.GeometryErr = buildShape(polys)
	return f, nil
}

func shapePolygons(s shp.Shape) ([]sampler.Polygon, bool) {
	switch g := s.(type) {
	case *shp.Polygon:
		return groupRings(splitParts(g.Parts, g.Points)), true
	case *shp.PolygonZ:
		return groupRings(splitParts(g.Parts, g.Points)), true
	case *shp.PolygonM:
		return groupRings(splitParts(g.Parts, g.Points)), true
	}
	return nil, false
}

func splitParts(parts []int32, pts []shp.Point) [][]sampler.Point {
	rings := make([][]sampler.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		ring := make([]sampler.Point, 0, end-start)
		for _, p := range pts[start:end] {
			ring = append(ring, sampler.Point{Lon: p.X, Lat: p.Y})
		}
		rings = append(rings, ring)
	}
	return rings
}

// groupRings：按 ESRI 约定分组，顺时针环为外环，逆时针环为前一个外环的洞
// 约束：若文件中没有任何顺时针环（非规范写出），每个环都按外环处理
func groupRings(rings [][]sampler.Point) []sampler.Polygon {
	anyCW := false
	for _, r := range rings {
		if sampler.SignedArea(r) < 0 {
			anyCW = true
			break
		}
	}
	var out []sampler.Polygon
	for _, r := range rings {
		if len(r) == 0 {
			continue
		}
		if !anyCW || sampler.SignedArea(r) < 0 || len(out) == 0 {
			out = append(out, sampler.Polygon{Rings: [][]sampler.Point{r}})
			continue
		}
		last := &out[len(out)-1]
		last.Rings = append(last.Rings, r)
	}
	return out
}
