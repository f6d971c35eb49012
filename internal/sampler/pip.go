package sampler

// 文档注释：点入多边形判定（Even-Odd，边界计入）
// 背景：拒绝抽样的接受条件；同一点同一几何必须得到相同结果，因此只用确定的浮点比较，不引入容差。
// 约束：点落在任一环（含洞）的边上视为命中；否则须在外环内且不在任何洞内；多部件几何任一部件命中即命中。

// Contains：判定点是否在几何内部或边界上
func (s *Shape) Contains(pt Point) bool {
	if !s.Bounds.contains(pt) {
		return false
	}
	for i := range s.Polygons {
		if s.Polygons[i].contains(pt) {
			return true
		}
	}
	return false
}

func (p *Polygon) contains(pt Point) bool {
	if len(p.Rings) == 0 || !p.bbox.contains(pt) {
		return false
	}
	for _, r := range p.Rings {
		if onBoundary(pt, r) {
			return true
		}
	}
	if !pointInRing(pt, p.Rings[0]) {
		return false
	}
	for _, h := range p.Rings[1:] {
		if pointInRing(pt, h) {
			return false
		}
	}
	return true
}

// 射线法判定点是否在环内（不含边界，边界由 onBoundary 处理）
func pointInRing(pt Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lon, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		// (yi > y) != (yj > y) 保证 yj != yi，除法安全
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onBoundary(pt Point, ring []Point) bool {
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(pt, ring[j], ring[i]) {
			return true
		}
	}
	return false
}

func onSegment(p, a, b Point) bool {
	if p.Lon < min(a.Lon, b.Lon) || p.Lon > max(a.Lon, b.Lon) ||
		p.Lat < min(a.Lat, b.Lat) || p.Lat > max(a.Lat, b.Lat) {
		return false
	}
	cross := (b.Lon-a.Lon)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lon-a.Lon)
	return cross == 0
}
