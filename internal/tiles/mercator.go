// 包 tiles：球面墨卡托（EPSG:3857）投影与固定缩放级别的瓦片寻址
// 背景：每个生成点都要经过 经纬度 → 米 → 像素 → 瓦片 → quadkey 的换算，调用次数与人口数同量级，全部为无状态纯函数。
// 约束：瓦片坐标采用 TMS 方向（原点在左下角，y 向北增长）；quadkey 编码时翻转为 Google/Bing 方向，见 QuadTree。
package tiles

import (
	"errors"
	"fmt"
	"math"
)

const (
	// EarthRadius：WGS84 长半轴，球面墨卡托使用的球半径（米）
	EarthRadius = 6378137.0
	// TileSize：瓦片边长（像素）
	TileSize = 256
	// MaxLatitude：墨卡托有效纬度上限 atan(sinh(π))，约 85.05112878°
	MaxLatitude = 85.0511287798066
	// MaxZoom：支持的最大缩放级别；2^30*256 像素仍在 float64 精确整数范围内
	MaxZoom = 30
	// DefaultZoom：默认输出缩放级别
	DefaultZoom = 21
)

var (
	ErrInvalidInput    = errors.New("tiles: invalid input")
	ErrProjectionRange = errors.New("tiles: coordinate outside mercator range")
)

// Config：投影常量，构造时注入，运行期只读
type Config struct {
	Zoom          int
	TileSize      int
	EarthRadius   float64
	ClampLatitude bool
}

// DefaultConfig：缩放 21、256 像素瓦片、WGS84 半径，纬度超限时钳制
func DefaultConfig() Config {
	return Config{Zoom: DefaultZoom, TileSize: TileSize, EarthRadius: EarthRadius, ClampLatitude: true}
}

// Tile：TMS 方向的瓦片坐标
type Tile struct {
	X int
	Y int
	Z int
}

// Bounds：投影平面上的矩形（米）
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// LatLonBounds：经纬度矩形
type LatLonBounds struct {
	South, West, North, East float64
}

// Projected：单个点的完整换算结果
type Projected struct {
	X       float64
	Y       float64
	Tile    Tile
	QuadKey string
}

// Projector：持有投影常量与按缩放级别预计算的分辨率表
type Projector struct {
	cfg         Config
	tileSize    float64
	originShift float64
	res         [MaxZoom + 1]float64
}

// NewProjector：校验配置并预计算分辨率表
// 约束：Zoom 取值 [1, MaxZoom]；TileSize 与 EarthRadius 必须为正
func NewProjector(cfg Config) (*Projector, error) {
	if cfg.Zoom < 1 || cfg.Zoom > MaxZoom {
		return nil, fmt.Errorf("%w: zoom %d outside [1, %d]", ErrInvalidInput, cfg.Zoom, MaxZoom)
	}
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("%w: tile size %d", ErrInvalidInput, cfg.TileSize)
	}
	if !(cfg.EarthRadius > 0) || math.IsInf(cfg.EarthRadius, 0) {
		return nil, fmt.Errorf("%w: earth radius %v", ErrInvalidInput, cfg.EarthRadius)
	}
	p := &Projector{
		cfg:         cfg,
		tileSize:    float64(cfg.TileSize),
		originShift: math.Pi * cfg.EarthRadius,
	}
	initial := 2 * math.Pi * cfg.EarthRadius / p.tileSize
	for z := 0; z <= MaxZoom; z++ {
		p.res[z] = initial / math.Exp2(float64(z))
	}
	return p, nil
}

// Zoom：配置的输出缩放级别
func (p *Projector) Zoom() int { return p.cfg.Zoom }

// Config：返回构造时注入的常量
func (p *Projector) Config() Config { return p.cfg }

// Resolution：缩放级别 z 下每像素对应的米数
func (p *Projector) Resolution(z int) (float64, error) {
	if z < 0 || z > MaxZoom {
		return 0, fmt.Errorf("%w: zoom %d", ErrInvalidInput, z)
	}
	return p.res[z], nil
}

// ZoomForPixelSize：不超过给定像素尺寸（米）的最大缩放级别
func (p *Projector) ZoomForPixelSize(pixelSize float64) int {
	for z := 0; z <= MaxZoom; z++ {
		if pixelSize > p.res[z] {
			if z == 0 {
				return 0
			}
			return z - 1
		}
	}
	return MaxZoom
}

// LatLonToMeters：WGS84 经纬度 → 球面墨卡托米坐标
// 约束：非有限值返回 ErrInvalidInput；经度回绕到 [-180, 180)；
// 纬度超出 ±MaxLatitude 时按配置钳制，未开启钳制则返回 ErrProjectionRange
func (p *Projector) LatLonToMeters(lat, lon float64) (float64, float64, error) {
	if !finite(lat) || !finite(lon) {
		return 0, 0, fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidInput, lat, lon)
	}
	if lat > MaxLatitude || lat < -MaxLatitude {
		if !p.cfg.ClampLatitude {
			return 0, 0, fmt.Errorf("%w: lat=%v", ErrProjectionRange, lat)
		}
		lat = math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
	}
	lon = wrapLon(lon)
	mx := lon * p.originShift / 180.0
	my := math.Log(math.Tan((90+lat)*math.Pi/360.0)) * p.cfg.EarthRadius
	return mx, my, nil
}

// MetersToLatLon：球面墨卡托米坐标 → WGS84 经纬度
func (p *Projector) MetersToLatLon(mx, my float64) (float64, float64) {
	lon := mx / p.originShift * 180.0
	lat := my / p.originShift * 180.0
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return lat, lon
}

// MetersToPixels：米坐标 → 缩放级别 z 下的像素坐标（原点在左下角）
func (p *Projector) MetersToPixels(mx, my float64, z int) (float64, float64, error) {
	if z < 1 || z > MaxZoom {
		return 0, 0, fmt.Errorf("%w: zoom %d", ErrInvalidInput, z)
	}
	if !finite(mx) || !finite(my) {
		return 0, 0, fmt.Errorf("%w: mx=%v my=%v", ErrInvalidInput, mx, my)
	}
	res := p.res[z]
	return (mx + p.originShift) / res, (my + p.originShift) / res, nil
}

// PixelsToMeters：像素坐标 → 米坐标
func (p *Projector) PixelsToMeters(px, py float64, z int) (float64, float64, error) {
	if z < 0 || z > MaxZoom {
		return 0, 0, fmt.Errorf("%w: zoom %d", ErrInvalidInput, z)
	}
	res := p.res[z]
	return px*res - p.originShift, py*res - p.originShift, nil
}

// PixelsToTile：像素坐标 → 包含该像素的瓦片
// 约束：恰好落在世界边缘上的像素（仅钳制后的极限纬度/经度会出现）归入最后一行/列；其余越界返回 ErrProjectionRange
func (p *Projector) PixelsToTile(px, py float64, z int) (Tile, error) {
	if z < 1 || z > MaxZoom {
		return Tile{}, fmt.Errorf("%w: zoom %d", ErrInvalidInput, z)
	}
	n := 1 << uint(z)
	tx, err := p.pixelToIndex(px, n)
	if err != nil {
		return Tile{}, err
	}
	ty, err := p.pixelToIndex(py, n)
	if err != nil {
		return Tile{}, err
	}
	return Tile{X: tx, Y: ty, Z: z}, nil
}

func (p *Projector) pixelToIndex(v float64, n int) (int, error) {
	if !finite(v) {
		return 0, fmt.Errorf("%w: pixel %v", ErrInvalidInput, v)
	}
	world := float64(n) * p.tileSize
	tol := world * 1e-12
	if v < -tol || v > world+tol {
		return 0, fmt.Errorf("%w: pixel %v outside [0, %v]", ErrProjectionRange, v, world)
	}
	i := int(math.Floor(v / p.tileSize))
	if i < 0 {
		i = 0
	}
	if i >= n {
		i = n - 1
	}
	return i, nil
}

// MetersToTile：米坐标 → 缩放级别 z 的瓦片
func (p *Projector) MetersToTile(mx, my float64, z int) (Tile, error) {
	px, py, err := p.MetersToPixels(mx, my, z)
	if err != nil {
		return Tile{}, err
	}
	return p.PixelsToTile(px, py, z)
}

// TileBounds：瓦片在投影平面上的范围（米）
func (p *Projector) TileBounds(t Tile) (Bounds, error) {
	if err := t.Validate(); err != nil {
		return Bounds{}, err
	}
	ts := p.tileSize
	minx, miny, _ := p.PixelsToMeters(float64(t.X)*ts, float64(t.Y)*ts, t.Z)
	maxx, maxy, _ := p.PixelsToMeters(float64(t.X+1)*ts, float64(t.Y+1)*ts, t.Z)
	return Bounds{MinX: minx, MinY: miny, MaxX: maxx, MaxY: maxy}, nil
}

// TileLatLonBounds：瓦片的经纬度范围
func (p *Projector) TileLatLonBounds(t Tile) (LatLonBounds, error) {
	b, err := p.TileBounds(t)
	if err != nil {
		return LatLonBounds{}, err
	}
	south, west := p.MetersToLatLon(b.MinX, b.MinY)
	north, east := p.MetersToLatLon(b.MaxX, b.MaxY)
	return LatLonBounds{South: south, West: west, North: north, East: east}, nil
}

// Project：按配置缩放级别完成 经纬度 → 米 → 瓦片 → quadkey 全流程
func (p *Projector) Project(lat, lon float64) (Projected, error) {
	mx, my, err := p.LatLonToMeters(lat, lon)
	if err != nil {
		return Projected{}, err
	}
	t, err := p.MetersToTile(mx, my, p.cfg.Zoom)
	if err != nil {
		return Projected{}, err
	}
	return Projected{X: mx, Y: my, Tile: t, QuadKey: quadKey(t.X, t.Y, t.Z)}, nil
}

func wrapLon(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
