package tiles

import "fmt"

// Validate：检查缩放级别与行列号是否在金字塔范围内
func (t Tile) Validate() error {
	if t.Z < 1 || t.Z > MaxZoom {
		return fmt.Errorf("%w: zoom %d", ErrInvalidInput, t.Z)
	}
	n := 1 << uint(t.Z)
	if t.X < 0 || t.X >= n || t.Y < 0 || t.Y >= n {
		return fmt.Errorf("%w: tile %d/%d outside zoom %d", ErrInvalidInput, t.X, t.Y, t.Z)
	}
	return nil
}

// GoogleY：TMS 行号翻转为 Google/Bing 方向（原点在左上角）
func (t Tile) GoogleY() int { return (1<<uint(t.Z) - 1) - t.Y }

// QuadKey：瓦片的 quadkey 编码
func (t Tile) QuadKey() (string, error) { return QuadTree(t.X, t.Y, t.Z) }

// QuadTree：TMS 瓦片 (tx, ty, z) → quadkey
// 背景：沿用 GlobalMercator 的约定，先把 ty 翻转到 Google/Bing 方向再逐级取位。
// 约束：从第 z 级到第 1 级依次取 tx、ty 的第 (i-1) 位，digit = xbit + 2*ybit；输出恰为 z 个字符。
func QuadTree(tx, ty, z int) (string, error) {
	t := Tile{X: tx, Y: ty, Z: z}
	if err := t.Validate(); err != nil {
		return "", err
	}
	return quadKey(tx, ty, z), nil
}

func quadKey(tx, ty, z int) string {
	ty = (1<<uint(z) - 1) - ty
	buf := make([]byte, z)
	for i := z; i > 0; i-- {
		mask := 1 << uint(i-1)
		d := byte('0')
		if tx&mask != 0 {
			d++
		}
		if ty&mask != 0 {
			d += 2
		}
		buf[z-i] = d
	}
	return string(buf)
}

// QuadKeyToTile：quadkey → TMS 瓦片，QuadTree 的精确逆运算
func QuadKeyToTile(qk string) (Tile, error) {
	z := len(qk)
	if z < 1 || z > MaxZoom {
		return Tile{}, fmt.Errorf("%w: quadkey length %d", ErrInvalidInput, z)
	}
	var tx, ty int
	for i := 0; i < z; i++ {
		mask := 1 << uint(z-1-i)
		switch qk[i] {
		case '0':
		case '1':
			tx |= mask
		case '2':
			ty |= mask
		case '3':
			tx |= mask
			ty |= mask
		default:
			return Tile{}, fmt.Errorf("%w: quadkey digit %q", ErrInvalidInput, qk[i])
		}
	}
	return Tile{X: tx, Y: (1<<uint(z) - 1) - ty, Z: z}, nil
}

// Parent：上一级（z-1）包含本瓦片的瓦片；z=1 时返回自身
func (t Tile) Parent() Tile {
	if t.Z <= 1 {
		return t
	}
	return Tile{X: t.X >> 1, Y: t.Y >> 1, Z: t.Z - 1}
}
