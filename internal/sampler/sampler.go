package sampler

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// DefaultMaxAttempts：单点抽样的最大尝试次数；接受率低于 1e-5 的几何视为病态
const DefaultMaxAttempts = 100_000

// Sampler：拒绝抽样器，每个工作协程独占一个实例
// 约束：内部随机源非并发安全，不得跨协程共享
type Sampler struct {
	rng         *rand.Rand
	maxAttempts int
	attempts    uint64
}

// New：使用给定随机源构建抽样器；maxAttempts <= 0 时使用 DefaultMaxAttempts
func New(rng *rand.Rand, maxAttempts int) *Sampler {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Sampler{rng: rng, maxAttempts: maxAttempts}
}

// NewSeeded：固定种子构建，结果可复现
func NewSeeded(seed uint64, maxAttempts int) *Sampler {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), maxAttempts)
}

// NewRandom：从系统熵源取种子构建，供并行工作协程使用独立随机流
func NewRandom(maxAttempts int) *Sampler {
	var b [16]byte
	_, _ = crand.Read(b[:])
	return New(rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:]))), maxAttempts)
}

// MaxAttempts：单点最大尝试次数
func (s *Sampler) MaxAttempts() int { return s.maxAttempts }

// Attempts：累计抽取次数（含被拒绝的），用于统计平均接受率
func (s *Sampler) Attempts() uint64 { return s.attempts }

// Sample：在几何内均匀抽取一个点
// 背景：在包围盒内独立均匀抽取 (x, y)，首个满足 Contains 的点即为结果，得到面积均匀分布。
// 返回：超过最大尝试次数时返回 ErrSamplingTimeout，调用方丢弃该点并计数。
func (s *Sampler) Sample(shape *Shape) (Point, error) {
	b := shape.Bounds
	w, h := b.Width(), b.Height()
	for i := 0; i < s.maxAttempts; i++ {
		s.attempts++
		pt := Point{Lon: b.MinLon + s.rng.Float64()*w, Lat: b.MinLat + s.rng.Float64()*h}
		if shape.Contains(pt) {
			return pt, nil
		}
	}
	return Point{}, ErrSamplingTimeout
}
