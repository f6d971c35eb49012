// 包 alloc：把街区各类别人数展开为逐人的点记录，并驱动 读取 → 抽样投影 → 写出 的流水线
// 背景：单个要素的展开由 Driver 完成，无跨要素状态；Run 负责并行调度、批量提交与进度统计。
// 约束：Sink 只由单个写协程访问；写出失败为致命错误，整个运行中止。
package alloc

import (
	"context"
	"errors"
)

var (
	ErrSinkWrite          = errors.New("alloc: sink write failed")
	ErrSystemicProjection = errors.New("alloc: systemic projection failure")
)

// Record：一条输出记录，对应一个人
// 约束：X/Y 为球面墨卡托米坐标；QuadKey 长度等于配置缩放级别；写出后不可变
type Record struct {
	RegionID string
	X        float64
	Y        float64
	QuadKey  string
	Code     byte
}

// Sink：记录写出目标
// 约束：Append 可缓冲，Commit 之后的数据须持久；Close 不隐含 Commit
type Sink interface {
	Append(ctx context.Context, recs []Record) error
	Commit(ctx context.Context) error
	Close() error
}
