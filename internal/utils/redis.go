// 包 utils：外部存储连接工具，统一从配置构建 PostgreSQL 与 Redis 客户端
package utils

import (
	"context"

	"github.com/redis/go-redis/v9"

	"dotmap/internal/config"
	"dotmap/internal/logger"
)

// OpenRedis：按配置打开 Redis 客户端
// 约束：未配置 REDIS_HOST 时返回 nil，调用方退回进程内台账且不写瓦片计数
func OpenRedis(ctx context.Context, c config.Redis) (*redis.Client, error) {
	if !c.Enabled() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr(), Password: c.Password, DB: c.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	logger.L().Debug("redis_open", "addr", c.Addr(), "db", c.DB)
	return rdb, nil
}
