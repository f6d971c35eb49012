package utils

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"dotmap/internal/config"
	"dotmap/internal/logger"
)

// OpenPostgres：按配置打开连接池并做一次连通性检查
// 约束：写入只由单个写协程完成，连接数保持较小
func OpenPostgres(ctx context.Context, c config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.DSN())
	if err != nil {
		return nil, err
	}
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.L().Debug("pg_open", "host", c.Host, "port", c.Port, "db", c.DB)
	return db, nil
}
