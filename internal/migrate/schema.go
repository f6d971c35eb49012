package migrate

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"dotmap/internal/logger"
)

// 背景：首次运行自动创建输出表与索引，保障后续批量写入与按区域清理
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构；表名由调用方校验
func EnsureSchema(db *sql.DB, table string) error {
	t := pq.QuoteIdentifier(table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            region_id TEXT NOT NULL,
            x DOUBLE PRECISION NOT NULL,
            y DOUBLE PRECISION NOT NULL,
            quadkey TEXT NOT NULL,
            category CHAR(1) NOT NULL
        )`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(region_id)`, pq.QuoteIdentifier("idx_"+table+"_region"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(quadkey text_pattern_ops)`, pq.QuoteIdentifier("idx_"+table+"_quadkey"), t),
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i, "table", table)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done", "table", table)
	return nil
}
