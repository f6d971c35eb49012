// 包 sink：记录写出目标（PostgreSQL COPY、Redis 瓦片计数、组合与空写出）
package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/lib/pq"

	"dotmap/internal/alloc"
	"dotmap/internal/logger"
)

// DefaultTable：默认输出表
const DefaultTable = "people_by_race"

// Columns：输出表列顺序
var Columns = []string{"region_id", "x", "y", "quadkey", "category"}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidTable：表名仅允许字母、数字与下划线
func ValidTable(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("sink: invalid table name %q", name)
	}
	return nil
}

// Postgres：以 COPY FROM STDIN 批量写入记录
// 背景：每次 Commit 结束当前事务；下一次 Append 重新开启事务并重新准备 COPY 语句。
// 约束：非并发安全，只由单个写协程调用。
type Postgres struct {
	db      *sql.DB
	table   string
	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	total   int64
	log     *slog.Logger
}

func NewPostgres(db *sql.DB, table string) (*Postgres, error) {
	if table == "" {
		table = DefaultTable
	}
	if err := ValidTable(table); err != nil {
		return nil, err
	}
	return &Postgres{db: db, table: table, log: logger.L()}, nil
}

func (p *Postgres) begin(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(p.table, Columns...))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	p.tx, p.stmt = tx, stmt
	return nil
}

func (p *Postgres) Append(ctx context.Context, recs []alloc.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if p.tx == nil {
		if err := p.begin(ctx); err != nil {
			return err
		}
	}
	for _, r := range recs {
		if _, err := p.stmt.ExecContext(ctx, r.RegionID, r.X, r.Y, r.QuadKey, string(r.Code)); err != nil {
			return err
		}
	}
	p.pending += len(recs)
	return nil
}

// Commit：刷出 COPY 缓冲并提交事务；无待写数据时为空操作
func (p *Postgres) Commit(ctx context.Context) error {
	if p.tx == nil {
		return nil
	}
	tx, stmt := p.tx, p.stmt
	p.tx, p.stmt = nil, nil
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return err
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.total += int64(p.pending)
	p.log.Debug("sink_commit", "sink", "postgres", "table", p.table, "rows", p.pending, "total", p.total)
	p.pending = 0
	return nil
}

// Close：回滚未提交的事务；不关闭 db
func (p *Postgres) Close() error {
	if p.tx == nil {
		return nil
	}
	err := errors.Join(p.stmt.Close(), p.tx.Rollback())
	p.tx, p.stmt, p.pending = nil, nil, 0
	return err
}

// Rows：已提交的行数
func (p *Postgres) Rows() int64 { return p.total }

// DeleteRegion：删除某区域已写入的全部记录，返回删除行数
func DeleteRegion(ctx context.Context, db *sql.DB, table, region string) (int64, error) {
	if err := ValidTable(table); err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(table)+" WHERE region_id=$1", region)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
