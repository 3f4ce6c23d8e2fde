// 包 store：PostgreSQL 统计存储，记录已返回的时区偏移次数
package store

import (
	"context"
	"database/sql"

	"tz-api/internal/logger"

	_ "github.com/lib/pq"
)

// Store：数据库访问入口，持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Close：关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// RecordOffset：成功响应后递增总计与当日（时区、偏移）计数
// 约束：在同一事务中写入两张表，失败整体回滚
func (s *Store) RecordOffset(ctx context.Context, timeZone string, offset int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, "UPDATE _tz_stats_total SET total_queries=total_queries+1 WHERE id=1"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _tz_stats_daily(day, time_zone, offset_seconds, queries)
        VALUES(current_date, $1, $2, 1)
        ON CONFLICT (day, time_zone, offset_seconds) DO UPDATE SET queries=_tz_stats_daily.queries+1`, timeZone, offset); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Debug("stats_incr", "tz", timeZone, "offset", offset)
	return nil
}

// Totals：累计与当日查询次数
type Totals struct {
	Total int64
	Today int64
}

// GetTotals：读取累计与当日查询次数
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	if err := s.db.QueryRowContext(ctx, "SELECT total_queries FROM _tz_stats_total WHERE id=1").Scan(&t.Total); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(queries), 0) FROM _tz_stats_daily WHERE day=current_date").Scan(&t.Today); err != nil {
		return nil, err
	}
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return &t, nil
}
