package migrate

import (
	"database/sql"

	"tz-api/internal/logger"
)

// 背景：首次启用统计时自动建表，保障后续计数写入
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _tz_stats_total (
            id INT PRIMARY KEY,
            total_queries BIGINT NOT NULL DEFAULT 0
        )`,
		`INSERT INTO _tz_stats_total(id, total_queries)
         VALUES(1, 0)
         ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS _tz_stats_daily (
            day DATE NOT NULL,
            time_zone TEXT NOT NULL,
            offset_seconds INT NOT NULL,
            queries BIGINT NOT NULL DEFAULT 0,
            PRIMARY KEY (day, time_zone, offset_seconds)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_tz_stats_daily_zone ON _tz_stats_daily(time_zone)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
