package utils

import (
	"database/sql"

	"tz-api/internal/config"

	_ "github.com/lib/pq"
)

// OpenPostgres：按配置打开连接池；sql.Open 不建立连接，连通性由调用方 Ping 校验
func OpenPostgres(c config.Postgres) (*sql.DB, error) {
	db, err := sql.Open("postgres", c.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	return db, nil
}
