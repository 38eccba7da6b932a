package db

import (
	"context"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"

	"github.com/vireopay/merchant-gateway/internal/config"
)

// NewClickHouseConnection opens the usage-ledger analytics store.
func NewClickHouseConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	conn, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}

	applyPool(conn, cfg)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}
