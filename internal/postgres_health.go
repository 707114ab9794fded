package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/metaeditor"
)

// ValidateSourcesConfig checks the schema source table settings before any connection is made.
func ValidateSourcesConfig(cfg metaeditor.SourcesConfig) error {
	if cfg.DatabaseURL == "" {
		return nil
	}
	if cfg.Table == "" {
		return fmt.Errorf("sources.table is required when sources.database_url is set")
	}
	if _, err := pgxpool.ParseConfig(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("parse sources.database_url: %w", err)
	}
	return nil
}

// SchemaSourceHealthCheck connects to the schema source database and returns
// the number of registered sources. timeout may be 0 to use 5s.
func SchemaSourceHealthCheck(ctx context.Context, cfg metaeditor.SourcesConfig, timeout time.Duration) (int, error) {
	if err := ValidateSourcesConfig(cfg); err != nil {
		return 0, err
	}
	if cfg.DatabaseURL == "" {
		return 0, fmt.Errorf("sources.database_url is not configured")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return 0, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return 0, fmt.Errorf("postgres ping failed: %w", err)
	}
	return CountSchemaSources(ctx, pool, cfg.Table)
}

// CountSchemaSources returns the number of rows in the schema source table.
func CountSchemaSources(ctx context.Context, q SourceQuerier, table string) (int, error) {
	rows, err := q.Query(ctx, fmt.Sprintf("SELECT count(*) FROM %s", sanitizeIdentifier(table)))
	if err != nil {
		return 0, fmt.Errorf("count schema sources: %w", err)
	}
	defer rows.Close()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("count schema sources: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("count schema sources: %w", err)
	}
	return int(n), nil
}
