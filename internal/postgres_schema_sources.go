package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/metaeditor"
)

// SourceQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgxmock pools.
type SourceQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LoadSchemaSourcesFromPostgres reads registry entries from a table with the
// columns name, source_uri and local_path. Empty local paths default to
// schemaDir joined with the last element of the source URI.
func LoadSchemaSourcesFromPostgres(ctx context.Context, q SourceQuerier, table, schemaDir string) ([]metaeditor.SchemaDocument, error) {
	query := fmt.Sprintf(
		"SELECT name, COALESCE(source_uri, ''), COALESCE(local_path, '') FROM %s ORDER BY name",
		sanitizeIdentifier(table))
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema source table: %w", err)
	}
	defer rows.Close()

	var docs []metaeditor.SchemaDocument
	for rows.Next() {
		var name, source, localPath string
		if err := rows.Scan(&name, &source, &localPath); err != nil {
			return nil, fmt.Errorf("failed to scan schema source row: %w", err)
		}
		docs = append(docs, metaeditor.SchemaDocument{
			Name:      name,
			SourceURI: source,
			LocalPath: metaeditor.DefaultLocalPath(schemaDir, source, localPath),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schema source rows: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no schema sources found in table: %s", table)
	}
	return docs, nil
}

// SourceStore is a SourceQuerier that can also open transactions.
// *pgxpool.Pool and pgxmock pools satisfy it.
type SourceStore interface {
	SourceQuerier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EnsureSchemaSourceTable creates the schema source table when it is missing.
func EnsureSchemaSourceTable(ctx context.Context, store SourceStore, table string) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	name          TEXT PRIMARY KEY,
	source_uri    TEXT,
	local_path    TEXT,
	registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, sanitizeIdentifier(table))

	return withSourceTx(ctx, store, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema source table: %w", err)
		}
		return nil
	})
}

// RegisterSchemaSources upserts docs by name in a single transaction and
// returns the number of rows written. Empty source URIs and local paths are
// stored as NULL so that the loader applies its defaults.
func RegisterSchemaSources(ctx context.Context, store SourceStore, table string, docs []metaeditor.SchemaDocument) (int64, error) {
	stmt := fmt.Sprintf(`INSERT INTO %s (name, source_uri, local_path) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
ON CONFLICT (name) DO UPDATE SET source_uri = EXCLUDED.source_uri, local_path = EXCLUDED.local_path, registered_at = now()`,
		sanitizeIdentifier(table))

	for _, d := range docs {
		if d.Name == "" {
			return 0, fmt.Errorf("schema source without a name (source %q)", d.SourceURI)
		}
		if d.SourceURI == "" && d.LocalPath == "" {
			return 0, fmt.Errorf("schema source %q needs a source uri or a local path", d.Name)
		}
	}

	var written int64
	err := withSourceTx(ctx, store, func(tx pgx.Tx) error {
		for _, d := range docs {
			tag, err := tx.Exec(ctx, stmt, d.Name, d.SourceURI, d.LocalPath)
			if err != nil {
				return fmt.Errorf("register schema source %s: %w", d.Name, err)
			}
			written += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// RemoveSchemaSource deletes one entry and reports whether it existed.
func RemoveSchemaSource(ctx context.Context, store SourceStore, table, name string) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE name = $1", sanitizeIdentifier(table))
	var removed bool
	err := withSourceTx(ctx, store, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt, name)
		if err != nil {
			return fmt.Errorf("remove schema source %s: %w", name, err)
		}
		removed = tag.RowsAffected() > 0
		return nil
	})
	return removed, err
}

func withSourceTx(ctx context.Context, store SourceStore, fn func(pgx.Tx) error) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
