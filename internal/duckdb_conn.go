package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/lychee-technology/metaeditor"
	"go.uber.org/zap"
)

// InventoryStore keeps a queryable field inventory of schema documents in DuckDB.
type InventoryStore struct {
	DB    *sql.DB
	table string
}

// OpenInventoryStore opens (or creates) the DuckDB database at cfg.DBPath and
// makes sure the inventory table exists. An empty path opens an in-memory database.
func OpenInventoryStore(ctx context.Context, cfg metaeditor.InventoryConfig) (*InventoryStore, error) {
	dsn := cfg.DBPath
	if dsn == "" {
		dsn = ":memory:"
	}
	table := cfg.Table
	if table == "" {
		table = "schema_fields"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	// A single connection keeps an in-memory database visible to every query.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	s := &InventoryStore{DB: db, table: sanitizeIdentifier(table)}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *InventoryStore) ensureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	schema_name VARCHAR NOT NULL,
	path VARCHAR NOT NULL,
	name VARCHAR NOT NULL,
	types VARCHAR,
	format VARCHAR,
	enum_values VARCHAR,
	required BOOLEAN,
	uri_named BOOLEAN,
	exported_at TIMESTAMP
);`, s.table)
	if _, err := s.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create inventory table: %w", err)
	}
	return nil
}

// Close closes the underlying DuckDB DB.
func (s *InventoryStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// HealthCheck runs a trivial query against the database.
func (s *InventoryStore) HealthCheck(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("inventory store not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var v int
	if err := s.DB.QueryRowContext(ctx, "SELECT 1;").Scan(&v); err != nil {
		return fmt.Errorf("duckdb health query failed: %w", err)
	}
	if v != 1 {
		return fmt.Errorf("unexpected duckdb health result: %d", v)
	}
	return nil
}

// ExportInventory replaces the rows of every schema present in fields and
// returns the number of rows written.
func (s *InventoryStore) ExportInventory(ctx context.Context, fields []metaeditor.SchemaField) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin inventory export: %w", err)
	}
	defer tx.Rollback()

	cleared := map[string]bool{}
	for _, f := range fields {
		if cleared[f.Schema] {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE schema_name = ?", s.table), f.Schema); err != nil {
			return 0, fmt.Errorf("clear inventory of %s: %w", f.Schema, err)
		}
		cleared[f.Schema] = true
	}

	insert := fmt.Sprintf(`INSERT INTO %s
	(schema_name, path, name, types, format, enum_values, required, uri_named, exported_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	now := time.Now().UTC()
	for _, f := range fields {
		var enum any
		if len(f.Enum) > 0 {
			b, err := json.Marshal(f.Enum)
			if err != nil {
				return 0, fmt.Errorf("encode enum of %s: %w", f.Path, err)
			}
			enum = string(b)
		}
		if _, err := tx.ExecContext(ctx, insert,
			f.Schema, f.Path, f.Name, strings.Join(f.Types, ","), nullString(f.Format), enum,
			f.Required, f.URINamed, now); err != nil {
			return 0, fmt.Errorf("insert inventory row %s.%s: %w", f.Schema, f.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit inventory export: %w", err)
	}

	zap.S().Infow("exported schema inventory", "rows", len(fields), "schemas", len(cleared))
	return len(fields), nil
}

// Fields reads back the inventory of one schema, or of every schema when
// schema is empty, ordered by schema and path.
func (s *InventoryStore) Fields(ctx context.Context, schema string) ([]metaeditor.SchemaField, error) {
	query := fmt.Sprintf(`SELECT schema_name, path, name, COALESCE(types, ''), COALESCE(format, ''),
	COALESCE(enum_values, ''), required, uri_named FROM %s`, s.table)
	var args []any
	if schema != "" {
		query += " WHERE schema_name = ?"
		args = append(args, schema)
	}
	query += " ORDER BY schema_name, path"
	return s.scanFields(ctx, query, args...)
}

// URIFieldsWithoutFormat lists URI-named string fields that declare no format.
func (s *InventoryStore) URIFieldsWithoutFormat(ctx context.Context) ([]metaeditor.SchemaField, error) {
	query := fmt.Sprintf(`SELECT schema_name, path, name, COALESCE(types, ''), COALESCE(format, ''),
	COALESCE(enum_values, ''), required, uri_named FROM %s
	WHERE uri_named AND format IS NULL AND types = 'string'
	ORDER BY schema_name, path`, s.table)
	return s.scanFields(ctx, query)
}

func (s *InventoryStore) scanFields(ctx context.Context, query string, args ...any) ([]metaeditor.SchemaField, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var fields []metaeditor.SchemaField
	for rows.Next() {
		var (
			f            metaeditor.SchemaField
			types, enum  string
			req, uriName sql.NullBool
		)
		if err := rows.Scan(&f.Schema, &f.Path, &f.Name, &types, &f.Format, &enum, &req, &uriName); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		if types != "" {
			f.Types = strings.Split(types, ",")
		}
		if enum != "" {
			if err := json.Unmarshal([]byte(enum), &f.Enum); err != nil {
				return nil, fmt.Errorf("decode enum of %s: %w", f.Path, err)
			}
		}
		f.Required = req.Bool
		f.URINamed = uriName.Bool
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating inventory rows: %w", err)
	}
	return fields, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
