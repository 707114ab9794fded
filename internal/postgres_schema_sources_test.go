package internal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lychee-technology/metaeditor"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchemaSourcesFromPostgres(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"name", "source_uri", "local_path"}).
		AddRow("datacite", "https://example.org/schemas/datacite-schema.json", "").
		AddRow("timeseries", "https://example.org/schemas/timeseries-schema.json", "/srv/schemas/ts.json")
	mock.ExpectQuery(`SELECT name, COALESCE\(source_uri, ''\), COALESCE\(local_path, ''\) FROM "public"."schema_sources" ORDER BY name`).
		WillReturnRows(rows)

	docs, err := LoadSchemaSourcesFromPostgres(context.Background(), mock, "public.schema_sources", "schemas")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "datacite", docs[0].Name)
	assert.Equal(t, filepath.Join("schemas", "datacite-schema.json"), docs[0].LocalPath)
	assert.Equal(t, "/srv/schemas/ts.json", docs[1].LocalPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSchemaSourcesFromPostgres_Errors(t *testing.T) {
	t.Run("query fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .*`).WillReturnError(errors.New("relation does not exist"))
		_, err = LoadSchemaSourcesFromPostgres(context.Background(), mock, "schema_sources", "schemas")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "relation does not exist")
	})

	t.Run("empty table", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .*`).WillReturnRows(pgxmock.NewRows([]string{"name", "source_uri", "local_path"}))
		_, err = LoadSchemaSourcesFromPostgres(context.Background(), mock, "schema_sources", "schemas")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no schema sources found")
	})
}

func TestEnsureSchemaSourceTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "schema_sources" \(`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCommit()

	require.NoError(t, EnsureSchemaSourceTable(context.Background(), mock, "schema_sources"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterSchemaSources(t *testing.T) {
	docs := []metaeditor.SchemaDocument{
		{Name: "datacite", SourceURI: "s3://editor-schemas/datacite-schema.json"},
		{Name: "timeseries", SourceURI: "https://example.org/schemas/timeseries-schema.json", LocalPath: "/srv/ts.json"},
	}

	t.Run("upserts in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "schema_sources" \(name, source_uri, local_path\)`).
			WithArgs("datacite", "s3://editor-schemas/datacite-schema.json", "").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`ON CONFLICT \(name\) DO UPDATE`).
			WithArgs("timeseries", "https://example.org/schemas/timeseries-schema.json", "/srv/ts.json").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		n, err := RegisterSchemaSources(context.Background(), mock, "schema_sources", docs)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`INSERT INTO`).WillReturnError(errors.New("permission denied"))
		mock.ExpectRollback()

		n, err := RegisterSchemaSources(context.Background(), mock, "schema_sources", docs)
		require.Error(t, err)
		assert.Zero(t, n)
		assert.Contains(t, err.Error(), "register schema source timeseries")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects incomplete entries before writing", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = RegisterSchemaSources(context.Background(), mock, "schema_sources", []metaeditor.SchemaDocument{{Name: "survey"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "needs a source uri or a local path")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRemoveSchemaSource(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "schema_sources" WHERE name = \$1`).WithArgs("survey").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	removed, err := RemoveSchemaSource(context.Background(), mock, "schema_sources", "survey")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
