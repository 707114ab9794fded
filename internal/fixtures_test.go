package internal

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lychee-technology/metaeditor"
	"github.com/stretchr/testify/require"
)

// Trimmed-down versions of the editor's timeseries and datacite schemas.
const timeseriesSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"$id": "https://example.org/timeseries-schema.json",
	"title": "Timeseries",
	"description": "Schema for timeseries metadata",
	"type": "object",
	"required": ["idno", "series_description"],
	"properties": {
		"idno": {"type": "string", "description": "Project unique identifier"},
		"series_description": {"$ref": "#/definitions/series_description"},
		"datacite": {"$ref": "datacite-schema.json", "description": "DataCite metadata"},
		"contacts": {
			"type": "array",
			"items": {"$ref": "#/definitions/contact"}
		}
	},
	"definitions": {
		"series_description": {
			"type": "object",
			"required": ["idno", "name"],
			"properties": {
				"idno": {"type": "string"},
				"name": {"type": "string"},
				"definition_references": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["uri"],
						"properties": {
							"source": {"type": "string"},
							"uri": {"type": "string", "format": "uri"}
						}
					}
				}
			}
		},
		"contact": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"email": {"type": "string"},
				"uri": {"type": "string"}
			}
		}
	}
}`

const dataciteSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "DataCite",
	"type": "object",
	"properties": {
		"doi": {"type": "string"},
		"creators": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"nameType": {"type": "string", "enum": ["Personal", "Organizational"]}
				}
			}
		},
		"types": {
			"type": "object",
			"properties": {
				"resourceTypeGeneral": {"type": "string", "enum": ["Dataset", "Software", "Text", "Other"]}
			}
		}
	}
}`

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (c *hitCounter) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits[path]++
}

func (c *hitCounter) get(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

// schemaServer serves the given files and counts requests per path.
func schemaServer(t *testing.T, files map[string]string) (*httptest.Server, *hitCounter) {
	t.Helper()
	hits := &hitCounter{hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.add(r.URL.Path)
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func writeSchemaFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newHTTPRegistry(t *testing.T, dir, baseURL string, followRefs bool) *FileSchemaRegistry {
	t.Helper()
	docs := []metaeditor.SchemaDocument{
		{Name: "timeseries", SourceURI: baseURL + "/schemas/timeseries-schema.json", LocalPath: filepath.Join(dir, "timeseries-schema.json")},
		{Name: "datacite", SourceURI: baseURL + "/schemas/datacite-schema.json", LocalPath: filepath.Join(dir, "datacite-schema.json")},
	}
	fetchers := FetcherSet{
		"http":  NewHTTPSchemaFetcher(5*time.Second, "metaeditor-test"),
		"https": NewHTTPSchemaFetcher(5*time.Second, "metaeditor-test"),
		"file":  FileSchemaFetcher{},
	}
	reg, err := NewFileSchemaRegistry(docs, fetchers, RegistryOptions{
		FollowRefs: followRefs,
		Validation: metaeditor.DefaultValidationOptions(),
	})
	require.NoError(t, err)
	return reg
}
