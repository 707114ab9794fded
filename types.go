package metaeditor

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// SchemaDocument identifies one JSON Schema document known to the registry.
type SchemaDocument struct {
	Name      string `json:"name"`
	SourceURI string `json:"source_uri"`
	LocalPath string `json:"local_path"`
}

// FetchResult describes what a registry fetch wrote to disk.
type FetchResult struct {
	Document    SchemaDocument `json:"document"`
	Bytes       int            `json:"bytes"`
	FetchedRefs []string       `json:"fetched_refs,omitempty"`
	VerifiedRef []string       `json:"verified_refs,omitempty"`
}

// SchemaField is one property of a resolved schema, addressed by a dotted path.
// Array items are addressed with "[]".
type SchemaField struct {
	Schema   string   `json:"schema"`
	Path     string   `json:"path"`
	Name     string   `json:"name"`
	Types    []string `json:"types"`
	Format   string   `json:"format,omitempty"`
	Enum     []any    `json:"enum,omitempty"`
	Required bool     `json:"required"`
	// URINamed marks fields whose name suggests a URI value.
	URINamed bool `json:"uri_named"`
}

// ModelModule is the output of one generator run.
type ModelModule struct {
	SchemaName string   `json:"schema_name"`
	SourceFile string   `json:"source_file"`
	OutputPath string   `json:"output_path"`
	Package    string   `json:"package"`
	RootType   string   `json:"root_type"`
	Types      []string `json:"types"`
	Reused     []string `json:"reused,omitempty"`
	Source     []byte   `json:"-"`
}

// ProjectType names the kinds of projects the editor stores.
type ProjectType string

const (
	ProjectTypeTimeseries ProjectType = "timeseries"
	ProjectTypeSurvey     ProjectType = "survey"
	ProjectTypeDocument   ProjectType = "document"
	ProjectTypeScript     ProjectType = "script"
	ProjectTypeImage      ProjectType = "image"
	ProjectTypeTable      ProjectType = "table"
	ProjectTypeGeospatial ProjectType = "geospatial"
	ProjectTypeVideo      ProjectType = "video"
)

// ProjectID accepts ids sent either as JSON strings or numbers.
type ProjectID string

func (id *ProjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProjectID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ProjectID(n.String())
	return nil
}

// Project is a record stored in the editor.
type Project struct {
	ID       ProjectID      `json:"id"`
	Type     string         `json:"type,omitempty"`
	Idno     string         `json:"idno,omitempty"`
	Title    string         `json:"title,omitempty"`
	Created  string         `json:"created,omitempty"`
	Changed  string         `json:"changed,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreatedTime parses Created, returning the zero time when it is not RFC 3339.
func (p Project) CreatedTime() time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, p.Created); err == nil {
			return t
		}
	}
	if secs, err := strconv.ParseInt(p.Created, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Time{}
}

// SortProjectsByCreated orders projects oldest first; ties keep their order.
func SortProjectsByCreated(projects []Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		ti, tj := projects[i].CreatedTime(), projects[j].CreatedTime()
		if ti.Equal(tj) {
			return projects[i].Created < projects[j].Created
		}
		return ti.Before(tj)
	})
}

// DuplicateShape is one named object shape found in a schema.
type DuplicateShape struct {
	Schema      string `json:"schema"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
}

// DuplicateGroup is a set of shapes that share either a name or a fingerprint.
type DuplicateGroup struct {
	Key    string           `json:"key"`
	Shapes []DuplicateShape `json:"shapes"`
}

// DuplicationReport lists cross-schema duplication.
// Conflicts share a name but differ in shape. Equivalents share a shape under different names.
type DuplicationReport struct {
	Conflicts   []DuplicateGroup `json:"conflicts"`
	Equivalents []DuplicateGroup `json:"equivalents"`
}

// LintFinding is a schema quality problem that does not block generation.
type LintFinding struct {
	Schema  string `json:"schema"`
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
