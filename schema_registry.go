package metaeditor

import (
	"context"
)

// SchemaRegistry tracks the schema documents, their remote sources and local copies.
type SchemaRegistry interface {
	// List returns every registered document ordered by name.
	List() []SchemaDocument
	// Get returns the document registered under name.
	Get(name string) (SchemaDocument, error)
	// Fetch downloads the document and any missing $ref targets to local storage.
	Fetch(ctx context.Context, name string) (*FetchResult, error)
	// FetchAll fetches every registered document.
	FetchAll(ctx context.Context) ([]*FetchResult, error)
	// CheckResolvable verifies that every $ref reachable from the document resolves locally.
	CheckResolvable(name string) error
	// Resolve returns the document with every $ref inlined.
	Resolve(name string) (map[string]any, error)
	// RecordSchema compiles the resolved document for record validation.
	RecordSchema(name string) (RecordSchema, error)
}

// ModelGenerator turns one resolvable schema document into one generated model module.
type ModelGenerator interface {
	Generate(ctx context.Context, name string) (*ModelModule, error)
}

// RecordSchema validates instances of a single schema.
type RecordSchema interface {
	Name() string
	// Validate returns a *MetaEditorError listing every violation, or nil.
	Validate(instance any) error
}

// EditorClient talks to the Metadata Editor API.
type EditorClient interface {
	Ping(ctx context.Context) error
	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	CreateProject(ctx context.Context, projectType ProjectType, record *Record) (map[string]any, error)
	UpdateProject(ctx context.Context, projectType ProjectType, id string, updates map[string]any) (*Record, error)
	DeleteProject(ctx context.Context, id string) error
}
