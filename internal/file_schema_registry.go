package internal

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lychee-technology/metaeditor"
	"go.uber.org/zap"
)

// SourceFetcher retrieves raw schema bytes for a source URI or path.
type SourceFetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// RegistryOptions tunes fetching and record compilation.
type RegistryOptions struct {
	// FollowRefs downloads $ref targets that are missing locally.
	FollowRefs bool
	Validation metaeditor.ValidationOptions
}

// FileSchemaRegistry is a SchemaRegistry backed by local schema files.
// The set of documents is fixed at construction; every operation reads the
// file system afresh, so the registry holds no mutable state.
type FileSchemaRegistry struct {
	docs     map[string]metaeditor.SchemaDocument
	names    []string
	byPath   map[string]string // absolute local path -> name
	bySource map[string]string // source URI -> name
	fetcher  SourceFetcher
	opts     RegistryOptions
}

var _ metaeditor.SchemaRegistry = (*FileSchemaRegistry)(nil)

// NewFileSchemaRegistry creates a registry over the given documents.
func NewFileSchemaRegistry(docs []metaeditor.SchemaDocument, fetcher SourceFetcher, opts RegistryOptions) (*FileSchemaRegistry, error) {
	r := &FileSchemaRegistry{
		docs:     make(map[string]metaeditor.SchemaDocument, len(docs)),
		byPath:   make(map[string]string, len(docs)),
		bySource: make(map[string]string, len(docs)),
		fetcher:  fetcher,
		opts:     opts,
	}
	for _, doc := range docs {
		if doc.Name == "" {
			return nil, fmt.Errorf("schema document without a name (source %q)", doc.SourceURI)
		}
		if _, dup := r.docs[doc.Name]; dup {
			return nil, fmt.Errorf("schema %q registered twice", doc.Name)
		}
		if doc.LocalPath == "" {
			return nil, fmt.Errorf("schema %q has no local path", doc.Name)
		}
		abs, err := filepath.Abs(doc.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("resolve local path of %q: %w", doc.Name, err)
		}
		if other, dup := r.byPath[abs]; dup {
			return nil, fmt.Errorf("schemas %q and %q share local path %s", other, doc.Name, doc.LocalPath)
		}
		r.docs[doc.Name] = doc
		r.byPath[abs] = doc.Name
		if doc.SourceURI != "" {
			r.bySource[doc.SourceURI] = doc.Name
		}
		r.names = append(r.names, doc.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// List returns every registered document ordered by name.
func (r *FileSchemaRegistry) List() []metaeditor.SchemaDocument {
	out := make([]metaeditor.SchemaDocument, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.docs[name])
	}
	return out
}

// Get returns the document registered under name.
func (r *FileSchemaRegistry) Get(name string) (metaeditor.SchemaDocument, error) {
	doc, ok := r.docs[name]
	if !ok {
		return metaeditor.SchemaDocument{}, metaeditor.NewSchemaNotFoundError(name)
	}
	return doc, nil
}

// Fetch downloads the document to its local path, then verifies or fetches
// each external $ref target, and finally checks that the document resolves.
func (r *FileSchemaRegistry) Fetch(ctx context.Context, name string) (*metaeditor.FetchResult, error) {
	doc, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if doc.SourceURI == "" {
		return nil, metaeditor.NewFetchError(name, doc.LocalPath, fmt.Errorf("no source configured"))
	}

	n, err := r.download(ctx, name, doc.SourceURI, doc.LocalPath)
	if err != nil {
		return nil, err
	}
	result := &metaeditor.FetchResult{Document: doc, Bytes: n}

	visited := map[string]bool{absPath(doc.LocalPath): true}
	if err := r.followRefs(ctx, doc.SourceURI, doc.LocalPath, result, visited, newDocumentCache()); err != nil {
		return nil, err
	}
	if err := r.CheckResolvable(name); err != nil {
		return nil, err
	}

	zap.S().Infow("fetched schema",
		"schema", name,
		"path", doc.LocalPath,
		"bytes", n,
		"fetchedRefs", len(result.FetchedRefs),
		"verifiedRefs", len(result.VerifiedRef))
	return result, nil
}

// FetchAll fetches every registered document in name order and stops at the first failure.
func (r *FileSchemaRegistry) FetchAll(ctx context.Context) ([]*metaeditor.FetchResult, error) {
	results := make([]*metaeditor.FetchResult, 0, len(r.names))
	for _, name := range r.names {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.Fetch(ctx, name)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *FileSchemaRegistry) download(ctx context.Context, label, source, localPath string) (int, error) {
	if r.fetcher == nil {
		return 0, metaeditor.NewFetchError(label, source, fmt.Errorf("no fetcher configured"))
	}
	data, err := r.fetcher.Fetch(ctx, source)
	if err != nil {
		return 0, metaeditor.NewFetchError(label, source, err)
	}
	if _, err := parseSchemaBytes(localPath, data); err != nil {
		return 0, metaeditor.NewSchemaInvalidError(label, source, "", "downloaded document is not a schema").WithCause(err)
	}
	if err := writeFileAtomic(localPath, data); err != nil {
		return 0, metaeditor.NewInternalError("store schema "+localPath, err)
	}
	zap.S().Debugw("stored schema document", "schema", label, "path", localPath, "bytes", len(data))
	return len(data), nil
}

func (r *FileSchemaRegistry) followRefs(ctx context.Context, source, localPath string, result *metaeditor.FetchResult, visited map[string]bool, cache *documentCache) error {
	doc, err := cache.load(localPath)
	if err != nil {
		return metaeditor.NewSchemaInvalidError(r.label(localPath), localPath, "", err.Error())
	}
	for _, ref := range collectRefs(doc) {
		if !ref.external() {
			continue
		}
		targetPath, targetSource := r.refTarget(localPath, source, ref.File)
		key := absPath(targetPath)
		if visited[key] {
			continue
		}
		visited[key] = true

		if fileExists(targetPath) {
			result.VerifiedRef = append(result.VerifiedRef, targetPath)
		} else {
			if !r.opts.FollowRefs || targetSource == "" {
				return r.unresolved(localPath, targetPath, ref)
			}
			if _, err := r.download(ctx, r.label(targetPath), targetSource, targetPath); err != nil {
				return r.unresolved(localPath, targetPath, ref).WithCause(err)
			}
			result.FetchedRefs = append(result.FetchedRefs, targetPath)
		}
		if err := r.followRefs(ctx, targetSource, targetPath, result, visited, cache); err != nil {
			return err
		}
	}
	return nil
}

// CheckResolvable verifies, without network access, that every $ref reachable
// from the document points at a local file and an existing JSON pointer.
func (r *FileSchemaRegistry) CheckResolvable(name string) error {
	doc, err := r.Get(name)
	if err != nil {
		return err
	}
	if !fileExists(doc.LocalPath) {
		return metaeditor.NewMetaEditorError(metaeditor.ErrorTypeNotFound, metaeditor.ErrCodeSchemaNotFound,
			"local copy not found at "+doc.LocalPath+"; fetch it first").WithSchema(name)
	}
	visited := map[string]bool{absPath(doc.LocalPath): true}
	return r.checkDocument(doc.LocalPath, newDocumentCache(), visited)
}

func (r *FileSchemaRegistry) checkDocument(localPath string, cache *documentCache, visited map[string]bool) error {
	doc, err := cache.load(localPath)
	if err != nil {
		return metaeditor.NewSchemaInvalidError(r.label(localPath), localPath, "", err.Error())
	}
	for _, ref := range collectRefs(doc) {
		target, targetPath := doc, localPath
		if ref.external() {
			targetPath, _ = r.refTarget(localPath, "", ref.File)
			if !fileExists(targetPath) {
				return r.unresolved(localPath, targetPath, ref)
			}
			if target, err = cache.load(targetPath); err != nil {
				return metaeditor.NewSchemaInvalidError(r.label(targetPath), targetPath, "", err.Error())
			}
			if !visited[absPath(targetPath)] {
				visited[absPath(targetPath)] = true
				if err := r.checkDocument(targetPath, cache, visited); err != nil {
					return err
				}
			}
		}
		if _, err := resolveJSONPointer(target, ref.Pointer); err != nil {
			return metaeditor.NewUnresolvedReferenceError(r.label(localPath), r.label(targetPath)+"#"+ref.Pointer, ref.Ref, ref.KeyPath).
				WithCause(err)
		}
	}
	return nil
}

// Resolve returns the document with every $ref inlined.
func (r *FileSchemaRegistry) Resolve(name string) (map[string]any, error) {
	doc, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := r.CheckResolvable(name); err != nil {
		return nil, err
	}
	inliner := newSchemaInliner(r, name, newDocumentCache())
	return inliner.inlineFile(doc.LocalPath)
}

// RecordSchema compiles the resolved document for record validation.
func (r *FileSchemaRegistry) RecordSchema(name string) (metaeditor.RecordSchema, error) {
	resolved, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return metaeditor.CompileSchema(name, resolved, r.opts.Validation)
}

// refTarget maps the file part of a $ref found in currentPath to a local path
// and, when known, the URI it can be downloaded from.
func (r *FileSchemaRegistry) refTarget(currentPath, currentSource, file string) (string, string) {
	if u, err := url.Parse(file); err == nil && u.IsAbs() && len(u.Scheme) > 1 {
		if name, ok := r.bySource[u.String()]; ok {
			return r.docs[name].LocalPath, r.docs[name].SourceURI
		}
		return remoteRefPath(filepath.Dir(currentPath), u), u.String()
	}

	target := filepath.Join(filepath.Dir(currentPath), filepath.FromSlash(file))
	if name, ok := r.byPath[absPath(target)]; ok {
		return r.docs[name].LocalPath, r.docs[name].SourceURI
	}
	var source string
	if currentSource != "" {
		base, err1 := url.Parse(currentSource)
		rel, err2 := url.Parse(file)
		if err1 == nil && err2 == nil {
			source = base.ResolveReference(rel).String()
		}
	}
	return target, source
}

// remoteRefPath mirrors an absolute URL under dir/_refs/<host>/<path>, so
// distinct URLs never share a local file and relative refs inside the copy
// resolve against the same layout.
func remoteRefPath(dir string, u *url.URL) string {
	host := strings.NewReplacer(":", "_", "@", "_").Replace(u.Host)
	if host == "" {
		host = u.Scheme
	}
	p := strings.TrimPrefix(path.Clean("/"+u.Path), "/")
	if p == "" || strings.HasSuffix(u.Path, "/") {
		p = path.Join(p, "index.json")
	}
	return filepath.Join(dir, remoteRefDir, host, filepath.FromSlash(p))
}

const remoteRefDir = "_refs"

// label names a local file by its registry name when it has one.
func (r *FileSchemaRegistry) label(localPath string) string {
	if name, ok := r.byPath[absPath(localPath)]; ok {
		return name
	}
	return localPath
}

func (r *FileSchemaRegistry) unresolved(referencingPath, missingPath string, ref schemaRef) *metaeditor.MetaEditorError {
	return metaeditor.NewUnresolvedReferenceError(r.label(referencingPath), r.label(missingPath), ref.Ref, ref.KeyPath).
		WithDetail("missing_path", missingPath)
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return abs
}
