package internal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/metaeditor"
	"go.uber.org/zap"
)

// GoModelGenerator writes one Go file of model types per schema document.
// Files for the same output directory share a package and a models_index.json,
// so a generator instance must not run concurrently with another on that directory.
type GoModelGenerator struct {
	registry   metaeditor.SchemaRegistry
	cfg        metaeditor.GeneratorConfig
	validation metaeditor.ValidationOptions
}

var _ metaeditor.ModelGenerator = (*GoModelGenerator)(nil)

func NewGoModelGenerator(registry metaeditor.SchemaRegistry, cfg metaeditor.GeneratorConfig, validation metaeditor.ValidationOptions) *GoModelGenerator {
	return &GoModelGenerator{registry: registry, cfg: cfg, validation: validation}
}

// Generate resolves the schema and writes <output_dir>/<schema>.go.
func (g *GoModelGenerator) Generate(ctx context.Context, name string) (*metaeditor.ModelModule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	started := time.Now()

	doc, err := g.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := g.registry.CheckResolvable(name); err != nil {
		return nil, inputError(name, doc.LocalPath, err)
	}
	resolved, err := g.registry.Resolve(name)
	if err != nil {
		return nil, inputError(name, doc.LocalPath, err)
	}

	schemaJSON, err := json.Marshal(stripDefNames(resolved))
	if err != nil {
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "", "encode resolved schema").WithCause(err)
	}
	fileName := snakeCase(name) + ".go"
	idx, err := loadModelIndex(g.cfg.OutputDir)
	if err != nil {
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "", "load model index").WithCause(err)
	}

	builder := newModelBuilder(name, g.cfg.ReuseModels, g.cfg.UseSchemaDescription, idx.without(fileName))
	root, err := builder.build(resolved, pascalCase(name))
	if err != nil {
		var failure *generationFailure
		if errors.As(err, &failure) {
			return nil, metaeditor.NewGenerationError(name, doc.LocalPath, failure.keyPath, failure.message)
		}
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "", err.Error())
	}
	// The embedded schema must compile, or the generated Validate would always fail.
	if _, err := metaeditor.CompileSchema(name, schemaJSON, g.validation); err != nil {
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "", "schema is not a valid JSON Schema").WithCause(err)
	}

	source, err := renderModelFile(modelFileData{
		SourceFile:   filepath.Base(doc.LocalPath),
		BuildTag:     buildTag(g.cfg.TargetVersion),
		Package:      g.cfg.Package,
		Imports:      modelImports(builder.decls, g.cfg.BaseImport, g.cfg.BaseClass),
		Schema:       name,
		SchemaVar:    root.Name + "SchemaJSON",
		SchemaJSON:   string(schemaJSON),
		Decls:        builder.decls,
		Root:         root.Name,
		RootIsStruct: root.Kind == declStruct,
		BaseFunc:     g.cfg.BaseClass,
	})
	if err != nil {
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "", err.Error())
	}

	outputPath := filepath.Join(g.cfg.OutputDir, fileName)
	if err := writeFileAtomic(outputPath, source); err != nil {
		return nil, metaeditor.NewInternalError("write "+outputPath, err)
	}
	idx.merge(fileName, builder.entries(fileName))
	if err := idx.write(g.cfg.OutputDir); err != nil {
		return nil, metaeditor.NewInternalError("write model index", err)
	}

	zap.S().Infow("generated models",
		"run", runID,
		"schema", name,
		"output", outputPath,
		"types", len(builder.decls),
		"reused", len(builder.reused),
		"elapsed", time.Since(started))

	return &metaeditor.ModelModule{
		SchemaName: name,
		SourceFile: doc.LocalPath,
		OutputPath: outputPath,
		Package:    g.cfg.Package,
		RootType:   root.Name,
		Types:      builder.typeNames(),
		Reused:     builder.reused,
		Source:     source,
	}, nil
}

// inputError reports an unparsable document as a generation failure. Reference
// and lookup errors pass through unchanged.
func inputError(name, file string, err error) error {
	var e *metaeditor.MetaEditorError
	if errors.As(err, &e) && e.Code == metaeditor.ErrCodeSchemaInvalid {
		msg := e.Message
		if f, ok := e.Details["file"].(string); ok {
			file = f
			msg = strings.TrimPrefix(msg, f+": ")
		}
		return metaeditor.NewGenerationError(name, file, e.Field, msg).WithCause(err)
	}
	return err
}

// stripDefNames drops the definition names the inliner records.
func stripDefNames(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if key == defNameKey {
				continue
			}
			if schemaMapKeywords[key] {
				if props, ok := val.(map[string]any); ok {
					m := make(map[string]any, len(props))
					for name, sub := range props {
						m[name] = stripDefNames(sub)
					}
					out[key] = m
					continue
				}
			}
			out[key] = stripDefNames(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = stripDefNames(item)
		}
		return out
	default:
		return node
	}
}
