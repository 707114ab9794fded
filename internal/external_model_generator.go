package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/metaeditor"
	"go.uber.org/zap"
)

// ExternalModelGenerator delegates generation to a command line generator
// that accepts the datamodel-codegen flag set.
type ExternalModelGenerator struct {
	registry metaeditor.SchemaRegistry
	cfg      metaeditor.GeneratorConfig
	command  []string
}

var _ metaeditor.ModelGenerator = (*ExternalModelGenerator)(nil)

// NewExternalModelGenerator splits cfg.ExternalCommand on whitespace into the
// program and its leading arguments.
func NewExternalModelGenerator(registry metaeditor.SchemaRegistry, cfg metaeditor.GeneratorConfig) (*ExternalModelGenerator, error) {
	command := strings.Fields(cfg.ExternalCommand)
	if len(command) == 0 {
		return nil, fmt.Errorf("external generator command is empty")
	}
	return &ExternalModelGenerator{registry: registry, cfg: cfg, command: command}, nil
}

// Generate runs the command for one schema. The output file is named after the
// schema with the extension of cfg.ExternalOutputExt.
func (g *ExternalModelGenerator) Generate(ctx context.Context, name string) (*metaeditor.ModelModule, error) {
	doc, err := g.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if err := g.registry.CheckResolvable(name); err != nil {
		return nil, inputError(name, doc.LocalPath, err)
	}

	outputPath := filepath.Join(g.cfg.OutputDir, snakeCase(name)+g.outputExt())
	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return nil, metaeditor.NewInternalError("create output directory", err)
	}

	// A file left by an earlier run must not pass for this run's output.
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, metaeditor.NewInternalError("remove previous output", err)
	}

	args := append(append([]string(nil), g.command[1:]...), g.arguments(doc.LocalPath, outputPath)...)
	cmd := exec.CommandContext(ctx, g.command[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runID := uuid.NewString()
	started := time.Now()
	zap.S().Debugw("running external model generator", "run", runID, "schema", name, "command", g.command[0], "args", formatArgs(args))

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "",
				fmt.Sprintf("%s exited with status %d: %s", g.command[0], exitErr.ExitCode(), msg)).
				WithDetail("stderr", stderr.String())
		}
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "", "run "+g.command[0]).WithCause(err)
	}

	source, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, metaeditor.NewGenerationError(name, doc.LocalPath, "",
			g.command[0]+" reported success but wrote no output").WithCause(err)
	}

	zap.S().Infow("generated models",
		"run", runID,
		"schema", name,
		"output", outputPath,
		"backend", "external",
		"elapsed", time.Since(started))

	return &metaeditor.ModelModule{
		SchemaName: name,
		SourceFile: doc.LocalPath,
		OutputPath: outputPath,
		Package:    g.cfg.Package,
		Source:     source,
	}, nil
}

func (g *ExternalModelGenerator) arguments(input, output string) []string {
	args := []string{
		"--input", input,
		"--input-file-type", g.cfg.InputFileType,
		"--output-model-type", g.cfg.OutputModelType,
		"--output", output,
	}
	if g.cfg.ReuseModels {
		args = append(args, "--reuse-model")
	}
	if g.cfg.UseSchemaDescription {
		args = append(args, "--use-schema-description")
	}
	if g.cfg.TargetVersion != "" {
		args = append(args, "--target-python-version", g.cfg.TargetVersion)
	}
	if g.cfg.UseDoubleQuotes {
		args = append(args, "--use-double-quotes")
	}
	if g.cfg.BaseClass != "" {
		args = append(args, "--base-class", g.cfg.BaseClass)
	}
	return args
}

func (g *ExternalModelGenerator) outputExt() string {
	ext := g.cfg.ExternalOutputExt
	if ext == "" {
		return ".py"
	}
	if !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

// formatArgs renders args for log lines and error messages.
func formatArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t\"") {
			quoted[i] = strconv.Quote(a)
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}
