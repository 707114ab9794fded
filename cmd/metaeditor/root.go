package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/lychee-technology/metaeditor"
	"github.com/lychee-technology/metaeditor/factory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions carries the persistent flags and the loaded configuration.
type rootOptions struct {
	configPath string
	verbose    bool
	cfg        *metaeditor.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "metaeditor",
		Short: "Schema registry, model generator and API client for the Metadata Editor",
		Long: color.CyanString(`metaeditor manages the JSON Schema documents published by the
World Bank Metadata Editor, generates Go models from them, validates metadata
records and talks to the editor API.

Configuration is read from ./metaeditor.yaml (or --config) and METAEDITOR_*
environment variables, e.g. METAEDITOR_EDITOR_API_KEY.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging, opts.verbose)
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default ./metaeditor.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newSchemasCommand(opts))
	cmd.AddCommand(newGenerateCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newLintCommand(opts))
	cmd.AddCommand(newDuplicatesCommand(opts))
	cmd.AddCommand(newInventoryCommand(opts))
	cmd.AddCommand(newProjectsCommand(opts))
	cmd.AddCommand(newSourcesCommand(opts))
	cmd.AddCommand(newDoctorCommand(opts))
	return cmd
}

func (o *rootOptions) registry(ctx context.Context) (metaeditor.SchemaRegistry, error) {
	return factory.NewSchemaRegistry(ctx, o.cfg)
}

// schemaNames returns args, or every registered name when args is empty.
func schemaNames(registry metaeditor.SchemaRegistry, args []string) []string {
	if len(args) > 0 {
		return args
	}
	docs := registry.List()
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	warnMark = color.New(color.FgYellow).Sprint("!")
)

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", okMark, fmt.Sprintf(format, args...))
}

func printFail(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", failMark, fmt.Sprintf(format, args...))
}

func printWarn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", warnMark, fmt.Sprintf(format, args...))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

// failures summarises per-item errors after a command has reported each one.
func failures(n int, what string) error {
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%d %s failed", n, what)
}
